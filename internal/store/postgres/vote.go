package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/model"
)

type VoteRepository struct {
	pool *pgxpool.Pool
}

func NewVoteRepository(pool *pgxpool.Pool) *VoteRepository {
	return &VoteRepository{pool: pool}
}

func (r *VoteRepository) List(ctx context.Context, pollID string) ([]model.PollVote, error) {
	defer logger.DeferLogDuration("vote.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, poll_id, username, option_id, created_at FROM poll_votes
		 WHERE poll_id = $1 ORDER BY created_at ASC, id ASC`, pollID)
	if err != nil {
		return nil, fmt.Errorf("voteRepo.List query: %w", err)
	}
	defer rows.Close()

	votes := make([]model.PollVote, 0, 16)
	for rows.Next() {
		var v model.PollVote
		if err := rows.Scan(&v.ID, &v.PollID, &v.Username, &v.OptionID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("voteRepo.List scan: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voteRepo.List rows: %w", err)
	}
	return votes, nil
}

// Upsert inserts the vote or, when a row for (poll_id, username) exists,
// switches that row's option in place. The resulting row is returned along
// with whether it was a fresh insert, so the caller can publish the matching
// feed event kind.
func (r *VoteRepository) Upsert(ctx context.Context, v *model.PollVote) (*model.PollVote, bool, error) {
	defer logger.DeferLogDuration("vote.Upsert", time.Now())()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	out := &model.PollVote{}
	var inserted bool
	err := r.pool.QueryRow(ctx,
		`INSERT INTO poll_votes (id, poll_id, username, option_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (poll_id, username) DO UPDATE SET option_id = EXCLUDED.option_id
		 RETURNING id, poll_id, username, option_id, created_at, (xmax = 0)`,
		v.ID, v.PollID, v.Username, v.OptionID, v.CreatedAt,
	).Scan(&out.ID, &out.PollID, &out.Username, &out.OptionID, &out.CreatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("voteRepo.Upsert: %w", err)
	}
	return out, inserted, nil
}

// Delete removes the vote for (poll_id, username) and returns the removed
// row; ok is false when there was none.
func (r *VoteRepository) Delete(ctx context.Context, pollID, username string) (*model.PollVote, bool, error) {
	defer logger.DeferLogDuration("vote.Delete", time.Now())()
	out := &model.PollVote{}
	err := r.pool.QueryRow(ctx,
		`DELETE FROM poll_votes WHERE poll_id = $1 AND username = $2
		 RETURNING id, poll_id, username, option_id, created_at`,
		pollID, username,
	).Scan(&out.ID, &out.PollID, &out.Username, &out.OptionID, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("voteRepo.Delete: %w", err)
	}
	return out, true, nil
}
