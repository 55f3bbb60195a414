package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/store"
)

type PollRepository struct {
	pool *pgxpool.Pool
}

func NewPollRepository(pool *pgxpool.Pool) *PollRepository {
	return &PollRepository{pool: pool}
}

// Options are stored as a jsonb array; polls are small and read whole, so a
// separate options table buys nothing.
func (r *PollRepository) GetByID(ctx context.Context, id string) (*model.Poll, error) {
	defer logger.DeferLogDuration("poll.GetByID", time.Now())()
	p := &model.Poll{}
	var options []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, question, options, created_by, created_at, closed FROM polls WHERE id = $1`, id,
	).Scan(&p.ID, &p.Question, &options, &p.CreatedBy, &p.CreatedAt, &p.Closed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pollRepo.GetByID: %w", err)
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, fmt.Errorf("pollRepo.GetByID options: %w", err)
	}
	return p, nil
}

func (r *PollRepository) Insert(ctx context.Context, p *model.Poll) error {
	defer logger.DeferLogDuration("poll.Insert", time.Now())()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("pollRepo.Insert options: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO polls (id, question, options, created_by, created_at, closed)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Question, options, p.CreatedBy, p.CreatedAt, p.Closed,
	)
	if err != nil {
		return fmt.Errorf("pollRepo.Insert: %w", err)
	}
	return nil
}
