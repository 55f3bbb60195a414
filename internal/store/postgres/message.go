// Package postgres holds the gateway-side repositories. They are the
// persistence half of the store contract; change-feed delivery is layered on
// top by the gateway, which publishes a feed event after every successful
// write here.
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
	"github.com/flamechat/internal/store"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// List returns messages of one scope ordered by created_at ascending, capped
// at limit. The global feed is the rows with no room id.
func (r *MessageRepository) List(ctx context.Context, scope store.Scope, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.List", time.Now())()
	const cols = `id, COALESCE(room_id::text,''), username, content, message_type,
		 COALESCE(file_url,''), COALESCE(file_name,''), COALESCE(poll_id::text,''), created_at`
	var (
		rows pgx.Rows
		err  error
	)
	if scope.IsGlobal() {
		rows, err = r.pool.Query(ctx,
			`SELECT `+cols+` FROM messages WHERE room_id IS NULL
			 ORDER BY created_at ASC, id ASC LIMIT $1`, limit)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+cols+` FROM messages WHERE room_id = $1
			 ORDER BY created_at ASC, id ASC LIMIT $2`, scope.RoomID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.List query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Username, &m.Content, &m.Type,
			&m.FileURL, &m.FileName, &m.PollID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messageRepo.List scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.List rows: %w", err)
	}
	return msgs, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(room_id::text,''), username, content, message_type,
		 COALESCE(file_url,''), COALESCE(file_name,''), COALESCE(poll_id::text,''), created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.RoomID, &m.Username, &m.Content, &m.Type,
		&m.FileURL, &m.FileName, &m.PollID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	return m, nil
}

// Insert writes m, assigning id and created_at when unset.
func (r *MessageRepository) Insert(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Insert", time.Now())()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Type == "" {
		m.Type = model.MessageTypeText
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, username, content, message_type, file_url, file_name, poll_id, created_at)
		 VALUES ($1, NULLIF($2,'')::uuid, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,'')::uuid, $9)`,
		m.ID, m.RoomID, m.Username, m.Content, m.Type, m.FileURL, m.FileName, m.PollID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Insert: %w", err)
	}
	return nil
}
