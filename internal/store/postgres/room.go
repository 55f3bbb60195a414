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

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func (r *RoomRepository) List(ctx context.Context, limit int) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, code, created_by, created_at FROM rooms
		 ORDER BY created_at ASC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.List query: %w", err)
	}
	defer rows.Close()

	rooms := make([]model.Room, 0, 16)
	for rows.Next() {
		var rm model.Room
		if err := rows.Scan(&rm.ID, &rm.Name, &rm.Code, &rm.CreatedBy, &rm.CreatedAt); err != nil {
			return nil, fmt.Errorf("roomRepo.List scan: %w", err)
		}
		rooms = append(rooms, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.List rows: %w", err)
	}
	return rooms, nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	rm := &model.Room{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, code, created_by, created_at FROM rooms WHERE id = $1`, id,
	).Scan(&rm.ID, &rm.Name, &rm.Code, &rm.CreatedBy, &rm.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return rm, nil
}

func (r *RoomRepository) GetByCode(ctx context.Context, code string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByCode", time.Now())()
	rm := &model.Room{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, code, created_by, created_at FROM rooms WHERE code = $1`, code,
	).Scan(&rm.ID, &rm.Name, &rm.Code, &rm.CreatedBy, &rm.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByCode: %w", err)
	}
	return rm, nil
}

func (r *RoomRepository) Insert(ctx context.Context, rm *model.Room) error {
	defer logger.DeferLogDuration("room.Insert", time.Now())()
	if rm.ID == "" {
		rm.ID = uuid.New().String()
	}
	if rm.CreatedAt.IsZero() {
		rm.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rooms (id, name, code, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rm.ID, rm.Name, rm.Code, rm.CreatedBy, rm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Insert: %w", err)
	}
	return nil
}
