package repo

import (
	"context"
	"encoding/json"
	"time"

	"RecurringEvents/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FiringStore event_firings 表的读写：每次触发/重试一条投递记录
type FiringStore struct {
	db *pgxpool.Pool
}

func NewFiringStore(db *pgxpool.Pool) *FiringStore {
	return &FiringStore{db: db}
}

// Insert 插入一条投递记录
func (s *FiringStore) Insert(ctx context.Context, f *domain.EventFiring) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_firings (id, scheduled_event_id, occurred_at, attempt, status, worker_id, error, started_at, delivered_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, f.ID, f.ScheduledEventID, f.OccurredAt, f.Attempt, f.Status, f.WorkerID, f.Error, f.StartedAt, f.DeliveredAt)
	return err
}

// MarkDelivering 进入投递中，记录 worker 与开始时间
func (s *FiringStore) MarkDelivering(ctx context.Context, id uuid.UUID, workerID string, startedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE event_firings
		SET status = $2, worker_id = $3, started_at = $4
		WHERE id = $1
	`, id, domain.FiringDelivering, workerID, startedAt)
	return err
}

// MarkDelivered 投递成功
func (s *FiringStore) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE event_firings
		SET status = $2, delivered_at = $3
		WHERE id = $1
	`, id, domain.FiringDelivered, deliveredAt)
	return err
}

// MarkFailed 投递失败，写入失败原因
func (s *FiringStore) MarkFailed(ctx context.Context, id uuid.UUID, status string, reason map[string]any) error {
	b, _ := json.Marshal(reason)
	_, err := s.db.Exec(ctx, `
		UPDATE event_firings
		SET status = $2, error = $3
		WHERE id = $1
	`, id, status, b)
	return err
}

// GetLatestByScheduledEvent 某条周期事件的最新投递记录
func (s *FiringStore) GetLatestByScheduledEvent(ctx context.Context, scheduledEventID uuid.UUID) (*domain.EventFiring, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, scheduled_event_id, occurred_at, attempt, status, worker_id, error, started_at, delivered_at, created_at
		FROM event_firings
		WHERE scheduled_event_id = $1
		ORDER BY occurred_at DESC, attempt DESC
		LIMIT 1
	`, scheduledEventID)
	return scanFiring(row)
}

// ListStaleDelivering 长时间停留在 delivering 的记录，供 reaper 接管
func (s *FiringStore) ListStaleDelivering(ctx context.Context, before time.Time) ([]domain.EventFiring, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, scheduled_event_id, occurred_at, attempt, status, worker_id, error, started_at, delivered_at, created_at
		FROM event_firings
		WHERE status = $1 AND started_at < $2
	`, domain.FiringDelivering, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.EventFiring
	for rows.Next() {
		f, err := scanFiring(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *f)
	}
	return res, rows.Err()
}

func scanFiring(row rowScanner) (*domain.EventFiring, error) {
	var f domain.EventFiring
	var workerID *string
	if err := row.Scan(
		&f.ID, &f.ScheduledEventID, &f.OccurredAt, &f.Attempt, &f.Status,
		&workerID, &f.Error, &f.StartedAt, &f.DeliveredAt, &f.CreatedAt,
	); err != nil {
		return nil, err
	}
	if workerID != nil {
		f.WorkerID = *workerID
	}
	return &f, nil
}
