package repo

import (
	"context"
	"time"

	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/occurrence"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const scheduledEventColumns = `id, organization_id, template_id, payload, rule,
	start_at, end_at, next_run, last_run, run_count, max_runs, enabled,
	lease_owner, lease_expires_at, created_by, updated_by, created_at, updated_at`

// ScheduleStore scheduled_events 表的读写契约，包含调度循环使用的
// 租约原语（Claim/Commit/Release）
type ScheduleStore struct {
	db *pgxpool.Pool
}

func NewScheduleStore(db *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Create 插入一条新的周期事件记录
func (s *ScheduleStore) Create(ctx context.Context, ev *domain.ScheduledEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scheduled_events
			(id, organization_id, template_id, payload, rule, start_at, end_at,
			 next_run, last_run, run_count, max_runs, enabled, created_by, updated_by,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
	`, ev.ID, ev.OrganizationID, ev.TemplateID, ev.Payload, ev.Rule,
		ev.StartAt, ev.EndAt, ev.NextRun, ev.LastRun, ev.RunCount, ev.MaxRuns,
		ev.Enabled, ev.CreatedBy, ev.UpdatedBy)
	return err
}

// GetByID 根据 ID 查询
func (s *ScheduleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledEvent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+scheduledEventColumns+`
		FROM scheduled_events
		WHERE id = $1
	`, id)
	return scanScheduledEvent(row)
}

// List 按租户列出，enabled 为 nil 表示不过滤
func (s *ScheduleStore) List(ctx context.Context, orgID uuid.UUID, enabled *bool) ([]domain.ScheduledEvent, error) {
	query := `
		SELECT ` + scheduledEventColumns + `
		FROM scheduled_events
		WHERE organization_id = $1`
	args := []any{orgID}
	if enabled != nil {
		query += " AND enabled = $2"
		args = append(args, *enabled)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.ScheduledEvent
	for rows.Next() {
		ev, err := scanScheduledEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *ev)
	}
	return res, rows.Err()
}

// ListDue 查询到期候选：enabled 且 next_run <= now，窗口与次数上限有效，
// 且租约空闲或已过期。命中 (enabled, next_run) 上的部分索引。
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+scheduledEventColumns+`
		FROM scheduled_events
		WHERE enabled
		  AND next_run IS NOT NULL
		  AND next_run <= $1
		  AND (end_at IS NULL OR next_run <= end_at)
		  AND (max_runs IS NULL OR run_count < max_runs)
		  AND (lease_owner IS NULL OR lease_expires_at <= $1)
		ORDER BY next_run
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.ScheduledEvent
	for rows.Next() {
		ev, err := scanScheduledEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *ev)
	}
	return res, rows.Err()
}

// Claim 以条件更新抢占租约：以读到的 next_run 为前置条件，且原租约
// 空闲或已过期时才成立。返回 false 表示本轮被其他实例抢走（ClaimLost）。
func (s *ScheduleStore) Claim(ctx context.Context, ev *domain.ScheduledEvent, owner string, until, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_events
		SET lease_owner = $2, lease_expires_at = $3, updated_at = NOW()
		WHERE id = $1
		  AND enabled
		  AND next_run = $4
		  AND (lease_owner IS NULL OR lease_expires_at <= $5)
	`, ev.ID, owner, until, ev.NextRun, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Commit 在仍持有存活租约的前提下提交触发结果并释放租约。
// 返回 false 表示记录已被删除、停用或租约易主，调用方丢弃本次更新。
func (s *ScheduleStore) Commit(ctx context.Context, id uuid.UUID, owner string, upd occurrence.Update, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_events
		SET last_run = $3, next_run = $4, run_count = $5, enabled = $6,
		    lease_owner = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
		  AND enabled
		  AND lease_owner = $2
		  AND lease_expires_at > $7
	`, id, owner, upd.LastRun, upd.NextRun, upd.RunCount, upd.Enabled, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release 仅当持有者匹配时释放租约，next_run 保持不变（失败重试路径）
func (s *ScheduleStore) Release(ctx context.Context, id uuid.UUID, owner string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_events
		SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_owner = $2
	`, id, owner)
	return err
}

// Update 用户编辑：覆盖规则/窗口/负载等字段并写入重算后的 next_run，
// 同时清空租约，使飞行中的提交自然失效
func (s *ScheduleStore) Update(ctx context.Context, ev *domain.ScheduledEvent) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_events
		SET payload = $2, rule = $3, start_at = $4, end_at = $5, next_run = $6,
		    max_runs = $7, enabled = $8, updated_by = $9,
		    lease_owner = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, ev.ID, ev.Payload, ev.Rule, ev.StartAt, ev.EndAt, ev.NextRun,
		ev.MaxRuns, ev.Enabled, ev.UpdatedBy)
	return err
}

// ToggleEnabled 启停一条记录；停用保留已计算的 next_run
func (s *ScheduleStore) ToggleEnabled(ctx context.Context, id uuid.UUID, enabled bool, updatedBy string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_events
		SET enabled = $2, updated_by = $3, updated_at = NOW()
		WHERE id = $1
	`, id, enabled, updatedBy)
	return err
}

// Delete 硬删除；飞行中的租约随条件提交一并失效
func (s *ScheduleStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM scheduled_events WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduledEvent(row rowScanner) (*domain.ScheduledEvent, error) {
	var ev domain.ScheduledEvent
	if err := row.Scan(
		&ev.ID, &ev.OrganizationID, &ev.TemplateID, &ev.Payload, &ev.Rule,
		&ev.StartAt, &ev.EndAt, &ev.NextRun, &ev.LastRun, &ev.RunCount,
		&ev.MaxRuns, &ev.Enabled, &ev.LeaseOwner, &ev.LeaseExpiresAt,
		&ev.CreatedBy, &ev.UpdatedBy, &ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ev, nil
}
