package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"RecurringEvents/internal/dispatch"
	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/lease"
	"RecurringEvents/internal/queue"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// reaper 对存储的最小依赖，repo 的具体实现满足它们
type firingStore interface {
	ListStaleDelivering(ctx context.Context, before time.Time) ([]domain.EventFiring, error)
	MarkFailed(ctx context.Context, id uuid.UUID, status string, reason map[string]any) error
	Insert(ctx context.Context, f *domain.EventFiring) error
}

type scheduleReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledEvent, error)
}

type templateReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.EventTemplate, error)
}

// FiringReaper 接管 worker 崩溃遗留的投递记录：长时间停留在
// delivering 且租约键已消失的记录，标记失败后重建消息再次入队；
// 重试耗尽或排程已删除的标记为 dead。
type FiringReaper struct {
	rdb         *redis.Client
	firings     firingStore
	schedules   scheduleReader
	templates   templateReader
	leases      *lease.Manager
	log         zerolog.Logger
	queueName   string
	leaseTTL    time.Duration
	maxAttempts int
}

func NewFiringReaper(rdb *redis.Client, firings firingStore, schedules scheduleReader, templates templateReader, queueName string, leaseTTL time.Duration, maxAttempts int, log zerolog.Logger) *FiringReaper {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &FiringReaper{
		rdb:         rdb,
		firings:     firings,
		schedules:   schedules,
		templates:   templates,
		leases:      lease.NewManager(rdb),
		log:         log,
		queueName:   queueName,
		leaseTTL:    leaseTTL,
		maxAttempts: maxAttempts,
	}
}

// Run 周期扫描，直到 ctx 取消
func (r *FiringReaper) Run(ctx context.Context, interval time.Duration) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tkr.C:
			r.reapOnce(ctx)
		}
	}
}

func (r *FiringReaper) reapOnce(ctx context.Context) {
	before := time.Now().Add(-2 * r.leaseTTL)
	stale, err := r.firings.ListStaleDelivering(ctx, before)
	if err != nil {
		r.log.Error().Err(err).Msg("reaper list stale firings failed")
		return
	}
	for _, f := range stale {
		// 租约键仍在说明 worker 可能还在执行，跳过
		alive, err := r.leases.Exists(ctx, f.ID.String())
		if err != nil {
			r.log.Error().Err(err).Str("firing", f.ID.String()).Msg("reaper lease check failed")
			continue
		}
		if alive {
			continue
		}
		r.takeOver(ctx, f)
	}
}

// takeOver 决定重试或死信。只有排程/模板确实不存在（ErrNoRows）或
// 重试耗尽才判死；存储暂不可用时直接返回，记录保持 delivering，
// 下一轮扫描重试。
func (r *FiringReaper) takeOver(ctx context.Context, f domain.EventFiring) {
	failInfo := map[string]any{
		"reason":    "lease_expired",
		"attempt":   f.Attempt,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if f.Attempt >= r.maxAttempts {
		if err := r.firings.MarkFailed(ctx, f.ID, domain.FiringDead, failInfo); err != nil {
			r.log.Error().Err(err).Str("firing", f.ID.String()).Msg("reaper mark dead failed")
			return
		}
		r.log.Warn().Str("firing", f.ID.String()).Msg("reaper: retries exhausted, firing dead")
		return
	}

	ev, err := r.schedules.GetByID(ctx, f.ScheduledEventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = r.firings.MarkFailed(ctx, f.ID, domain.FiringDead, failInfo)
			r.log.Warn().Str("firing", f.ID.String()).Msg("reaper: schedule gone, firing dead")
			return
		}
		r.log.Error().Err(err).Str("firing", f.ID.String()).Msg("reaper schedule lookup failed, will retry")
		return
	}
	tpl, err := r.templates.GetByID(ctx, ev.TemplateID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = r.firings.MarkFailed(ctx, f.ID, domain.FiringDead, failInfo)
			r.log.Warn().Str("firing", f.ID.String()).Msg("reaper: template gone, firing dead")
			return
		}
		r.log.Error().Err(err).Str("firing", f.ID.String()).Msg("reaper template lookup failed, will retry")
		return
	}

	if err := r.firings.MarkFailed(ctx, f.ID, domain.FiringFailed, failInfo); err != nil {
		r.log.Error().Err(err).Str("firing", f.ID.String()).Msg("reaper mark failed")
		return
	}

	retry := domain.EventFiring{
		ID:               uuid.New(),
		ScheduledEventID: f.ScheduledEventID,
		OccurredAt:       f.OccurredAt,
		Attempt:          f.Attempt + 1,
		Status:           domain.FiringQueued,
	}
	if err := r.firings.Insert(ctx, &retry); err != nil {
		r.log.Error().Err(err).Str("firing", f.ID.String()).Msg("reaper insert retry failed")
		return
	}
	msg := dispatch.BuildMessage(tpl, *ev, retry, r.maxAttempts)
	b, _ := json.Marshal(msg)
	if err := queue.EnqueueReady(ctx, r.rdb, r.queueName, string(b)); err != nil {
		r.log.Error().Err(err).Str("firing", retry.ID.String()).Msg("reaper enqueue failed")
		return
	}
	r.log.Info().
		Str("firing", retry.ID.String()).
		Int("attempt", retry.Attempt).
		Msg("reaper re-enqueued stale firing")
}
