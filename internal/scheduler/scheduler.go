// Package scheduler 实现调度循环：周期性扫描到期的周期事件，逐条抢占
// 租约、派发，并把触发结果作为一个整体提交回存储。
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"RecurringEvents/internal/clock"
	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/occurrence"
	"RecurringEvents/internal/worker"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// 单次 tick 最多取出的到期候选数
const dueBatchLimit = 200

// Store 调度循环对排程存储的最小依赖（repo.ScheduleStore 实现它）
type Store interface {
	// ListDue 返回到期且租约空闲（或已过期）的候选
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledEvent, error)
	// Claim 条件更新抢占租约；false 表示被其他实例抢走
	Claim(ctx context.Context, ev *domain.ScheduledEvent, owner string, until, now time.Time) (bool, error)
	// Commit 在租约仍存活时提交状态元组并释放租约；false 表示丢弃
	Commit(ctx context.Context, id uuid.UUID, owner string, upd occurrence.Update, now time.Time) (bool, error)
	// Release 释放租约，next_run 保持不变
	Release(ctx context.Context, id uuid.UUID, owner string) error
}

// Dispatcher 对一次到期触发执行一次投递尝试（dispatch.Executor 实现它）
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.ScheduledEvent, occurredAt time.Time) error
}

// Scheduler 进程级调度循环，可多实例水平并行：互斥靠每条记录的租约，
// 不持有任何全局锁
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	rdb        *redis.Client // 仅用于 tick 指标，可为 nil
	clk        clock.Clock
	pool       *worker.Pool
	log        zerolog.Logger

	owner           string // 本实例的租约持有者标识
	interval        time.Duration
	leaseTTL        time.Duration
	dispatchTimeout time.Duration
	defaultLoc      *time.Location

	ticker *time.Ticker
	ctx    context.Context
	cancel context.CancelFunc
}

// Options Scheduler 的可选参数
type Options struct {
	Interval        time.Duration
	LeaseTTL        time.Duration
	Concurrency     int
	DispatchTimeout time.Duration
	DefaultLocation *time.Location
	Clock           clock.Clock
	Metrics         *redis.Client
	Logger          zerolog.Logger
}

func New(ctx context.Context, store Store, dispatcher Dispatcher, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 15 * time.Second
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		store:           store,
		dispatcher:      dispatcher,
		rdb:             opts.Metrics,
		clk:             opts.Clock,
		pool:            worker.NewPool(opts.Concurrency),
		log:             opts.Logger,
		owner:           uuid.NewString(),
		interval:        opts.Interval,
		leaseTTL:        opts.LeaseTTL,
		dispatchTimeout: opts.DispatchTimeout,
		defaultLoc:      opts.DefaultLocation,
		ticker:          time.NewTicker(opts.Interval),
		ctx:             cctx,
		cancel:          cancel,
	}
}

// Start 启动循环，阻塞直到 Stop 或 ctx 取消
func (s *Scheduler) Start() {
	s.pool.Start()
	s.log.Info().Str("owner", s.owner).Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-s.ticker.C:
			if err := s.tickOnce(s.ctx); err != nil {
				// 存储不可用：放弃本轮，下个 tick 重试
				s.log.Error().Err(err).Msg("tick aborted")
			}
		}
	}
}

// Stop 停止循环并等待在途候选处理完
func (s *Scheduler) Stop() {
	s.cancel()
	s.ticker.Stop()
	s.pool.Stop()
}

// tickCounters 单轮的处理统计
type tickCounters struct {
	claimed   atomic.Int64
	lost      atomic.Int64
	committed atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
}

// tickOnce 扫描一轮到期候选并发处理，处理完毕后写一次指标。
// 候选之间互不影响，单条失败不终止本轮。
func (s *Scheduler) tickOnce(ctx context.Context) error {
	now := s.clk.Now()
	due, err := s.store.ListDue(ctx, now, dueBatchLimit)
	if err != nil {
		return err
	}

	var c tickCounters
	var wg sync.WaitGroup
	for _, ev := range due {
		ev := ev
		wg.Add(1)
		s.pool.Submit(func(pctx context.Context) {
			defer wg.Done()
			s.processOne(pctx, ev, now, &c)
		})
	}
	wg.Wait()

	s.recordMetrics(ctx, now, len(due), &c)
	s.log.Debug().
		Int("due", len(due)).
		Int64("claimed", c.claimed.Load()).
		Int64("lost", c.lost.Load()).
		Int64("committed", c.committed.Load()).
		Int64("failed", c.failed.Load()).
		Msg("tick")
	return nil
}

// processOne 处理一条到期候选：抢租约 → 推进计算 → 派发 → 提交/释放
func (s *Scheduler) processOne(ctx context.Context, ev domain.ScheduledEvent, now time.Time, c *tickCounters) {
	// ListDue 与处理之间存在窗口，抢占前复核到期条件
	if !occurrence.IsDue(ev, now) {
		return
	}

	ok, err := s.store.Claim(ctx, &ev, s.owner, now.Add(s.leaseTTL), now)
	if err != nil {
		s.log.Error().Err(err).Str("schedule", ev.ID.String()).Msg("claim failed")
		return
	}
	if !ok {
		// 正常的并发结果，不是错误
		c.lost.Add(1)
		return
	}
	c.claimed.Add(1)

	upd, err := occurrence.Advance(ev, now, s.defaultLoc)
	if err != nil {
		// 规则应在边界就被校验过，这里只可能是存量脏数据
		s.log.Error().Err(err).Str("schedule", ev.ID.String()).Msg("advance failed")
		if rerr := s.store.Release(ctx, ev.ID, s.owner); rerr != nil {
			s.log.Error().Err(rerr).Str("schedule", ev.ID.String()).Msg("release failed")
		}
		return
	}
	occurredAt := *ev.NextRun

	dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	err = s.dispatcher.Dispatch(dctx, ev, occurredAt)
	cancel()
	if err != nil {
		// 派发失败（含超时）：不推进 last_run/run_count，只释放租约，
		// 该时刻保留到下一轮重试
		c.failed.Add(1)
		s.log.Warn().Err(err).
			Str("schedule", ev.ID.String()).
			Time("occurred_at", occurredAt).
			Msg("dispatch failed, occurrence preserved for retry")
		if rerr := s.store.Release(ctx, ev.ID, s.owner); rerr != nil {
			s.log.Error().Err(rerr).Str("schedule", ev.ID.String()).Msg("release failed")
		}
		return
	}

	committed, err := s.store.Commit(ctx, ev.ID, s.owner, upd, s.clk.Now())
	if err != nil {
		s.log.Error().Err(err).Str("schedule", ev.ID.String()).Msg("commit failed")
		return
	}
	if !committed {
		// 记录在派发期间被删除/停用或租约过期：丢弃自己的更新，
		// 不把已删除的排程复活
		c.discarded.Add(1)
		s.log.Warn().Str("schedule", ev.ID.String()).Msg("commit discarded, schedule gone or re-leased")
		return
	}
	c.committed.Add(1)
	if upd.NextRun == nil {
		s.log.Info().Str("schedule", ev.ID.String()).Int("run_count", upd.RunCount).Msg("schedule exhausted")
	}
}

// recordMetrics 把本轮统计写入 Redis 指标键
func (s *Scheduler) recordMetrics(ctx context.Context, now time.Time, due int, c *tickCounters) {
	if s.rdb == nil {
		return
	}
	_ = s.rdb.Incr(ctx, "metrics:scheduler:ticks").Err()
	_ = s.rdb.HSet(ctx, "metrics:scheduler:last", map[string]any{
		"time":            now.Format(time.RFC3339),
		"due_count":       due,
		"claimed_count":   c.claimed.Load(),
		"lost_count":      c.lost.Load(),
		"committed_count": c.committed.Load(),
		"failed_count":    c.failed.Load(),
		"discarded_count": c.discarded.Load(),
	}).Err()
}
