package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"RecurringEvents/internal/config"
	"RecurringEvents/internal/db"
	"RecurringEvents/internal/dispatch"
	"RecurringEvents/internal/logging"
	"RecurringEvents/internal/queue"
	"RecurringEvents/internal/repo"
	"RecurringEvents/internal/scheduler"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.Init(initCtx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres init failed")
	}
	defer pool.Close()

	rdb, err := queue.Connect(initCtx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	defer rdb.Close()

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.DefaultTimezone).Msg("bad default timezone")
	}

	schedules := repo.NewScheduleStore(pool)
	executor := dispatch.NewExecutor(
		repo.NewTemplateStore(pool),
		repo.NewFiringStore(pool),
		rdb, cfg.DeliveryQueue, 3,
	)

	sched := scheduler.New(ctx, schedules, executor, scheduler.Options{
		Interval:        cfg.TickInterval,
		LeaseTTL:        cfg.LeaseTTL,
		Concurrency:     cfg.Concurrency,
		DispatchTimeout: cfg.DispatchTimeout,
		DefaultLocation: loc,
		Metrics:         rdb,
		Logger:          log,
	})
	defer sched.Stop()

	sched.Start()
}
