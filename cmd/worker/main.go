package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"RecurringEvents/internal/config"
	"RecurringEvents/internal/db"
	"RecurringEvents/internal/logging"
	"RecurringEvents/internal/queue"
	"RecurringEvents/internal/repo"
	"RecurringEvents/internal/worker"

	"github.com/google/uuid"
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

	workerID := uuid.NewString()
	firings := repo.NewFiringStore(pool)
	queues := []string{cfg.DeliveryQueue}

	// 心跳 + 延时搬运 + 僵死投递接管
	go worker.StartHeartbeat(ctx, rdb, workerID, 30*time.Second, 10*time.Second, log)
	go worker.StartDelayedMover(ctx, rdb, queues, workerID, 2*time.Second, log)
	reaper := worker.NewFiringReaper(rdb, firings,
		repo.NewScheduleStore(pool), repo.NewTemplateStore(pool),
		cfg.DeliveryQueue, cfg.LeaseTTL, 3, log)
	go reaper.Run(ctx, cfg.LeaseTTL)

	d := worker.NewDeliverer(rdb, firings, worker.LogHandler(log), workerID, queues, log)
	d.Run(ctx)
}
