// 开发用一体化入口：在单进程内同时跑管理 API、调度循环与投递 worker。
// 生产部署使用 cmd/ 下的独立二进制。
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"RecurringEvents/internal/clock"
	"RecurringEvents/internal/config"
	"RecurringEvents/internal/db"
	"RecurringEvents/internal/dispatch"
	"RecurringEvents/internal/http/handler"
	"RecurringEvents/internal/logging"
	"RecurringEvents/internal/queue"
	"RecurringEvents/internal/repo"
	"RecurringEvents/internal/scheduler"
	"RecurringEvents/internal/service"
	"RecurringEvents/internal/worker"

	"github.com/gin-gonic/gin"
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

	if err := db.EnsureSchema(initCtx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

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
	templates := repo.NewTemplateStore(pool)
	firings := repo.NewFiringStore(pool)

	// 调度循环
	executor := dispatch.NewExecutor(templates, firings, rdb, cfg.DeliveryQueue, 3)
	sched := scheduler.New(ctx, schedules, executor, scheduler.Options{
		Interval:        cfg.TickInterval,
		LeaseTTL:        cfg.LeaseTTL,
		Concurrency:     cfg.Concurrency,
		DispatchTimeout: cfg.DispatchTimeout,
		DefaultLocation: loc,
		Metrics:         rdb,
		Logger:          log,
	})
	go sched.Start()
	defer sched.Stop()

	// 投递 worker
	workerID := uuid.NewString()
	queues := []string{cfg.DeliveryQueue}
	go worker.StartHeartbeat(ctx, rdb, workerID, 30*time.Second, 10*time.Second, log)
	go worker.StartDelayedMover(ctx, rdb, queues, workerID, 2*time.Second, log)
	deliverer := worker.NewDeliverer(rdb, firings, worker.LogHandler(log), workerID, queues, log)
	go deliverer.Run(ctx)

	// 管理 API
	scheduleSvc := service.NewScheduleService(schedules, clock.Real{}, loc)
	templateSvc := service.NewTemplateService(templates)

	engine := gin.Default()
	sh := handler.NewScheduleHandler(scheduleSvc)
	th := handler.NewTemplateHandler(templateSvc)
	qh := handler.NewQueueHandler(rdb)
	mh := handler.NewMetricsHandler(rdb)
	hh := handler.NewHealthHandler(pool, rdb)

	engine.GET("/healthz", hh.Healthz)
	engine.GET("/readyz", hh.Readyz)
	api := engine.Group("/api/v1")
	{
		api.POST("/templates", th.Create)
		api.GET("/templates", th.List)
		api.GET("/templates/:id", th.Get)
		api.DELETE("/templates/:id", th.Delete)

		api.POST("/schedules", sh.Create)
		api.GET("/schedules", sh.List)
		api.GET("/schedules/:id", sh.Get)
		api.PATCH("/schedules/:id", sh.Update)
		api.POST("/schedules/:id/toggle", sh.Toggle)
		api.DELETE("/schedules/:id", sh.Delete)

		api.GET("/queues/:name/dlq", qh.ListDLQ)
		api.POST("/queues/:name/dlq/replay", qh.ReplayDLQ)

		api.GET("/metrics/scheduler", mh.GetSchedulerMetrics)
		api.GET("/metrics/worker", mh.GetWorkerMetrics)
		api.GET("/workers", mh.ListWorkers)
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("starting all-in-one server")
	if err := engine.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
