package main

import (
	"context"
	"time"

	"RecurringEvents/internal/clock"
	"RecurringEvents/internal/config"
	"RecurringEvents/internal/db"
	"RecurringEvents/internal/http/handler"
	"RecurringEvents/internal/logging"
	"RecurringEvents/internal/queue"
	"RecurringEvents/internal/repo"
	"RecurringEvents/internal/service"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Init(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres init failed")
	}
	defer pool.Close()

	// 确保最小表结构存在
	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	rdb, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	defer rdb.Close()

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.DefaultTimezone).Msg("bad default timezone")
	}

	// 组装服务与路由
	scheduleSvc := service.NewScheduleService(repo.NewScheduleStore(pool), clock.Real{}, loc)
	templateSvc := service.NewTemplateService(repo.NewTemplateStore(pool))

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

	log.Info().Str("port", cfg.HTTPPort).Msg("starting api server")
	if err := engine.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal().Err(err).Msg("api server exited")
	}
}
