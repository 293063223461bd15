package config

import (
	"os"
	"strconv"
	"time"
)

type AppConfig struct {
	HTTPPort        string
	PostgresDSN     string
	RedisURL        string
	DeliveryQueue   string
	TickInterval    time.Duration // 调度循环扫描周期
	LeaseTTL        time.Duration // 单条记录的租约时长
	Concurrency     int           // 单次 tick 内并发处理的候选数
	DispatchTimeout time.Duration // 单次派发的超时
	DefaultTimezone string        // 规则未指定时区时的缺省时区
	LogLevel        string
}

func Load() AppConfig {
	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=finager dbname=recurring_events sslmode=disable"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	queueName := os.Getenv("DELIVERY_QUEUE")
	if queueName == "" {
		queueName = "events"
	}

	tz := os.Getenv("DEFAULT_TIMEZONE")
	if tz == "" {
		tz = "UTC"
	}

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	return AppConfig{
		HTTPPort:        port,
		PostgresDSN:     dsn,
		RedisURL:        redisURL,
		DeliveryQueue:   queueName,
		TickInterval:    envDuration("SCHEDULER_TICK_INTERVAL", 10*time.Second),
		LeaseTTL:        envDuration("SCHEDULER_LEASE_TTL", 30*time.Second),
		Concurrency:     envInt("SCHEDULER_CONCURRENCY", 4),
		DispatchTimeout: envDuration("DISPATCH_TIMEOUT", 15*time.Second),
		DefaultTimezone: tz,
		LogLevel:        level,
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}
