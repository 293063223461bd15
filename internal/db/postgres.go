package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Init(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	//连接测试
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS event_templates (
            id UUID PRIMARY KEY,
            organization_id UUID NOT NULL,
            name TEXT NOT NULL,
            event_type TEXT NOT NULL,
            defaults JSONB NOT NULL DEFAULT '{}'::jsonb,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS scheduled_events (
            id UUID PRIMARY KEY,
            organization_id UUID NOT NULL,
            template_id UUID NOT NULL REFERENCES event_templates(id),
            payload JSONB NOT NULL DEFAULT '{}'::jsonb,
            rule JSONB NOT NULL,
            start_at TIMESTAMPTZ,
            end_at TIMESTAMPTZ,
            next_run TIMESTAMPTZ,
            last_run TIMESTAMPTZ,
            run_count INT NOT NULL DEFAULT 0,
            max_runs INT,
            enabled BOOLEAN NOT NULL DEFAULT TRUE,
            lease_owner TEXT,
            lease_expires_at TIMESTAMPTZ,
            created_by TEXT NOT NULL DEFAULT '',
            updated_by TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		// 调度循环的到期扫描命中这个部分索引
		`CREATE INDEX IF NOT EXISTS idx_scheduled_events_due ON scheduled_events(next_run) WHERE enabled;`,
		// 投递记录不加外键：排程硬删除后保留历史
		`CREATE TABLE IF NOT EXISTS event_firings (
            id UUID PRIMARY KEY,
            scheduled_event_id UUID NOT NULL,
            occurred_at TIMESTAMPTZ NOT NULL,
            attempt INT NOT NULL DEFAULT 1,
            status TEXT NOT NULL,
            worker_id TEXT,
            error JSONB,
            started_at TIMESTAMPTZ,
            delivered_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_event_firings_occurrence ON event_firings(scheduled_event_id, occurred_at, attempt);`,
	}
	for _, q := range ddl {
		if _, err := pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
