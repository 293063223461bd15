package worker

import (
	"context"
	"time"

	"RecurringEvents/internal/queue"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// StartDelayedMover 周期性把到期的延时消息搬运到就绪队列。
// 多 worker 部署时用 Redis 锁保证每个队列同一时刻只有一个搬运者。
func StartDelayedMover(ctx context.Context, rdb *redis.Client, queues []string, workerID string, interval time.Duration, log zerolog.Logger) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tkr.C:
			for _, q := range queues {
				lockKey := "lock:delayed_mover:" + q
				got, err := queue.AcquireLock(ctx, rdb, lockKey, workerID, 5*time.Second)
				if err != nil || !got {
					continue
				}
				moved, err := queue.MoveDueDelayedToReady(ctx, rdb, q, time.Now(), 100)
				if err != nil {
					log.Error().Err(err).Str("queue", q).Msg("move delayed failed")
				} else if moved > 0 {
					log.Info().Str("queue", q).Int("count", moved).Msg("delayed moved to ready")
				}
				_, _ = queue.ReleaseLock(ctx, rdb, lockKey, workerID)
			}
		}
	}
}
