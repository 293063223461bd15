package worker

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HeartbeatKeyPattern 心跳键的 SCAN 模式，管理面用它枚举存活 worker
const HeartbeatKeyPattern = "worker:*:heartbeat"

// HeartbeatKey 单个 worker 的心跳键
func HeartbeatKey(workerID string) string {
	return "worker:" + workerID + ":heartbeat"
}

// WorkerIDFromHeartbeatKey 从心跳键还原 worker 标识
func WorkerIDFromHeartbeatKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, "worker:"), ":heartbeat")
}

// StartHeartbeat 周期刷新心跳键直到 ctx 取消。键带 TTL，worker 崩溃后
// 自动消失，存活判定不需要显式注销。
func StartHeartbeat(ctx context.Context, rdb *redis.Client, workerID string, ttl, interval time.Duration, log zerolog.Logger) {
	key := HeartbeatKey(workerID)
	if err := rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		log.Warn().Err(err).Str("worker", workerID).Msg("heartbeat set failed")
	}
	log.Info().Str("worker", workerID).Dur("interval", interval).Msg("heartbeat started")

	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("worker", workerID).Msg("heartbeat stopped")
			return
		case <-tkr.C:
			if err := rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
				log.Warn().Err(err).Str("worker", workerID).Msg("heartbeat set failed")
			}
		}
	}
}
