// Package queue 提供基于 Redis 的投递队列实现。
// 使用 List 实现 FIFO 的就绪队列（ready）与死信队列（dlq），
// 使用 ZSET 实现按触发时间排序的延时队列（delayed）。
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReadyKey 就绪队列，格式 "queue:{name}:ready"，worker 通过 BLPOP 消费
func ReadyKey(queueName string) string {
	return "queue:" + queueName + ":ready"
}

// DelayedKey 延时队列（ZSET，score 为触发时间的 Unix 时间戳）
func DelayedKey(queueName string) string {
	return "queue:" + queueName + ":delayed"
}

// DLQKey 死信队列，存放重试耗尽的投递消息，供审计与重放
func DLQKey(queueName string) string {
	return "queue:" + queueName + ":dlq"
}

// EnqueueReady 将消息加入就绪队列尾部
func EnqueueReady(ctx context.Context, rdb *redis.Client, queueName string, payload string) error {
	return rdb.RPush(ctx, ReadyKey(queueName), payload).Err()
}

// EnqueueDelayed 将消息加入延时队列，到期后由 mover 搬运到就绪队列
func EnqueueDelayed(ctx context.Context, rdb *redis.Client, queueName string, payload string, triggerAt time.Time) error {
	return rdb.ZAdd(ctx, DelayedKey(queueName), redis.Z{
		Score:  float64(triggerAt.Unix()),
		Member: payload,
	}).Err()
}

// moveDueScript 原子地把到期元素从 delayed 移到 ready，避免搬运中途
// 崩溃造成的消息丢失或重复
var moveDueScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	for i, m in ipairs(due) do
		redis.call('ZREM', KEYS[1], m)
		redis.call('RPUSH', KEYS[2], m)
	end
	return #due
`)

// MoveDueDelayedToReady 将到期的延时消息搬运到就绪队列，返回搬运数量
func MoveDueDelayedToReady(ctx context.Context, rdb *redis.Client, queueName string, now time.Time, limit int) (int, error) {
	n, err := moveDueScript.Run(ctx, rdb,
		[]string{DelayedKey(queueName), ReadyKey(queueName)},
		fmt.Sprintf("%d", now.Unix()), limit,
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// EnqueueDLQ 将重试耗尽的消息加入死信队列
func EnqueueDLQ(ctx context.Context, rdb *redis.Client, queueName string, payload string) error {
	return rdb.RPush(ctx, DLQKey(queueName), payload).Err()
}

// ListDLQ 查看死信队列内容（不移除），索引语义同 LRANGE
func ListDLQ(ctx context.Context, rdb *redis.Client, queueName string, start, stop int64) ([]string, error) {
	return rdb.LRange(ctx, DLQKey(queueName), start, stop).Result()
}

// ReplayDLQ 将最多 count 条死信消息重放回就绪队列，返回实际重放数量
func ReplayDLQ(ctx context.Context, rdb *redis.Client, queueName string, count int) (int, error) {
	moved := 0
	for i := 0; i < count; i++ {
		val, err := rdb.LPop(ctx, DLQKey(queueName)).Result()
		if err != nil {
			if err == redis.Nil {
				break
			}
			return moved, err
		}
		if err := rdb.RPush(ctx, ReadyKey(queueName), val).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// AcquireLock SetNX 抢占一把带 TTL 的锁，返回是否成功
func AcquireLock(ctx context.Context, rdb *redis.Client, key, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, owner, ttl).Result()
}

var releaseLockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	else
		return 0
	end
`)

// ReleaseLock 仅当持有者匹配时释放锁
func ReleaseLock(ctx context.Context, rdb *redis.Client, key, owner string) (bool, error) {
	n, err := releaseLockScript.Run(ctx, rdb, []string{key}, owner).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Connect 建立 Redis 连接并用 PING 验证可用
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
