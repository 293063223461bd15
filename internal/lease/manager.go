// Package lease 基于 Redis 的投递租约：同一条投递记录同一时刻
// 只允许一个 worker 处理。排程本体的租约在 Postgres 侧（见 repo）。
package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func Key(firingID string) string {
	return "lease:firing:" + firingID
}

type Manager struct {
	rdb *redis.Client
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Acquire 尝试设置租约（仅当不存在时成功），返回是否成功
func (m *Manager) Acquire(ctx context.Context, firingID, workerID string, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, Key(firingID), workerID, ttl).Result()
}

var renewScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Renew 仅当持有者匹配时续租，返回是否成功
func (m *Manager) Renew(ctx context.Context, firingID, workerID string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, m.rdb, []string{Key(firingID)}, workerID, int(ttl.Milliseconds())).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	else
		return 0
	end
`)

// Release 仅当持有者匹配时释放租约
func (m *Manager) Release(ctx context.Context, firingID, workerID string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.rdb, []string{Key(firingID)}, workerID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Exists 租约键是否仍然存在（reaper 用来判断 worker 是否还活着）
func (m *Manager) Exists(ctx context.Context, firingID string) (bool, error) {
	n, err := m.rdb.Exists(ctx, Key(firingID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
