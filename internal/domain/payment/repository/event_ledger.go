package repository

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventLedger 回调事件去重台账
// 网关按 at-least-once 投递，Claim 抢占保证同一事件只触发一次对账；
// 域操作失败时 Release 归还占用，让网关重试有机会成功
type EventLedger interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

const ledgerKeyPrefix = "storefront:webhook:event:"

// RedisEventLedger Redis 实现，跨进程重启仍然有效
type RedisEventLedger struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisEventLedger retention 建议 30 天，覆盖网关的重试窗口
func NewRedisEventLedger(client *redis.Client, retention time.Duration) *RedisEventLedger {
	return &RedisEventLedger{client: client, retention: retention}
}

func (l *RedisEventLedger) Claim(ctx context.Context, eventID string) (bool, error) {
	return l.client.SetNX(ctx, ledgerKeyPrefix+eventID, "processing", l.retention).Result()
}

func (l *RedisEventLedger) MarkProcessed(ctx context.Context, eventID string) error {
	return l.client.Set(ctx, ledgerKeyPrefix+eventID, "done", l.retention).Err()
}

func (l *RedisEventLedger) Release(ctx context.Context, eventID string) error {
	return l.client.Del(ctx, ledgerKeyPrefix+eventID).Err()
}

// MemoryEventLedger 进程内实现，用于测试和未配置 Redis 的本地环境
type MemoryEventLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryEventLedger() *MemoryEventLedger {
	return &MemoryEventLedger{seen: make(map[string]struct{})}
}

func (l *MemoryEventLedger) Claim(ctx context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[eventID]; ok {
		return false, nil
	}
	l.seen[eventID] = struct{}{}
	return true, nil
}

func (l *MemoryEventLedger) MarkProcessed(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[eventID] = struct{}{}
	return nil
}

func (l *MemoryEventLedger) Release(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, eventID)
	return nil
}
