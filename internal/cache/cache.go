// Package cache хранит быстрые счётчики и отметки вне процесса, чтобы роутер масштабировался горизонтально.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Counters — счётчик непрочитанных по контакту и одноразовые отметки (SETNX).
type Counters interface {
	IncrUnread(ctx context.Context, companyID, contactID uint64) (int64, error)
	ResetUnread(ctx context.Context, companyID, contactID uint64) error
	// MarkOnce returns true the first time key is marked within ttl.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

func unreadKey(companyID, contactID uint64) string {
	return fmt.Sprintf("unread:%d:%d", companyID, contactID)
}

// Redis implements Counters on go-redis.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: 7 * 24 * time.Hour}
}

// Dial creates a client and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) IncrUnread(ctx context.Context, companyID, contactID uint64) (int64, error) {
	key := r.key(unreadKey(companyID, contactID))
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr unread: %w", err)
	}
	return incr.Val(), nil
}

func (r *Redis) ResetUnread(ctx context.Context, companyID, contactID uint64) error {
	if err := r.client.Set(ctx, r.key(unreadKey(companyID, contactID)), 0, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis reset unread: %w", err)
	}
	return nil
}

func (r *Redis) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key("once:"+key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Memory implements Counters in process (single-instance runs and tests). Marks never expire.
type Memory struct {
	mu     sync.Mutex
	unread map[string]int64
	marks  map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{unread: make(map[string]int64), marks: make(map[string]struct{})}
}

func (m *Memory) IncrUnread(_ context.Context, companyID, contactID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := unreadKey(companyID, contactID)
	m.unread[k]++
	return m.unread[k], nil
}

func (m *Memory) ResetUnread(_ context.Context, companyID, contactID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread[unreadKey(companyID, contactID)] = 0
	return nil
}

func (m *Memory) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.marks[key]; ok {
		return false, nil
	}
	m.marks[key] = struct{}{}
	return true, nil
}
