// Package dedup drops platform updates that were already processed.
//
// Webhook and long-poll delivery are at-least-once: after a restart or a
// slow handler the same update id can arrive twice. Handlers check
// IsDuplicate before work and MarkProcessed after it succeeded.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Deduper interface {
	IsDuplicate(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Driver   string // "redis", "memory" or "none"
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

const defaultTTL = 24 * time.Hour

// Open returns the configured deduper. Unknown drivers are an error; "none"
// returns a deduper that never reports duplicates.
func Open(cfg Config) (Deduper, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(ttl), nil
	case "none":
		return noop{}, nil
	case "redis":
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, errors.New("dedup: redis addr is required")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		return NewRedis(client, ttl), nil
	default:
		return nil, fmt.Errorf("dedup: unknown driver %q", cfg.Driver)
	}
}

// ---- redis ----

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisKey(key string) string { return "relaybot:update:" + key }

func (r *Redis) IsDuplicate(ctx context.Context, key string) (bool, error) {
	_, err := r.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return true, nil
}

func (r *Redis) MarkProcessed(ctx context.Context, key string) error {
	if err := r.client.Set(ctx, redisKey(key), time.Now().Unix(), r.ttl).Err(); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }
func (r *Redis) Close() error                   { return r.client.Close() }

// ---- memory ----

// Memory is a process-local TTL set.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	ops     int
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: map[string]time.Time{}, now: time.Now}
}

func (m *Memory) IsDuplicate(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if m.now().After(until) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *Memory) MarkProcessed(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[key] = now.Add(m.ttl)
	m.ops++
	if m.ops%512 == 0 {
		for k, until := range m.entries {
			if now.After(until) {
				delete(m.entries, k)
			}
		}
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

type noop struct{}

func (noop) IsDuplicate(context.Context, string) (bool, error) { return false, nil }
func (noop) MarkProcessed(context.Context, string) error       { return nil }
func (noop) Ping(context.Context) error                        { return nil }
func (noop) Close() error                                      { return nil }
