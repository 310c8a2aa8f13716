package policy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/audit"
	"github.com/straja-ai/apiguard/internal/redact"
)

// Cache holds the most recently fetched active policy set.
type Cache interface {
	Get(ctx context.Context) ([]audit.Policy, bool)
	Set(ctx context.Context, policies []audit.Policy)
}

// MemoryCache keeps the policy set in process for ttl.
type MemoryCache struct {
	mu        sync.RWMutex
	policies  []audit.Policy
	expiresAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(context.Context) ([]audit.Policy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.policies == nil || !c.now().Before(c.expiresAt) {
		return nil, false
	}
	return clonePolicies(c.policies), true
}

func (c *MemoryCache) Set(_ context.Context, policies []audit.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = clonePolicies(policies)
	c.expiresAt = c.now().Add(c.ttl)
}

// RedisCache shares the policy set between replicas. Redis failures are
// logged and treated as a miss.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    *zap.Logger
}

// RedisOptions configures NewRedisCache.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

func NewRedisCache(opts RedisOptions, log *zap.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	return newRedisCache(client, opts.KeyPrefix, opts.TTL, log)
}

func newRedisCache(client *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{
		client: client,
		key:    prefix + "policies:active",
		ttl:    ttl,
		log:    log.Named("policy_cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context) ([]audit.Policy, bool) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("get", err)
		}
		return nil, false
	}
	var policies []audit.Policy
	if err := json.Unmarshal(raw, &policies); err != nil {
		c.warn("decode", err)
		return nil, false
	}
	return policies, true
}

func (c *RedisCache) Set(ctx context.Context, policies []audit.Policy) {
	raw, err := json.Marshal(policies)
	if err != nil {
		c.warn("encode", err)
		return
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		c.warn("set", err)
	}
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) warn(op string, err error) {
	c.log.Warn("redis policy cache error", zap.String("op", op), zap.String("error", redact.String(err.Error())))
}

func clonePolicies(in []audit.Policy) []audit.Policy {
	if in == nil {
		return nil
	}
	out := make([]audit.Policy, len(in))
	copy(out, in)
	return out
}
