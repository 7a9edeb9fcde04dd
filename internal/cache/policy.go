package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/policy"
)

const keyPrefix = "promptgate:policies"

// Config contains policy cache configuration
type Config struct {
	RedisURL string        `yaml:"redis_url" mapstructure:"redis_url"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// Loader fetches the enabled policy snapshot of one tenant from storage.
type Loader func(ctx context.Context, tenantID string) ([]policy.PolicyRecord, error)

// PolicyCache keeps per-tenant enabled-policy snapshots in Redis so the hot
// decision path avoids a policy query per event. Cache failures degrade to
// the loader; they never fail a decision.
type PolicyCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	stats  cacheStats
}

type cacheStats struct {
	hits   int64
	misses int64
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// New connects to Redis and verifies the connection.
func New(config *Config, logger *zap.Logger) (*PolicyCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Policy cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("ttl", config.TTL))

	return &PolicyCache{client: client, ttl: config.TTL, logger: logger}, nil
}

func tenantKey(tenantID string) string {
	return keyPrefix + ":" + tenantID
}

// GetEnabledPolicies returns the cached snapshot for a tenant, falling back
// to the loader on miss or on any cache error. Loaded snapshots are cached
// with the configured TTL.
func (pc *PolicyCache) GetEnabledPolicies(ctx context.Context, tenantID string, load Loader) ([]policy.PolicyRecord, error) {
	key := tenantKey(tenantID)

	cached, err := pc.client.Get(ctx, key).Result()
	if err == nil {
		var records []policy.PolicyRecord
		if err := json.Unmarshal([]byte(cached), &records); err == nil {
			pc.stats.hits++
			pc.logger.Debug("Policy cache hit",
				zap.String("tenant_id", tenantID),
				zap.Int("policies", len(records)))
			return records, nil
		}
		// Corrupted entry, drop it and reload.
		pc.logger.Warn("Dropping corrupted policy cache entry", zap.String("key", key))
		pc.client.Del(ctx, key)
	} else if err != redis.Nil {
		pc.logger.Error("Policy cache lookup failed", zap.Error(err))
	}

	pc.stats.misses++
	records, err := load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		if err := pc.client.Set(ctx, key, data, pc.ttl).Err(); err != nil {
			pc.logger.Error("Failed to cache policy snapshot", zap.Error(err))
		}
	}

	return records, nil
}

// Invalidate drops the cached snapshot of one tenant, forcing the next
// decision to reload from storage. Called after policy mutations.
func (pc *PolicyCache) Invalidate(ctx context.Context, tenantID string) error {
	if err := pc.client.Del(ctx, tenantKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate policy cache: %w", err)
	}
	pc.logger.Info("Policy cache invalidated", zap.String("tenant_id", tenantID))
	return nil
}

// GetStats returns cache performance statistics.
func (pc *PolicyCache) GetStats() CacheStats {
	stats := CacheStats{Hits: pc.stats.hits, Misses: pc.stats.misses}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Close closes the Redis connection.
func (pc *PolicyCache) Close() error {
	if pc.client != nil {
		return pc.client.Close()
	}
	return nil
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
