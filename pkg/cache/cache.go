// Package cache implements the Result Cache: a fingerprinted
// analysis-result store backed by Redis, keyed on the project path and the
// watched directory's last-modified timestamp so any change to the project
// implicitly invalidates its entry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devradar/devradar/pkg/config"
	"github.com/devradar/devradar/pkg/models"
)

// keyPrefix namespaces every cache key this package writes.
const keyPrefix = "analysis:"

// Cache is the Redis-backed fingerprinted result store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache from cfg, with entries expiring after ttlHours.
func New(cfg *config.RedisConfig, ttlHours int) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{client: client, ttl: time.Duration(ttlHours) * time.Hour}
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Key computes sha256(path || ":" || lastModified.iso8601), prefixed
// "analysis:".
func Key(path string, lastModified time.Time) string {
	sum := sha256.Sum256([]byte(path + ":" + lastModified.UTC().Format(time.RFC3339Nano)))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// projectHash is sha256(path), stored with each entry so invalidate-by-path
// can match entries without knowing the lastModified they were keyed under.
func projectHash(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// entry is the wire representation stored in Redis; it carries the
// project's path hash alongside the result so Invalidate can compare
// without decoding the full analysis.
type entry struct {
	ProjectHash  string          `json:"projectHash"`
	Path         string          `json:"path"`
	LastModified time.Time       `json:"lastModified"`
	Result       models.Analysis `json:"result"`
	CreatedAt    time.Time       `json:"createdAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

// Get returns the cache entry for (path, lastModified), or (nil, false) on
// a miss. A present-but-expired entry (by the application-layer ExpiresAt,
// a second check beyond Redis's own TTL) is deleted on access rather than
// returned.
func (c *Cache) Get(ctx context.Context, path string, lastModified time.Time) (*models.CacheEntry, bool) {
	key := Key(path, lastModified)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.misses.Add(1)
		return nil, false
	}

	if time.Now().After(e.ExpiresAt) {
		_ = c.client.Del(ctx, key).Err()
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &models.CacheEntry{
		Key:          key,
		Path:         e.Path,
		LastModified: e.LastModified,
		Result:       e.Result,
		CreatedAt:    e.CreatedAt,
		ExpiresAt:    e.ExpiresAt,
	}, true
}

// Set stores result under the (path, lastModified) fingerprint with TTL
// cfg.CacheTTLHours, at both the Redis layer (SETEX) and the application
// layer (ExpiresAt embedded in the value).
func (c *Cache) Set(ctx context.Context, path string, lastModified time.Time, result models.Analysis) (bool, error) {
	key := Key(path, lastModified)
	now := time.Now()
	e := entry{
		ProjectHash:  projectHash(path),
		Path:         path,
		LastModified: lastModified,
		Result:       result,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.ttl),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return false, fmt.Errorf("cache: set: %w", err)
	}
	return true, nil
}

// Invalidate best-effort removes any cache entry for path, regardless of
// the lastModified it was written under — it scans keys and compares the
// stored projectHash. Stale entries that this
// scan misses still expire naturally via TTL.
func (c *Cache) Invalidate(ctx context.Context, path string) (int, error) {
	want := projectHash(path)
	removed := 0

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if e.ProjectHash == want {
			if err := c.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache: invalidate scan: %w", err)
	}
	return removed, nil
}

// ClearExpired removes entries whose application-layer ExpiresAt has
// passed. Redis's own TTL makes this a defensive sweep rather than the
// primary expiry mechanism.
func (c *Cache) ClearExpired(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now()

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if now.After(e.ExpiresAt) {
			if err := c.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache: clear expired scan: %w", err)
	}
	return removed, nil
}

// Stats reports cache health and in-process hit/miss counters for
// observability.
func (c *Cache) Stats(ctx context.Context) models.CacheStats {
	count, _ := c.client.DBSize(ctx).Result()
	return models.CacheStats{
		Healthy:     c.Healthy(ctx),
		KeyCount:    count,
		HitCount:    c.hits.Load(),
		MissCount:   c.misses.Load(),
		LastChecked: time.Now(),
	}
}

// Healthy pings Redis.
func (c *Cache) Healthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
