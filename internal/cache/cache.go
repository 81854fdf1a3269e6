// Package cache is a read-through cache in front of the link store. It is an
// optimization, never a source of truth: every error reports a miss and the
// caller falls through to the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const listVersionKey = "qrtrack:links:list:ver"

// Cache wraps a redis client with link-specific key construction and
// conservative list invalidation. A nil client is a valid, permanently-cold
// cache.
type Cache struct {
	rdb     *redis.Client
	linkTTL time.Duration
	listTTL time.Duration
	logger  *zap.Logger
}

// New builds a Cache. addr empty disables caching entirely; connection
// problems are discovered lazily and degrade to misses.
func New(addr string, linkTTL, listTTL time.Duration) *Cache {
	var rdb *redis.Client
	if addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
	}
	return &Cache{
		rdb:     rdb,
		linkTTL: linkTTL,
		listTTL: listTTL,
		logger:  zap.L().With(zap.String("component", "Cache")),
	}
}

// Enabled reports whether a redis backend is configured.
func (c *Cache) Enabled() bool { return c != nil && c.rdb != nil }

// IDKey and CodeKey build the deterministic keys for single-record lookups.
func IDKey(id uint) string { return fmt.Sprintf("qrtrack:link:id:%d", id) }

func CodeKey(code string) string { return "qrtrack:link:code:" + code }

// ListKey fingerprints a list query (filter, sort, page tuple) under the
// current list version, so bumping the version invalidates every cached
// page at once.
func (c *Cache) ListKey(ctx context.Context, fingerprint string) string {
	ver := c.listVersion(ctx)
	h := fnv.New64a()
	h.Write([]byte(fingerprint))
	return fmt.Sprintf("qrtrack:links:list:%d:%x", ver, h.Sum64())
}

// GetLink returns the cached link for key, or (nil, false) on miss or any
// cache error.
func (c *Cache) GetLink(ctx context.Context, key string) (*models.TrackingLink, bool) {
	if !c.Enabled() {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var link models.TrackingLink
	if err := json.Unmarshal(raw, &link); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		c.rdb.Del(ctx, key)
		return nil, false
	}
	return &link, true
}

// SetLink stores a link under every provided key with the single-record TTL.
// Failures are logged and swallowed.
func (c *Cache) SetLink(ctx context.Context, link *models.TrackingLink, keys ...string) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(link)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.Uint("link_id", link.ID), zap.Error(err))
		return
	}
	for _, key := range keys {
		if err := c.rdb.Set(ctx, key, raw, c.linkTTL).Err(); err != nil {
			c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// GetList returns a cached list page plus total count, or ok=false.
func (c *Cache) GetList(ctx context.Context, key string) ([]models.TrackingLink, int64, bool) {
	if !c.Enabled() {
		return nil, 0, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, 0, false
	}
	var page cachedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		c.rdb.Del(ctx, key)
		return nil, 0, false
	}
	return page.Items, page.Total, true
}

// SetList stores a list page with the longer list TTL.
func (c *Cache) SetList(ctx context.Context, key string, items []models.TrackingLink, total int64) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(cachedPage{Items: items, Total: total})
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.listTTL).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate deletes single-record entries. Used synchronously on every
// write so readers never see pre-update data.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// BumpListVersion conservatively invalidates all cached list pages by
// rotating the version embedded in their keys. Old entries age out via TTL.
func (c *Cache) BumpListVersion(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	if err := c.rdb.Incr(ctx, listVersionKey).Err(); err != nil {
		c.logger.Warn("list version bump failed", zap.Error(err))
	}
}

func (c *Cache) listVersion(ctx context.Context) int64 {
	if !c.Enabled() {
		return 0
	}
	ver, err := c.rdb.Get(ctx, listVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("list version read failed", zap.Error(err))
	}
	return ver
}

type cachedPage struct {
	Items []models.TrackingLink `json:"items"`
	Total int64                 `json:"total"`
}
