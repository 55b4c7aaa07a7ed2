/**
 * @description
 * Redis-backed cache-aside for the provider service catalog. The catalog only
 * needs to be fresh enough to price orders, so entries are cached as one JSON
 * blob with a short TTL. When Redis is not configured the service falls back to
 * calling the provider directly.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client library.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gainfollowers/panel-service/internal/domain"
)

// CatalogCache stores and retrieves the provider catalog snapshot.
type CatalogCache interface {
	Get(ctx context.Context) ([]domain.ServiceCatalogEntry, bool)
	Set(ctx context.Context, entries []domain.ServiceCatalogEntry)
}

// RedisCatalogCache implements CatalogCache on a shared Redis instance.
type RedisCatalogCache struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisCatalogCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCatalogCache {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "panel"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisCatalogCache{
		client: client,
		key:    trimmedPrefix + ":catalog:services",
		ttl:    ttl,
	}
}

// Get returns the cached catalog, or ok=false on a miss or any Redis error.
func (c *RedisCatalogCache) Get(ctx context.Context) ([]domain.ServiceCatalogEntry, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("level=warn component=catalog_cache msg=\"redis get failed\" err=%v", err)
		}
		return nil, false
	}

	var entries []domain.ServiceCatalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Printf("level=warn component=catalog_cache msg=\"cached catalog unreadable; dropping\" err=%v", err)
		_ = c.client.Del(ctx, c.key).Err()
		return nil, false
	}
	return entries, true
}

// Set stores the catalog snapshot. Failures are logged and ignored; the cache
// is an optimization, not a source of truth.
func (c *RedisCatalogCache) Set(ctx context.Context, entries []domain.ServiceCatalogEntry) {
	if c == nil || c.client == nil || len(entries) == 0 {
		return
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		log.Printf("level=warn component=catalog_cache msg=\"redis set failed\" err=%v", err)
	}
}
