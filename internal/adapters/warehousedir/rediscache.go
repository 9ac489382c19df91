package warehousedir

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

// DefaultCacheTTL bounds how stale a cached directory read may get. Warehouse
// master data changes rarely, committed_units drifts, so the TTL stays short.
const DefaultCacheTTL = time.Minute

const (
	cacheKeyAll    = "reservation_engine:warehouses:all"
	cacheKeyPrefix = "reservation_engine:warehouses:id:"
)

// CachedDirectory layers a Redis TTL cache over another directory. Cache
// failures fall through to the inner directory, so an outage only costs
// latency. A nil client disables caching entirely.
type CachedDirectory struct {
	inner  storage.WarehouseDirectory
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ storage.WarehouseDirectory = (*CachedDirectory)(nil)

// NewCached wraps inner with a cache.
func NewCached(inner storage.WarehouseDirectory, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logger.NewDefault("warehousedir-cache")
	}
	return &CachedDirectory{inner: inner, client: client, ttl: ttl, log: log}
}

// Warehouse returns one record, from cache when present.
func (d *CachedDirectory) Warehouse(ctx context.Context, id string) (warehouse.Warehouse, error) {
	key := cacheKeyPrefix + id
	var cached warehouse.Warehouse
	if d.lookup(ctx, key, &cached) {
		return cached, nil
	}

	wh, err := d.inner.Warehouse(ctx, id)
	if err != nil {
		return warehouse.Warehouse{}, err
	}
	d.store(ctx, key, wh)
	return wh, nil
}

// Warehouses returns the full directory, from cache when present.
func (d *CachedDirectory) Warehouses(ctx context.Context) ([]warehouse.Warehouse, error) {
	var cached []warehouse.Warehouse
	if d.lookup(ctx, cacheKeyAll, &cached) {
		return cached, nil
	}

	list, err := d.inner.Warehouses(ctx)
	if err != nil {
		return nil, err
	}
	d.store(ctx, cacheKeyAll, list)
	return list, nil
}

func (d *CachedDirectory) lookup(ctx context.Context, key string, target interface{}) bool {
	if d.client == nil {
		return false
	}
	payload, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		d.log.WithError(err).WithField("key", key).Debug("warehouse cache read failed")
		return false
	}
	if err := json.Unmarshal([]byte(payload), target); err != nil {
		d.log.WithError(err).WithField("key", key).Debug("warehouse cache entry corrupt")
		return false
	}
	return true
}

func (d *CachedDirectory) store(ctx context.Context, key string, value interface{}) {
	if d.client == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := d.client.Set(ctx, key, payload, d.ttl).Err(); err != nil {
		d.log.WithError(err).WithField("key", key).Debug("warehouse cache write failed")
	}
}
