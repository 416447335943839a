package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/city-weather-proxy/internal/cache"
	"github.com/kjstillabower/city-weather-proxy/internal/client"
	"github.com/kjstillabower/city-weather-proxy/internal/models"
	"github.com/kjstillabower/city-weather-proxy/internal/observability"
)

// DefaultTTL is how long a stored snapshot is served without asking upstream.
const DefaultTTL = 5 * time.Minute

const cacheType = "weather"

// WeatherCache serves weather snapshots by city id, calling the upstream client only
// when no entry younger than the TTL exists. Construct once at startup and share;
// it is safe for concurrent use.
type WeatherCache struct {
	client   client.WeatherClient
	store    cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
	inflight singleflight.Group
	stampede *stampedeTracker
	now      func() time.Time
}

// NewWeatherCache wires the upstream client to a cache store. A non-positive ttl
// uses DefaultTTL; a nil logger disables logging outside request scope.
func NewWeatherCache(c client.WeatherClient, store cache.Cache, ttl time.Duration, logger *zap.Logger) *WeatherCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherCache{
		client:   c,
		store:    store,
		ttl:      ttl,
		logger:   logger,
		stampede: newStampedeTracker(),
		now:      time.Now,
	}
}

// TTL returns the freshness window.
func (c *WeatherCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the snapshot for cityID, or ok=false when none could be obtained.
// Every failure kind collapses to ok=false; use Lookup to tell them apart.
func (c *WeatherCache) Get(ctx context.Context, cityID int) (models.WeatherSnapshot, bool) {
	snap, err := c.Lookup(ctx, cityID)
	if err != nil {
		return models.WeatherSnapshot{}, false
	}
	return snap, true
}

// Lookup is Get with the failure kind preserved. Errors wrap the client sentinels
// (client.ErrMisconfigured, client.ErrUpstreamRejected, client.ErrMalformedResponse,
// client.ErrTransport) or the caller's context error. Failures are never cached.
func (c *WeatherCache) Lookup(ctx context.Context, cityID int) (models.WeatherSnapshot, error) {
	key := cache.Key(cityID)
	logger := observability.LoggerFromContext(ctx, c.logger).With(zap.Int("city_id", cityID))

	entry, found := c.read(ctx, key, logger)
	if found {
		now := c.now()
		if entry.Fresh(now, c.ttl) {
			observability.CacheHitsTotal.WithLabelValues(cacheType).Inc()
			logger.Debug("cache hit", zap.Duration("age", entry.Age(now)))
			return entry.Snapshot, nil
		}
	}
	observability.CacheMissesTotal.WithLabelValues(cacheType).Inc()
	logger.Debug("cache miss", zap.Bool("expired", found))

	if n := c.stampede.RecordMiss(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
	}
	defer c.stampede.RecordDone(key)

	// Concurrent misses for one key share a single upstream call. The call is detached
	// from any one caller's cancellation and bounded by the client timeout instead.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		return c.fetchAndStore(fetchCtx, cityID, key, logger)
	})

	select {
	case <-ctx.Done():
		return models.WeatherSnapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.WeatherSnapshot{}, res.Err
		}
		snap := res.Val.(models.WeatherSnapshot)
		if res.Shared {
			snap = snap.Clone()
		}
		return snap, nil
	}
}

// read returns the stored entry for key regardless of age. Store errors read as a miss.
func (c *WeatherCache) read(ctx context.Context, key string, logger *zap.Logger) (cache.Entry, bool) {
	start := time.Now()
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(time.Since(start).Seconds())
		logger.Warn("cache get failed", zap.Error(err))
		return cache.Entry{}, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(time.Since(start).Seconds())
	return entry, ok
}

func (c *WeatherCache) fetchAndStore(ctx context.Context, cityID int, key string, logger *zap.Logger) (models.WeatherSnapshot, error) {
	start := time.Now()
	snap, err := c.client.Fetch(ctx, cityID)
	if err != nil {
		logFetchFailure(logger, err)
		return models.WeatherSnapshot{}, err
	}

	setStart := time.Now()
	if err := c.store.Set(ctx, key, cache.Entry{Snapshot: snap, StoredAt: c.now()}, c.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.Error(err))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	logger.Debug("weather fetched", zap.String("city", snap.Name), zap.Duration("duration", time.Since(start)))
	return snap, nil
}

// logFetchFailure logs each failure kind at the level an operator needs.
func logFetchFailure(logger *zap.Logger, err error) {
	category := client.CategorizeError(err)
	switch category {
	case client.ErrorCategoryMisconfigured:
		logger.Error("weather API key is not configured")
	case client.ErrorCategoryUpstreamRejected:
		logger.Warn("upstream rejected request", zap.Int("status_code", client.StatusCode(err)))
	default:
		logger.Error("weather fetch failed", zap.String("category", string(category)), zap.Error(err))
	}
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
