package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-proxy/internal/models"
	"github.com/kjstillabower/city-weather-proxy/internal/observability"
)

// WeatherFetcher is implemented by the service layer. Used by CacheWarmer to avoid
// a circular dependency on the service package.
type WeatherFetcher interface {
	Lookup(ctx context.Context, cityID int) (models.WeatherSnapshot, error)
}

// CacheWarmer prefetches weather for a list of cities through the normal lookup path.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer. logger may be nil.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm looks up every city concurrently. Returns the joined errors of failed cities.
func (w *CacheWarmer) Warm(ctx context.Context, cityIDs []int) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cityIDs)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range cityIDs {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := w.fetcher.Lookup(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm city %d: %w", id, err))
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cityIDs)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, cityIDs []int, interval time.Duration) error {
	if err := w.Warm(ctx, cityIDs); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, cityIDs); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
