package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-proxy/internal/cache"
	"github.com/kjstillabower/city-weather-proxy/internal/catalog"
	"github.com/kjstillabower/city-weather-proxy/internal/client"
	"github.com/kjstillabower/city-weather-proxy/internal/config"
	httphandler "github.com/kjstillabower/city-weather-proxy/internal/http"
	"github.com/kjstillabower/city-weather-proxy/internal/lifecycle"
	"github.com/kjstillabower/city-weather-proxy/internal/observability"
	"github.com/kjstillabower/city-weather-proxy/internal/service"
)

const inFlightCheckInterval = 100 * time.Millisecond

// remoteStore is a cache backend living outside the process.
type remoteStore interface {
	cache.Cache
	Ping() error
	Close() error
}

// newStore builds the configured cache backend. remote is nil for in_memory.
func newStore(ctx context.Context, cfg *config.Config) (store cache.Cache, remote remoteStore, err error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, fmt.Errorf("memcached cache: %w", err)
		}
		return mc, mc, nil
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, rc, nil
	default:
		return cache.NewInMemoryCache(), nil, nil
	}
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	weatherClient.SetUserAgent(cfg.WeatherAPIUserAgent)
	if !weatherClient.Configured() {
		logger.Error("weather API key is not configured; weather lookups will fail until WEATHER_API_KEY is set")
	}

	store, remote, err := newStore(context.Background(), cfg)
	if err != nil {
		logger.Fatal("cache backend", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend), zap.Duration("ttl", cfg.CacheTTL))
	weatherCache := service.NewWeatherCache(weatherClient, store, cfg.CacheTTL, logger)

	cities, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("city catalog", zap.Error(err), zap.String("path", cfg.CatalogPath))
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		APIConfigured:    weatherClient.Configured,
	}
	if remote != nil {
		healthConfig.CachePing = remote.Ping
	}
	handler := httphandler.NewHandler(weatherCache, cities, healthConfig, logger, cfg.DistinguishUnavailable)
	observability.RegisterTrafficGauges(cfg.DegradedWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		CORSOrigin:     cfg.CORSOrigin,
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CacheWarm {
		warmer := cache.NewCacheWarmer(weatherCache, logger)
		ids := cities.CityIDs()
		if cfg.CacheWarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, ids, cfg.CacheWarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else {
			warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := warmer.Warm(warmCtx, ids); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			warmCancel()
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)

	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if remote != nil {
		if err := remote.Close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
