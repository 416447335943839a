//go:build integration

// Package testhelpers builds live dependencies for tests run with -tags integration.
package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-proxy/internal/cache"
	"github.com/kjstillabower/city-weather-proxy/internal/client"
	"github.com/kjstillabower/city-weather-proxy/internal/observability"
	"github.com/kjstillabower/city-weather-proxy/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        getenv("WEATHER_API_URL", "https://api.openweathermap.org/data/2.5/weather"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: getenv("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SetupIntegrationStore returns the configured cache backend, falling back to in-memory
// when the remote backend is unreachable.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) (cache.Cache, func()) {
	t.Helper()
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil {
			t.Logf("using memcached at %s", cfg.MemcachedAddr)
			return mc, func() { _ = mc.Close() }
		}
		t.Logf("memcached not available (%v), using in-memory cache", err)
	case "redis":
		rc, err := cache.NewRedisCache(context.Background(), cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err == nil {
			t.Logf("using redis at %s", cfg.RedisAddr)
			return rc, func() { _ = rc.Close() }
		}
		t.Logf("redis not available (%v), using in-memory cache", err)
	}
	return cache.NewInMemoryCache(), func() {}
}

// SetupIntegrationClient creates a live OpenWeatherMap client.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationWeatherCache wires a live client to the configured store.
func SetupIntegrationWeatherCache(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherCache, cache.Cache, func()) {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	store, cleanup := SetupIntegrationStore(t, cfg)
	return service.NewWeatherCache(SetupIntegrationClient(t, cfg), store, service.DefaultTTL, logger), store, cleanup
}
