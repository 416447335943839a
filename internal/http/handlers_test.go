package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/city-weather-proxy/internal/cache"
	"github.com/kjstillabower/city-weather-proxy/internal/catalog"
	"github.com/kjstillabower/city-weather-proxy/internal/client"
	"github.com/kjstillabower/city-weather-proxy/internal/lifecycle"
	"github.com/kjstillabower/city-weather-proxy/internal/models"
	"github.com/kjstillabower/city-weather-proxy/internal/service"
	"github.com/kjstillabower/city-weather-proxy/internal/traffic"
)

type mockWeatherClient struct {
	snapshot models.WeatherSnapshot
	err      error
	block    chan struct{} // if set, Fetch blocks until ctx.Done() or block closes
	calls    atomic.Int32
}

func (m *mockWeatherClient) Fetch(ctx context.Context, cityID int) (models.WeatherSnapshot, error) {
	m.calls.Add(1)
	if m.block != nil {
		select {
		case <-ctx.Done():
			return models.WeatherSnapshot{}, fmt.Errorf("%w: %w", client.ErrTransport, ctx.Err())
		case <-m.block:
		}
	}
	return m.snapshot, m.err
}

type mockCityLister struct {
	cities []catalog.City
	err    error
}

func (m *mockCityLister) List() ([]catalog.City, error) {
	return m.cities, m.err
}

func colombo() models.WeatherSnapshot {
	return models.NewWeatherSnapshot(1248991, "Colombo",
		[]models.Condition{{Main: "Clouds", Description: "broken clouds", Icon: "04d"}},
		models.Measurements{Temp: 28.5, FeelsLike: 32.1, TempMin: 27.9, TempMax: 29.0, Pressure: 1009, Humidity: 79})
}

// newTestHandler builds a handler over a real WeatherCache with an in-memory store.
func newTestHandler(t *testing.T, c client.WeatherClient, hc *HealthConfig, distinguish bool) *Handler {
	t.Helper()
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	t.Cleanup(func() {
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
	})
	wc := service.NewWeatherCache(c, cache.NewInMemoryCache(), time.Minute, zap.NewNop())
	cat, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	return NewHandler(wc, cat, hc, zap.NewNop(), distinguish)
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	NewRouter(h, RouterConfig{}, zap.NewNop()).ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Error map[string]string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

// TestHandler_GetWeather_Success verifies the browser wire format for a fetched snapshot.
func TestHandler_GetWeather_Success(t *testing.T) {
	// Arrange
	mockClient := &mockWeatherClient{snapshot: colombo()}
	handler := newTestHandler(t, mockClient, nil, false)

	// Act
	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/weather/1248991", nil))

	// Assert
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["name"] != "Colombo" || body["id"] != float64(1248991) {
		t.Errorf("body = %v, want Colombo 1248991", body)
	}
	main, _ := body["main"].(map[string]interface{})
	if main["feels_Like"] != 32.1 || main["temp_Min"] != 27.9 || main["humidity"] != float64(79) {
		t.Errorf("main = %v", main)
	}
	weather, _ := body["weather"].([]interface{})
	if len(weather) != 1 {
		t.Fatalf("weather = %v, want one condition", body["weather"])
	}
	if cond := weather[0].(map[string]interface{}); cond["icon"] != "04d" {
		t.Errorf("condition = %v", cond)
	}
}

// TestHandler_GetWeather_SecondRequestServedFromCache verifies a fresh entry suppresses the upstream call.
func TestHandler_GetWeather_SecondRequestServedFromCache(t *testing.T) {
	mockClient := &mockWeatherClient{snapshot: colombo()}
	handler := newTestHandler(t, mockClient, nil, false)

	for i := 0; i < 3; i++ {
		if w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/weather/1248991", nil)); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	if got := mockClient.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestHandler_GetWeather_InvalidCityID(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"word", "/api/weather/colombo"},
		{"decimal", "/api/weather/12.5"},
		{"whitespace", "/api/weather/%20%20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &mockWeatherClient{snapshot: colombo()}
			handler := newTestHandler(t, mockClient, nil, false)

			w := serve(handler, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if got := decodeError(t, w)["code"]; got != "INVALID_CITY_ID" {
				t.Errorf("code = %q, want INVALID_CITY_ID", got)
			}
			if mockClient.calls.Load() != 0 {
				t.Error("upstream called for invalid id")
			}
		})
	}
}

// TestHandler_GetWeather_FailureStatus covers the mapping of every failure kind, with and
// without distinguishing unavailability.
func TestHandler_GetWeather_FailureStatus(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		distinguish bool
		wantStatus  int
	}{
		{"misconfigured", client.ErrMisconfigured, false, http.StatusNotFound},
		{"rejected", &client.UpstreamRejectedError{StatusCode: 404}, false, http.StatusNotFound},
		{"malformed", fmt.Errorf("%w: bad json", client.ErrMalformedResponse), false, http.StatusNotFound},
		{"transport", fmt.Errorf("%w: dial tcp", client.ErrTransport), false, http.StatusNotFound},
		{"misconfigured distinguished", client.ErrMisconfigured, true, http.StatusServiceUnavailable},
		{"rejected distinguished", &client.UpstreamRejectedError{StatusCode: 401}, true, http.StatusNotFound},
		{"transport distinguished", fmt.Errorf("%w: dial tcp", client.ErrTransport), true, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(t, &mockWeatherClient{err: tt.err}, nil, tt.distinguish)

			req := httptest.NewRequest(http.MethodGet, "/api/weather/42", nil)
			req.Header.Set("X-Correlation-ID", "corr-1")
			w := serve(handler, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body["requestId"] != "corr-1" {
				t.Errorf("requestId = %q, want corr-1", body["requestId"])
			}
			if tt.wantStatus == http.StatusNotFound && body["message"] != "Weather data not found for city ID: 42" {
				t.Errorf("message = %q", body["message"])
			}
		})
	}
}

// TestHandler_GetWeather_FailureNotCached verifies each failed request reaches upstream again.
func TestHandler_GetWeather_FailureNotCached(t *testing.T) {
	mockClient := &mockWeatherClient{err: fmt.Errorf("%w: reset", client.ErrTransport)}
	handler := newTestHandler(t, mockClient, nil, false)

	serve(handler, httptest.NewRequest(http.MethodGet, "/api/weather/7", nil))
	serve(handler, httptest.NewRequest(http.MethodGet, "/api/weather/7", nil))

	if got := mockClient.calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestHandler_GetWeather_RecordsTraffic(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantErrors int
	}{
		{"success", nil, 0},
		{"client rejection is not an upstream error", &client.UpstreamRejectedError{StatusCode: 404}, 0},
		{"server rejection", &client.UpstreamRejectedError{StatusCode: 502}, 1},
		{"transport", client.ErrTransport, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(t, &mockWeatherClient{snapshot: colombo(), err: tt.err}, nil, false)

			serve(handler, httptest.NewRequest(http.MethodGet, "/api/weather/1", nil))

			errs, total := traffic.ErrorRate(time.Minute)
			if total != 1 || errs != tt.wantErrors {
				t.Errorf("ErrorRate() = %d/%d, want %d/1", errs, total, tt.wantErrors)
			}
		})
	}
}

func TestHandler_GetWeather_DebugLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	traffic.Reset()
	defer traffic.Reset()
	wc := service.NewWeatherCache(&mockWeatherClient{err: client.ErrMisconfigured}, cache.NewInMemoryCache(), time.Minute, nil)
	handler := NewHandler(wc, &mockCityLister{}, nil, nil, false)

	w := httptest.NewRecorder()
	NewRouter(handler, RouterConfig{}, zap.New(core)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/weather/5", nil))

	entries := logs.FilterMessage("weather lookup failed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d 'weather lookup failed' logs, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["category"] != "misconfigured" {
		t.Errorf("category = %v, want misconfigured", fields["category"])
	}
	if fields["correlation_id"] == nil {
		t.Error("log missing correlation_id")
	}
}

func TestHandler_GetCities(t *testing.T) {
	handler := newTestHandler(t, &mockWeatherClient{}, nil, false)

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/weather/cities", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var cities []catalog.City
	if err := json.NewDecoder(w.Body).Decode(&cities); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cities) == 0 || cities[0].CityCode == "" {
		t.Errorf("cities = %+v, want non-empty list", cities)
	}
}

func TestHandler_GetCities_CatalogError(t *testing.T) {
	wc := service.NewWeatherCache(&mockWeatherClient{}, cache.NewInMemoryCache(), time.Minute, nil)
	handler := NewHandler(wc, &mockCityLister{err: errors.New("disk gone")}, nil, zap.NewNop(), false)

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/weather/cities", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if got := decodeError(t, w)["code"]; got != "CATALOG_UNAVAILABLE" {
		t.Errorf("code = %q", got)
	}
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) (string, map[string]string) {
	t.Helper()
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return body.Status, body.Checks
}

func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name       string
		hc         *HealthConfig
		setup      func()
		wantStatus string
		wantCode   int
		wantAPI    string
		wantCache  string
	}{
		{
			name:       "no config",
			wantStatus: "healthy", wantCode: http.StatusOK, wantAPI: "healthy",
		},
		{
			name:       "shutting down",
			hc:         &HealthConfig{},
			setup:      func() { lifecycle.SetShuttingDown(true) },
			wantStatus: "shutting-down", wantCode: http.StatusServiceUnavailable, wantAPI: "healthy",
		},
		{
			name:       "misconfigured",
			hc:         &HealthConfig{APIConfigured: func() bool { return false }},
			wantStatus: "misconfigured", wantCode: http.StatusServiceUnavailable, wantAPI: "misconfigured",
		},
		{
			name: "degraded",
			hc:   &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			setup: func() {
				traffic.RecordError()
				traffic.RecordError()
				traffic.RecordSuccess()
			},
			wantStatus: "degraded", wantCode: http.StatusServiceUnavailable, wantAPI: "unhealthy",
		},
		{
			name: "below error threshold",
			hc:   &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			setup: func() {
				traffic.RecordError()
				traffic.RecordSuccess()
				traffic.RecordSuccess()
			},
			wantStatus: "healthy", wantCode: http.StatusOK, wantAPI: "healthy",
		},
		{
			name:       "cache unreachable",
			hc:         &HealthConfig{CachePing: func() error { return errors.New("refused") }},
			wantStatus: "healthy", wantCode: http.StatusOK, wantAPI: "healthy", wantCache: "unhealthy",
		},
		{
			name:       "cache reachable",
			hc:         &HealthConfig{CachePing: func() error { return nil }},
			wantStatus: "healthy", wantCode: http.StatusOK, wantAPI: "healthy", wantCache: "healthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &mockWeatherClient{}
			handler := newTestHandler(t, mockClient, tt.hc, false)
			if tt.setup != nil {
				tt.setup()
			}

			w := serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			status, checks := decodeHealth(t, w)
			if status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status, tt.wantStatus)
			}
			if checks["weatherApi"] != tt.wantAPI {
				t.Errorf("checks.weatherApi = %q, want %q", checks["weatherApi"], tt.wantAPI)
			}
			if checks["cache"] != tt.wantCache {
				t.Errorf("checks.cache = %q, want %q", checks["cache"], tt.wantCache)
			}
			if mockClient.calls.Load() != 0 {
				t.Error("health check called upstream")
			}
		})
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	defer lifecycle.SetShuttingDown(false)

	wc := service.NewWeatherCache(&mockWeatherClient{}, cache.NewInMemoryCache(), time.Minute, nil)
	handler := NewHandler(wc, &mockCityLister{}, &HealthConfig{}, zap.New(core), false)

	serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	lifecycle.SetShuttingDown(true)
	serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("got %d transition logs, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "shutting-down" {
		t.Errorf("transition fields = %v", fields)
	}
}
