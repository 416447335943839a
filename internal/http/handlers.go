package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-proxy/internal/catalog"
	"github.com/kjstillabower/city-weather-proxy/internal/client"
	"github.com/kjstillabower/city-weather-proxy/internal/lifecycle"
	"github.com/kjstillabower/city-weather-proxy/internal/models"
	"github.com/kjstillabower/city-weather-proxy/internal/observability"
	"github.com/kjstillabower/city-weather-proxy/internal/traffic"
	"github.com/kjstillabower/city-weather-proxy/internal/validation"
)

// WeatherLookup resolves a city id to a snapshot. *service.WeatherCache satisfies it.
type WeatherLookup interface {
	Lookup(ctx context.Context, cityID int) (models.WeatherSnapshot, error)
}

// CityLister returns the supported cities. *catalog.Catalog satisfies it.
type CityLister interface {
	List() ([]catalog.City, error)
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// APIConfigured reports whether an upstream API key is set. Nil means configured.
	APIConfigured func() bool
	// CachePing, when set, is called to check reachability of a remote cache backend.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather                WeatherLookup
	cities                 CityLister
	healthConfig           *HealthConfig
	logger                 *zap.Logger
	distinguishUnavailable bool
	healthStatusMu         sync.Mutex
	healthStatusPrev       string
}

// NewHandler returns a new Handler. With distinguishUnavailable false every failed
// lookup answers 404; with it true, failures other than an upstream rejection answer 503.
func NewHandler(
	weather WeatherLookup,
	cities CityLister,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	distinguishUnavailable bool,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:                weather,
		cities:                 cities,
		healthConfig:           healthConfig,
		logger:                 logger,
		distinguishUnavailable: distinguishUnavailable,
	}
}

// GetWeather handles GET /api/weather/{cityId}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	cityID, err := validation.ParseCityID(mux.Vars(r)["cityId"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY_ID", err.Error())
		return
	}

	snap, err := h.weather.Lookup(r.Context(), cityID)
	if err != nil {
		recordOutcome(err)
		h.writeLookupError(w, r, cityID, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, snap)
}

// recordOutcome feeds the health error rate. A 4xx rejection means the provider answered
// and the id was bad, so it does not count against the upstream.
func recordOutcome(err error) {
	if errors.Is(err, client.ErrUpstreamRejected) {
		if code := client.StatusCode(err); code >= 400 && code < 500 {
			traffic.RecordSuccess()
			return
		}
	}
	traffic.RecordError()
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, cityID int, err error) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	logger.Debug("weather lookup failed",
		zap.Int("city_id", cityID),
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err))

	if h.distinguishUnavailable && !errors.Is(err, client.ErrUpstreamRejected) {
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
		return
	}
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Weather data not found for city ID: "+strconv.Itoa(cityID))
}

// GetCities handles GET /api/weather/cities.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.cities.List()
	if err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Error("city catalog unavailable", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "CATALOG_UNAVAILABLE", "Unable to load city list")
		return
	}
	writeJSON(w, http.StatusOK, cities)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	switch result.reason {
	case "api_key_missing":
		checks["weatherApi"] = "misconfigured"
	case "error_rate_breach":
		checks["weatherApi"] = "unhealthy"
	default:
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > misconfigured > degraded > healthy. Upstream is never called.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.APIConfigured != nil && !h.healthConfig.APIConfigured() {
		return healthResult{"misconfigured", http.StatusServiceUnavailable, "api_key_missing"}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body, carrying the request correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
