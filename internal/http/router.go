package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-proxy/internal/observability"
)

// RouterConfig holds the middleware settings applied by NewRouter.
type RouterConfig struct {
	CORSOrigin     string
	RequestTimeout time.Duration
	// Limiter guards the /api routes; nil disables rate limiting.
	Limiter *rate.Limiter
}

// NewRouter wires the handler's routes and middleware.
// /api/weather/cities is registered before /api/weather/{cityId} so it is not read as an id.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(CORSMiddleware(cfg.CORSOrigin))

	api := router.PathPrefix("/api/weather").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/cities", h.GetCities).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/{cityId}", h.GetWeather).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	return router
}
