package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/city-weather-proxy/internal/models"
	"github.com/kjstillabower/city-weather-proxy/internal/observability"
)

// WeatherClient fetches current conditions for one city from the upstream provider.
// Implementations make exactly one outbound call per Fetch and never cache.
type WeatherClient interface {
	Fetch(ctx context.Context, cityID int) (models.WeatherSnapshot, error)
}

var (
	ErrMisconfigured     = errors.New("weather provider not configured")
	ErrUpstreamRejected  = errors.New("upstream rejected request")
	ErrMalformedResponse = errors.New("malformed upstream response")
	ErrTransport         = errors.New("upstream transport failure")
)

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 1 << 20

// UpstreamRejectedError reports a non-2xx provider status. It matches ErrUpstreamRejected.
type UpstreamRejectedError struct {
	StatusCode int
}

func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", ErrUpstreamRejected, e.StatusCode)
}

func (e *UpstreamRejectedError) Is(target error) bool {
	return target == ErrUpstreamRejected
}

// OpenWeatherClient calls the OpenWeatherMap current weather endpoint by city id.
type OpenWeatherClient struct {
	apiKey string
	apiURL *url.URL
	client *http.Client
}

// NewOpenWeatherClient returns a client for apiURL. An empty apiKey is accepted:
// the client is built but every Fetch fails with ErrMisconfigured.
// timeout bounds each outbound call; zero leaves the transport default.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", apiURL)
	}
	return &OpenWeatherClient{
		apiKey: apiKey,
		apiURL: u,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// SetUserAgent makes every outbound request carry the given User-Agent header.
func (c *OpenWeatherClient) SetUserAgent(userAgent string) {
	if userAgent == "" {
		return
	}
	base := c.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.client.Transport = &userAgentRoundTripper{wrapped: base, userAgent: userAgent}
}

// Configured reports whether an API key is present.
func (c *OpenWeatherClient) Configured() bool {
	return c.apiKey != ""
}

type openWeatherResponse struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Pressure  int     `json:"pressure"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
}

// Fetch performs a single GET for cityID. There is no retry; failures are returned as
// ErrMisconfigured, *UpstreamRejectedError, ErrMalformedResponse or ErrTransport.
func (c *OpenWeatherClient) Fetch(ctx context.Context, cityID int) (models.WeatherSnapshot, error) {
	snap, err := c.fetch(ctx, cityID)
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.WeatherSnapshot{}, err
	}
	return snap, nil
}

func (c *OpenWeatherClient) fetch(ctx context.Context, cityID int) (models.WeatherSnapshot, error) {
	if c.apiKey == "" {
		return models.WeatherSnapshot{}, ErrMisconfigured
	}

	req, err := c.buildRequest(ctx, cityID)
	if err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return models.WeatherSnapshot{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return models.WeatherSnapshot{}, &UpstreamRejectedError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: read response body: %w", ErrTransport, err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(apiResp.Weather) == 0 {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: no weather conditions", ErrMalformedResponse)
	}

	return mapResponse(apiResp), nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, cityID int) (*http.Request, error) {
	u := *c.apiURL
	params := u.Query()
	params.Set("id", strconv.Itoa(cityID))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func mapResponse(apiResp openWeatherResponse) models.WeatherSnapshot {
	conditions := make([]models.Condition, 0, len(apiResp.Weather))
	for _, w := range apiResp.Weather {
		conditions = append(conditions, models.Condition{
			Main:        w.Main,
			Description: w.Description,
			Icon:        w.Icon,
		})
	}
	return models.NewWeatherSnapshot(apiResp.ID, apiResp.Name, conditions, models.Measurements{
		Temp:      apiResp.Main.Temp,
		FeelsLike: apiResp.Main.FeelsLike,
		TempMin:   apiResp.Main.TempMin,
		TempMax:   apiResp.Main.TempMax,
		Pressure:  apiResp.Main.Pressure,
		Humidity:  apiResp.Main.Humidity,
	})
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

type userAgentRoundTripper struct {
	wrapped   http.RoundTripper
	userAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.userAgent)
	return rt.wrapped.RoundTrip(clone)
}
