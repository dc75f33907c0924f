package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mr1hm/go-quake-forecast/internal/observability"
)

// Mapbox implements Geocoder using the Mapbox reverse geocoding API.
type Mapbox struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func NewMapbox(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Mapbox {
	return &Mapbox{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.mapbox.com/geocoding/v5/mapbox.places",
		metrics: metrics,
		logger:  logger,
	}
}

func (c *Mapbox) ReverseGeocode(ctx context.Context, lat, lon float64) (Result, error) {
	// Mapbox uses lon,lat order.
	u := fmt.Sprintf("%s/%.6f,%.6f.json", c.baseURL, lon, lat)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
	}

	result, err := c.do(ctx, u+"?"+params.Encode())
	switch {
	case err == nil:
		c.metrics.GeocodeLookups.WithLabelValues("mapbox", "success").Inc()
	case errors.Is(err, ErrNotFound):
		c.metrics.GeocodeLookups.WithLabelValues("mapbox", "empty").Inc()
	default:
		c.metrics.GeocodeLookups.WithLabelValues("mapbox", "error").Inc()
		c.logger.Warn("mapbox reverse geocode failed", "lat", lat, "lon", lon, "error", err)
	}
	return result, err
}

func (c *Mapbox) do(ctx context.Context, fullURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mr mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(mr.Features) == 0 {
		return Result{}, ErrNotFound
	}

	f := mr.Features[0]
	result := Result{
		Name:             f.Text,
		FormattedAddress: f.PlaceName,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		result.Lon = f.Center[0]
		result.Lat = f.Center[1]
	}
	return result, nil
}

type mapboxResponse struct {
	Features []mapboxFeature `json:"features"`
}

type mapboxFeature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}
