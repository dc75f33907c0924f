package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr1hm/go-quake-forecast/internal/models"
)

// ErrFeedFetchFailed wraps every timeout, connection, status or decode failure
// of a feed fetch.
var ErrFeedFetchFailed = errors.New("feed fetch failed")

// Batch is one parsed feed response. Events holds only complete records.
type Batch struct {
	Fetched int
	Events  []models.Event
}

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string         `json:"id"`
	Properties usgsProperties `json:"properties"`
	Geometry   *usgsGeometry  `json:"geometry"`
}

// Pointer fields distinguish a missing or null value from zero.
type usgsProperties struct {
	Mag   *float64 `json:"mag"`
	Place *string  `json:"place"`
	Time  *int64   `json:"time"` // epoch ms
}

type usgsGeometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
}

// USGSClient fetches the USGS GeoJSON summary feed.
type USGSClient struct {
	url        string
	httpClient *http.Client
}

func NewUSGSClient(url string, timeout time.Duration) *USGSClient {
	return &USGSClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *USGSClient) Fetch(ctx context.Context) (Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: error creating request: %w", ErrFeedFetchFailed, err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: error while doing request: %w", ErrFeedFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Batch{}, fmt.Errorf("%w: unexpected status code: %d", ErrFeedFetchFailed, resp.StatusCode)
	}

	batch, err := parseFeed(resp.Body)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrFeedFetchFailed, err)
	}
	return batch, nil
}

func parseFeed(r io.Reader) (Batch, error) {
	var data usgsResponse
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return Batch{}, fmt.Errorf("error decoding feed: %w", err)
	}

	batch := Batch{Fetched: len(data.Features)}
	for _, f := range data.Features {
		if e, ok := f.toEvent(); ok {
			batch.Events = append(batch.Events, e)
		}
	}
	return batch, nil
}

// toEvent reports false for records missing id, magnitude, place, time or
// any of the three coordinates, and for ids in the forecast namespace.
func (f usgsFeature) toEvent() (models.Event, bool) {
	p := f.Properties
	if f.ID == "" || models.IsForecastID(f.ID) || p.Mag == nil || p.Place == nil || p.Time == nil {
		return models.Event{}, false
	}
	if f.Geometry == nil || len(f.Geometry.Coordinates) < 3 {
		return models.Event{}, false
	}

	c := f.Geometry.Coordinates
	return models.Event{
		ID:         f.ID,
		Magnitude:  *p.Mag,
		Longitude:  c[0],
		Latitude:   c[1],
		Depth:      c[2],
		Place:      *p.Place,
		Time:       time.UnixMilli(*p.Time).UTC(),
		Provenance: models.ProvenanceObserved,
	}, true
}
