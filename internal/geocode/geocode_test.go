package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-quake-forecast/internal/observability"
)

const testCities = `lat,lon,name,cc
35.6895,139.6917,Tokyo,JP
34.0522,-118.2437,Los Angeles,US
-33.4489,-70.6693,Santiago,CL
`

func testMapbox(baseURL string) *Mapbox {
	return &Mapbox{
		token:      "test-token",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestResult_Label(t *testing.T) {
	assert.Equal(t, "Tokyo, JP", Result{Name: "Tokyo", CountryCode: "JP"}.Label())
	assert.Equal(t, "Tokyo", Result{Name: "Tokyo"}.Label())
	assert.Equal(t, "Shibuya, Tokyo, Japan", Result{Name: "Shibuya", CountryCode: "JP", FormattedAddress: "Shibuya, Tokyo, Japan"}.Label())
}

func TestOffline_Nearest(t *testing.T) {
	o, err := ParseOffline(strings.NewReader(testCities))
	require.NoError(t, err)
	assert.Equal(t, 3, o.Len())

	r, err := o.ReverseGeocode(context.Background(), 35.0, 139.0)
	require.NoError(t, err)
	assert.Equal(t, "Tokyo, JP", r.Label())

	r, err = o.ReverseGeocode(context.Background(), -30.0, -71.0)
	require.NoError(t, err)
	assert.Equal(t, "Santiago, CL", r.Label())

	r, err = o.ReverseGeocode(context.Background(), 34.0, -119.0)
	require.NoError(t, err)
	assert.Equal(t, "Los Angeles", r.Name)
}

func TestOffline_InvalidInput(t *testing.T) {
	_, err := ParseOffline(strings.NewReader("name,cc\nTokyo,JP\n"))
	assert.Error(t, err)

	_, err = ParseOffline(strings.NewReader("lat,lon,name,cc\n"))
	assert.Error(t, err)

	_, err = ParseOffline(strings.NewReader("lat,lon,name,cc\nabc,1,X,YY\n"))
	assert.Error(t, err)

	o, err := ParseOffline(strings.NewReader(testCities))
	require.NoError(t, err)
	_, err = o.ReverseGeocode(context.Background(), 120, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOffline_ColumnOrder(t *testing.T) {
	o, err := ParseOffline(strings.NewReader("name,cc,lon,lat\nTokyo,JP,139.6917,35.6895\n"))
	require.NoError(t, err)
	r, err := o.ReverseGeocode(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "Tokyo, JP", r.Label())
}

func TestMapbox_ReverseGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "139.691700,35.689500")
		assert.Equal(t, "test-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))

		resp := mapboxResponse{Features: []mapboxFeature{{
			Center:    []float64{139.6917, 35.6895},
			PlaceName: "Tokyo, Japan",
			Text:      "Tokyo",
			Relevance: 0.97,
		}}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	r, err := testMapbox(srv.URL).ReverseGeocode(context.Background(), 35.6895, 139.6917)
	require.NoError(t, err)
	assert.Equal(t, "Tokyo, Japan", r.Label())
	assert.Equal(t, 0.97, r.Confidence)
	assert.Equal(t, 35.6895, r.Lat)
	assert.Equal(t, 139.6917, r.Lon)
}

func TestMapbox_ReverseGeocode_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	_, err := testMapbox(srv.URL).ReverseGeocode(context.Background(), 0, -160)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMapbox_ReverseGeocode_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
	}))
	defer srv.Close()

	_, err := testMapbox(srv.URL).ReverseGeocode(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMapbox_ReverseGeocode_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := testMapbox(srv.URL).ReverseGeocode(ctx, 1, 1)
	assert.Error(t, err)
}

type countingGeocoder struct {
	calls  atomic.Int32
	result Result
	err    error
}

func (g *countingGeocoder) ReverseGeocode(context.Context, float64, float64) (Result, error) {
	g.calls.Add(1)
	return g.result, g.err
}

func TestCached_HitAndMiss(t *testing.T) {
	inner := &countingGeocoder{result: Result{Name: "Lima", CountryCode: "PE"}}
	c, err := NewCached(inner, 10, observability.NewMetricsForTesting())
	require.NoError(t, err)

	for range 3 {
		r, err := c.ReverseGeocode(context.Background(), -12.0464, -77.0428)
		require.NoError(t, err)
		assert.Equal(t, "Lima, PE", r.Label())
	}
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCached_ErrorsNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("boom")}
	c, err := NewCached(inner, 10, observability.NewMetricsForTesting())
	require.NoError(t, err)

	_, err = c.ReverseGeocode(context.Background(), 1, 2)
	assert.Error(t, err)
	_, err = c.ReverseGeocode(context.Background(), 1, 2)
	assert.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCached_Eviction(t *testing.T) {
	inner := &countingGeocoder{result: Result{Name: "X"}}
	c, err := NewCached(inner, 2, observability.NewMetricsForTesting())
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = c.ReverseGeocode(ctx, 1, 1)
	_, _ = c.ReverseGeocode(ctx, 2, 2)
	_, _ = c.ReverseGeocode(ctx, 3, 3)
	assert.Equal(t, 2, c.Len())

	_, _ = c.ReverseGeocode(ctx, 1, 1)
	assert.Equal(t, int32(4), inner.calls.Load())
}

func TestChain_FallsThrough(t *testing.T) {
	failing := &countingGeocoder{err: errors.New("unavailable")}
	ok := &countingGeocoder{result: Result{Name: "Quito", CountryCode: "EC"}}

	r, err := Chain{failing, ok}.ReverseGeocode(context.Background(), 0, -78)
	require.NoError(t, err)
	assert.Equal(t, "Quito, EC", r.Label())
	assert.Equal(t, int32(1), failing.calls.Load())

	_, err = Chain{failing}.ReverseGeocode(context.Background(), 0, 0)
	assert.Error(t, err)

	_, err = Chain{}.ReverseGeocode(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
