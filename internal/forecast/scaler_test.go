package forecast

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-quake-forecast/internal/models"
)

func TestScalers_RoundTrip(t *testing.T) {
	scalers := []Scaler{
		MinMaxScaler{DataMin: 2.5, DataMax: 7.9, RangeMin: 0, RangeMax: 1},
		MinMaxScaler{DataMin: -180, DataMax: 180, RangeMin: -1, RangeMax: 1},
		MinMaxScaler{DataMin: 4, DataMax: 4, RangeMin: 0, RangeMax: 1},
		StandardScaler{Mean: 35.2, Scale: 12.4},
		StandardScaler{Mean: 10, Scale: 0},
	}
	inputs := []float64{-700, -90, -1.5, 0, 2.5, 4.2, 7.9, 33.3, 139.69, 700}

	for _, sc := range scalers {
		for _, x := range inputs {
			assert.InDelta(t, x, sc.Inverse(sc.Transform(x)), 1e-9, "%T %+v x=%v", sc, sc, x)
		}
	}
}

func TestMinMaxScaler_Range(t *testing.T) {
	sc := MinMaxScaler{DataMin: 0, DataMax: 10, RangeMin: 0, RangeMax: 1}
	assert.InDelta(t, 0.0, sc.Transform(0), 1e-12)
	assert.InDelta(t, 0.5, sc.Transform(5), 1e-12)
	assert.InDelta(t, 1.0, sc.Transform(10), 1e-12)
	assert.InDelta(t, 10.0, sc.Inverse(1), 1e-12)
}

func TestParseScalers(t *testing.T) {
	raw := `{
		"magnitude": {"type": "minmax", "data_min": 2.5, "data_max": 7.9, "feature_range": [0, 1]},
		"latitude":  {"type": "minmax", "data_min": -90, "data_max": 90},
		"longitude": {"type": "standard", "mean": 12.5, "scale": 80},
		"depth":     {"type": "standard", "mean": 40, "scale": 60}
	}`
	s, err := ParseScalers(strings.NewReader(raw))
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, MinMaxScaler{DataMin: 2.5, DataMax: 7.9, RangeMin: 0, RangeMax: 1}, s[Magnitude])
	assert.Equal(t, MinMaxScaler{DataMin: -90, DataMax: 90, RangeMin: 0, RangeMax: 1}, s[Latitude])
	assert.Equal(t, StandardScaler{Mean: 12.5, Scale: 80}, s[Longitude])
}

func TestParseScalers_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `[`},
		{"missing depth", `{"magnitude": {"data_min": 0, "data_max": 1}, "latitude": {"data_min": 0, "data_max": 1}, "longitude": {"data_min": 0, "data_max": 1}}`},
		{"unknown feature", `{"energy": {"data_min": 0, "data_max": 1}}`},
		{"unknown type", `{"magnitude": {"type": "robust"}}`},
		{"minmax without bounds", `{"magnitude": {"type": "minmax"}}`},
		{"standard without scale", `{"magnitude": {"type": "standard", "mean": 1}}`},
		{"bad range", `{"magnitude": {"data_min": 0, "data_max": 1, "feature_range": [1, 0]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScalers(strings.NewReader(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestScalers_NormalizeFeaturesIndependently(t *testing.T) {
	s := Scalers{
		Magnitude: MinMaxScaler{DataMin: 0, DataMax: 10, RangeMax: 1},
		Latitude:  MinMaxScaler{DataMin: -90, DataMax: 90, RangeMax: 1},
		Longitude: MinMaxScaler{DataMin: -180, DataMax: 180, RangeMax: 1},
		Depth:     MinMaxScaler{DataMin: 0, DataMax: 700, RangeMax: 1},
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h, err := FromNewestFirst([]models.Event{
		{ID: "b", Magnitude: 10, Latitude: 90, Longitude: 180, Depth: 700, Time: base.Add(time.Hour)},
		{ID: "a", Magnitude: 5, Latitude: 0, Longitude: -180, Depth: 0, Time: base},
	})
	require.NoError(t, err)

	rows := s.Normalize(h)
	require.Len(t, rows, 2)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0, 0}, rows[0], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 1, 1, 1}, rows[1], 1e-12)
}
