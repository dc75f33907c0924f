package forecast

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Scaler is a fitted per-feature normalization.
type Scaler interface {
	Transform(x float64) float64
	Inverse(y float64) float64
}

// MinMaxScaler maps [DataMin, DataMax] onto [RangeMin, RangeMax].
type MinMaxScaler struct {
	DataMin, DataMax   float64
	RangeMin, RangeMax float64
}

func (s MinMaxScaler) scale() float64 {
	span := s.DataMax - s.DataMin
	if span == 0 {
		span = 1
	}
	return (s.RangeMax - s.RangeMin) / span
}

func (s MinMaxScaler) Transform(x float64) float64 {
	return (x-s.DataMin)*s.scale() + s.RangeMin
}

func (s MinMaxScaler) Inverse(y float64) float64 {
	return (y-s.RangeMin)/s.scale() + s.DataMin
}

// StandardScaler centers on Mean and divides by Scale.
type StandardScaler struct {
	Mean, Scale float64
}

func (s StandardScaler) std() float64 {
	if s.Scale == 0 {
		return 1
	}
	return s.Scale
}

func (s StandardScaler) Transform(x float64) float64 { return (x - s.Mean) / s.std() }

func (s StandardScaler) Inverse(y float64) float64 { return y*s.std() + s.Mean }

// Scalers holds one fitted scaler per feature. Loaded once, read-only after.
type Scalers map[Feature]Scaler

func (s Scalers) Validate() error {
	for _, f := range Features {
		if s[f] == nil {
			return fmt.Errorf("missing scaler for %s", f)
		}
	}
	return nil
}

// Normalize scales each feature column of h independently and returns the
// window as rows, oldest first.
func (s Scalers) Normalize(h History) [][]float64 {
	rows := make([][]float64, h.Len())
	for i := range rows {
		rows[i] = make([]float64, NumFeatures)
	}
	for j, f := range Features {
		sc := s[f]
		for i, x := range h.Column(f) {
			rows[i][j] = sc.Transform(x)
		}
	}
	return rows
}

type scalerSpec struct {
	Type         string    `json:"type"`
	DataMin      *float64  `json:"data_min"`
	DataMax      *float64  `json:"data_max"`
	FeatureRange []float64 `json:"feature_range"`
	Mean         *float64  `json:"mean"`
	Scale        *float64  `json:"scale"`
}

func LoadScalers(path string) (Scalers, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scalers: %w", err)
	}
	defer f.Close()
	return ParseScalers(f)
}

// ParseScalers decodes {"magnitude": {"type": "minmax", ...}, ...}.
func ParseScalers(r io.Reader) (Scalers, error) {
	var raw map[string]scalerSpec
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode scalers: %w", err)
	}

	out := make(Scalers, len(raw))
	for name, spec := range raw {
		f := Feature(name)
		if !f.valid() {
			return nil, fmt.Errorf("unknown scaler feature %q", name)
		}
		sc, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("scaler %s: %w", name, err)
		}
		out[f] = sc
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s scalerSpec) build() (Scaler, error) {
	switch s.Type {
	case "minmax", "":
		if s.DataMin == nil || s.DataMax == nil {
			return nil, fmt.Errorf("minmax requires data_min and data_max")
		}
		lo, hi := 0.0, 1.0
		if len(s.FeatureRange) > 0 {
			if len(s.FeatureRange) != 2 || s.FeatureRange[0] >= s.FeatureRange[1] {
				return nil, fmt.Errorf("invalid feature_range %v", s.FeatureRange)
			}
			lo, hi = s.FeatureRange[0], s.FeatureRange[1]
		}
		return MinMaxScaler{DataMin: *s.DataMin, DataMax: *s.DataMax, RangeMin: lo, RangeMax: hi}, nil
	case "standard":
		if s.Mean == nil || s.Scale == nil {
			return nil, fmt.Errorf("standard requires mean and scale")
		}
		return StandardScaler{Mean: *s.Mean, Scale: *s.Scale}, nil
	default:
		return nil, fmt.Errorf("unknown scaler type %q", s.Type)
	}
}
