package forecast

import (
	"fmt"
	"slices"
)

// SequenceModel maps a normalized window (rows oldest first, columns in
// Features order) to one predicted step. Implementations are immutable and
// safe for concurrent use.
type SequenceModel interface {
	OutputShape() OutputShape
	Predict(window [][]float64) ([]float64, error)
}

// OutputShape lists the features a model predicts, in output order.
// Features it does not predict are carried forward from the previous row.
type OutputShape struct {
	features []Feature
}

// NewOutputShape requires magnitude, latitude and longitude; depth is optional.
func NewOutputShape(features ...Feature) (OutputShape, error) {
	seen := map[Feature]bool{}
	for _, f := range features {
		if !f.valid() {
			return OutputShape{}, fmt.Errorf("%w: unknown feature %q", ErrModelShape, f)
		}
		if seen[f] {
			return OutputShape{}, fmt.Errorf("%w: duplicate feature %q", ErrModelShape, f)
		}
		seen[f] = true
	}
	for _, f := range []Feature{Magnitude, Latitude, Longitude} {
		if !seen[f] {
			return OutputShape{}, fmt.Errorf("%w: missing required feature %q", ErrModelShape, f)
		}
	}
	return OutputShape{features: slices.Clone(features)}, nil
}

func MustOutputShape(features ...Feature) OutputShape {
	s, err := NewOutputShape(features...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s OutputShape) Len() int { return len(s.features) }

func (s OutputShape) Features() []Feature { return slices.Clone(s.features) }

// Predicts reports whether f is part of the model output.
func (s OutputShape) Predicts(f Feature) bool { return s.index(f) >= 0 }

func (s OutputShape) index(f Feature) int { return slices.Index(s.features, f) }

func (s OutputShape) check(pred []float64) error {
	if len(pred) != len(s.features) {
		return fmt.Errorf("%w: got %d values, want %d", ErrModelShape, len(pred), len(s.features))
	}
	return nil
}

// NextRow builds the window row that follows a prediction. Predicted features
// come from pred; the rest keep their value in prev.
func (s OutputShape) NextRow(pred, prev []float64) []float64 {
	row := slices.Clone(prev)
	for i, f := range s.features {
		row[f.column()] = pred[i]
	}
	return row
}
