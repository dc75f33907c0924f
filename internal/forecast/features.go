package forecast

import "github.com/mr1hm/go-quake-forecast/internal/models"

// Feature is one numeric column of a model window.
type Feature string

const (
	Magnitude Feature = "magnitude"
	Latitude  Feature = "latitude"
	Longitude Feature = "longitude"
	Depth     Feature = "depth"
)

// Features is the column order of every window row.
var Features = [...]Feature{Magnitude, Latitude, Longitude, Depth}

const NumFeatures = len(Features)

func (f Feature) column() int {
	for i, c := range Features {
		if c == f {
			return i
		}
	}
	return -1
}

func (f Feature) valid() bool { return f.column() >= 0 }

func (f Feature) of(e models.Event) float64 {
	switch f {
	case Magnitude:
		return e.Magnitude
	case Latitude:
		return e.Latitude
	case Longitude:
		return e.Longitude
	case Depth:
		return e.Depth
	}
	return 0
}

// Point is one row of physical feature values.
type Point [NumFeatures]float64

func (p Point) Get(f Feature) float64 { return p[f.column()] }
