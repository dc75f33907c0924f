package geocode

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371.0

type city struct {
	name string
	cc   string
	lat  float64
	lon  float64
}

// Offline resolves coordinates to the nearest known city from a GeoNames-style
// table (columns lat, lon, name, cc, in any order, header required).
type Offline struct {
	cities []city
}

func LoadOffline(path string) (*Offline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cities table: %w", err)
	}
	defer f.Close()
	return ParseOffline(f)
}

func ParseOffline(r io.Reader) (*Offline, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"lat", "lon", "name", "cc"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("cities table missing column %q", want)
		}
	}

	o := &Offline{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		lat, err1 := strconv.ParseFloat(field(rec, cols["lat"]), 64)
		lon, err2 := strconv.ParseFloat(field(rec, cols["lon"]), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("line %d: invalid coordinates", line)
		}
		o.cities = append(o.cities, city{
			name: field(rec, cols["name"]),
			cc:   field(rec, cols["cc"]),
			lat:  lat,
			lon:  lon,
		})
	}
	if len(o.cities) == 0 {
		return nil, errors.New("cities table is empty")
	}
	return o, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (o *Offline) Len() int { return len(o.cities) }

// ReverseGeocode returns the city with the smallest great-circle distance.
func (o *Offline) ReverseGeocode(ctx context.Context, lat, lon float64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 {
		return Result{}, fmt.Errorf("%w: invalid coordinates %.4f,%.4f", ErrNotFound, lat, lon)
	}

	best, bestDist := -1, math.MaxFloat64
	for i, c := range o.cities {
		if d := haversineKm(lat, lon, c.lat, c.lon); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Result{}, ErrNotFound
	}

	c := o.cities[best]
	return Result{Name: c.name, CountryCode: c.cc, Lat: c.lat, Lon: c.lon}, nil
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := math.Pi / 180
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
