// Package geocode resolves coordinates to human-readable place labels.
package geocode

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a geocoder has no place for the coordinates.
var ErrNotFound = errors.New("no place found for coordinates")

// Result contains the place data returned by a reverse geocoder.
type Result struct {
	Name             string
	CountryCode      string
	FormattedAddress string
	Confidence       float64
	Lat              float64
	Lon              float64
}

// Label is the place string stored on events: the provider's formatted
// address when it has one, otherwise "name, CC".
func (r Result) Label() string {
	if r.FormattedAddress != "" {
		return r.FormattedAddress
	}
	if r.CountryCode == "" {
		return r.Name
	}
	return r.Name + ", " + r.CountryCode
}

// Geocoder converts coordinates to place details.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Result, error)
}

// Chain tries each geocoder in order and returns the first success.
type Chain []Geocoder

func (c Chain) ReverseGeocode(ctx context.Context, lat, lon float64) (Result, error) {
	var errs []error
	for _, g := range c {
		r, err := g.ReverseGeocode(ctx, lat, lon)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return Result{}, ErrNotFound
	}
	return Result{}, errors.Join(errs...)
}
