package models

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityAlert     Severity = "alert"
	SeverityWarning   Severity = "warning"
	SeveritySafe      Severity = "safe"
	SeverityPredicted Severity = "predicted" // forecast-origin records only
)

type Provenance string

const (
	ProvenanceObserved  Provenance = "observed"
	ProvenancePredicted Provenance = "predicted"
)

// ForecastIDPrefix marks identifiers of forecast records. Cleanup matches on
// provenance first and on this prefix only as a fallback.
const ForecastIDPrefix = "predicted_"

type Event struct {
	ID         string // source identifier, e.g. USGS "us7000abcd" or "predicted_2026-10-14"
	Magnitude  float64
	Latitude   float64
	Longitude  float64
	Depth      float64 // km
	Place      string
	Time       time.Time // when the event occurred (or is forecast to occur), UTC
	Severity   Severity
	Provenance Provenance
	RunID      string // forecast run that produced the record, empty for observed events
	AlertSent  bool
	CreatedAt  time.Time // when we stored it
}

// ClassifyMagnitude maps a magnitude onto the alert/warning/safe tiers.
func ClassifyMagnitude(mag float64) Severity {
	switch {
	case mag >= 5.0:
		return SeverityAlert
	case mag >= 3.0:
		return SeverityWarning
	default:
		return SeveritySafe
	}
}

// SeverityFor returns the severity a record must carry when written.
// Forecast records are always tagged predicted, regardless of magnitude.
func SeverityFor(e *Event) Severity {
	if e.IsForecast() {
		return SeverityPredicted
	}
	return ClassifyMagnitude(e.Magnitude)
}

func (e *Event) IsForecast() bool {
	return e.Provenance == ProvenancePredicted
}

// ForecastID is the deterministic identifier of the forecast for a given day.
func ForecastID(day time.Time) string {
	return ForecastIDPrefix + day.UTC().Format(time.DateOnly)
}

func IsForecastID(id string) bool {
	return strings.HasPrefix(id, ForecastIDPrefix)
}
