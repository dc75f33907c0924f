package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-quake-forecast/internal/models"
)

var (
	// ErrInsufficientHistory is returned when fewer observed events exist than requested.
	ErrInsufficientHistory = errors.New("insufficient observed history")
	// ErrForecastsPresent is returned by InsertForecastBatch when forecast records
	// already exist at insert time.
	ErrForecastsPresent = errors.New("forecast records already present")
)

type Filter struct {
	Limit        int
	Since        *time.Time
	Until        *time.Time
	MinMagnitude *float64
	Severity     *models.Severity
	Provenance   *models.Provenance
	AlertSent    *bool
	ByMagnitude  bool // order by magnitude desc instead of time desc
	Ascending    bool // order by time asc
}

type Stats struct {
	Total        int64
	AvgMagnitude float64
	ActiveAlerts int64
}

// EventWriter is what the feed ingestor needs.
type EventWriter interface {
	UpsertIfAbsent(ctx context.Context, e *models.Event) (bool, error)
}

// ForecastStore is what the forecast engine needs.
type ForecastStore interface {
	DeleteAllForecasts(ctx context.Context) (int64, error)
	CountForecasts(ctx context.Context) (int64, error)
	LatestObserved(ctx context.Context, n int) ([]models.Event, error)
	InsertForecastBatch(ctx context.Context, events []models.Event) (int, error)
}

type EventReader interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context, opts Filter) ([]models.Event, error)
	Stats(ctx context.Context, since time.Time) (Stats, error)
}
