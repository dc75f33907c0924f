// Package readmodel serves aggregate views over stored events. Views are
// cached, and when the store fails the last successfully computed value is
// returned instead of the error.
package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-quake-forecast/internal/models"
	"github.com/mr1hm/go-quake-forecast/internal/observability"
	"github.com/mr1hm/go-quake-forecast/internal/repository"
)

const (
	DashboardLimit      = 50
	AlertMinMagnitude   = 4.5
	ForecastWindow      = 30 * 24 * time.Hour
	DefaultRecentWindow = 24 * time.Hour
)

const (
	keyDashboard   = "dashboard"
	keyAlerts      = "alerts"
	keyPredictions = "predictions"
)

// Store is the part of the event repository the views read from.
type Store interface {
	ListEvents(ctx context.Context, opts repository.Filter) ([]models.Event, error)
	Stats(ctx context.Context, since time.Time) (repository.Stats, error)
	MarkAlertSent(ctx context.Context, ids []string) (int64, error)
}

type Stats struct {
	Total24h     int64   `json:"total_24h"`
	AvgMagnitude float64 `json:"avg_magnitude"`
	ActiveAlerts int64   `json:"active_alerts"`
}

type Dashboard struct {
	Earthquakes []models.Payload `json:"earthquakes"`
	Stats       Stats            `json:"stats"`
	LastUpdate  string           `json:"last_update"`
}

// RecentQuery selects observed events that occurred within Window of now.
type RecentQuery struct {
	Window       time.Duration
	MinMagnitude float64
	Limit        int
}

func (q RecentQuery) key() string {
	return fmt.Sprintf("recent:%s:%g:%d", q.Window, q.MinMagnitude, q.Limit)
}

type Service struct {
	store   Store
	cache   Cache
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	// lastGood holds the most recent successful result per key, bounded
	// because recent-query keys come from client parameters.
	lastGood *lru.Cache[string, []byte]
}

// NewService keeps last-known-good values for at most size keys.
func NewService(store Store, cache Cache, ttl time.Duration, size int, clock clockwork.Clock, metrics *observability.Metrics) (*Service, error) {
	if metrics == nil {
		return nil, errors.New("nil metrics")
	}
	lastGood, err := lru.New[string, []byte](max(size, 1))
	if err != nil {
		return nil, fmt.Errorf("error creating fallback cache: %w", err)
	}
	return &Service{
		store:    store,
		cache:    cache,
		ttl:      ttl,
		clock:    clock,
		metrics:  metrics,
		lastGood: lastGood,
	}, nil
}

// Dashboard returns the latest observed events with 24h statistics.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	return view(ctx, s, keyDashboard, func(ctx context.Context) (Dashboard, error) {
		now := s.clock.Now().UTC()
		observed := models.ProvenanceObserved

		events, err := s.store.ListEvents(ctx, repository.Filter{Limit: DashboardLimit, Provenance: &observed})
		if err != nil {
			return Dashboard{}, err
		}
		st, err := s.store.Stats(ctx, now.Add(-24*time.Hour))
		if err != nil {
			return Dashboard{}, err
		}

		return Dashboard{
			Earthquakes: models.Payloads(events),
			Stats: Stats{
				Total24h:     st.Total,
				AvgMagnitude: math.Round(st.AvgMagnitude*100) / 100,
				ActiveAlerts: st.ActiveAlerts,
			},
			LastUpdate: now.Format(time.RFC3339),
		}, nil
	})
}

// Recent returns observed events inside the query window, newest first.
func (s *Service) Recent(ctx context.Context, q RecentQuery) ([]models.Payload, error) {
	if q.Window <= 0 {
		q.Window = DefaultRecentWindow
	}
	return view(ctx, s, q.key(), func(ctx context.Context) ([]models.Payload, error) {
		since := s.clock.Now().Add(-q.Window)
		observed := models.ProvenanceObserved
		f := repository.Filter{Since: &since, Provenance: &observed, Limit: q.Limit}
		if q.MinMagnitude > 0 {
			f.MinMagnitude = &q.MinMagnitude
		}
		events, err := s.store.ListEvents(ctx, f)
		if err != nil {
			return nil, err
		}
		return models.Payloads(events), nil
	})
}

// Alerts returns unacknowledged observed events of at least M4.5 from the
// last 24 hours, strongest first.
func (s *Service) Alerts(ctx context.Context) ([]models.Payload, error) {
	return view(ctx, s, keyAlerts, func(ctx context.Context) ([]models.Payload, error) {
		since := s.clock.Now().Add(-24 * time.Hour)
		minMag := AlertMinMagnitude
		notSent := false
		observed := models.ProvenanceObserved
		events, err := s.store.ListEvents(ctx, repository.Filter{
			Since:        &since,
			MinMagnitude: &minMag,
			AlertSent:    &notSent,
			Provenance:   &observed,
			ByMagnitude:  true,
		})
		if err != nil {
			return nil, err
		}
		return models.Payloads(events), nil
	})
}

// Predictions returns forecast records for the next 30 days, oldest first.
// The window starts at midnight UTC so today's forecast stays visible all day.
func (s *Service) Predictions(ctx context.Context) ([]models.Payload, error) {
	return view(ctx, s, keyPredictions, func(ctx context.Context) ([]models.Payload, error) {
		since := s.clock.Now().UTC().Truncate(24 * time.Hour)
		until := s.clock.Now().UTC().Add(ForecastWindow)
		predicted := models.ProvenancePredicted
		events, err := s.store.ListEvents(ctx, repository.Filter{
			Since:      &since,
			Until:      &until,
			Provenance: &predicted,
			Ascending:  true,
		})
		if err != nil {
			return nil, err
		}
		return models.Payloads(events), nil
	})
}

// AcknowledgeAlerts marks alerts as sent and drops the cached alert view.
func (s *Service) AcknowledgeAlerts(ctx context.Context, ids []string) (int64, error) {
	n, err := s.store.MarkAlertSent(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.Invalidate(ctx, keyAlerts)
	return n, nil
}

// InvalidatePredictions drops the cached forecast view after a run publishes.
func (s *Service) InvalidatePredictions(ctx context.Context) {
	s.Invalidate(ctx, keyPredictions)
}

func (s *Service) Invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		slog.Warn("error invalidating read model cache", "keys", keys, "error", err)
	}
}

// view serves key from the cache, then from load, then from the last value
// load produced. Only the last case hides a load error.
func view[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	var out T

	if data, ok, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("error reading read model cache", "key", key, "error", err)
	} else if ok && json.Unmarshal(data, &out) == nil {
		return out, nil
	}

	out, err := load(ctx)
	if err != nil {
		if s.fallback(key, &out) {
			s.metrics.ReadModelFallbacks.Inc()
			slog.Warn("serving last known good read model", "key", key, "error", err)
			return out, nil
		}
		return out, fmt.Errorf("error loading %s: %w", key, err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return out, nil
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		slog.Warn("error writing read model cache", "key", key, "error", err)
	}
	s.lastGood.Add(key, data)
	return out, nil
}

func (s *Service) fallback(key string, dst any) bool {
	data, ok := s.lastGood.Get(key)
	return ok && json.Unmarshal(data, dst) == nil
}
