// Package notify publishes newly stored events to downstream channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-quake-forecast/internal/models"
	"github.com/mr1hm/go-quake-forecast/internal/observability"
)

// Notifier receives every newly stored event exactly once.
type Notifier interface {
	Notify(ctx context.Context, e *models.Event) error
}

type Func func(ctx context.Context, e *models.Event) error

func (f Func) Notify(ctx context.Context, e *models.Event) error { return f(ctx, e) }

// Sink is a named Notifier so failures can be attributed.
type Sink struct {
	Name     string
	Notifier Notifier
}

// Multi fans an event out to every sink. A failing sink does not stop the
// others; the joined error is returned.
type Multi struct {
	sinks   []Sink
	metrics *observability.Metrics
}

func NewMulti(metrics *observability.Metrics, sinks ...Sink) (*Multi, error) {
	if metrics == nil {
		return nil, errors.New("nil metrics")
	}
	return &Multi{sinks: sinks, metrics: metrics}, nil
}

func (m *Multi) Add(s Sink) { m.sinks = append(m.sinks, s) }

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, e *models.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notifier.Notify(ctx, e); err != nil {
			m.metrics.Notifications.WithLabelValues(s.Name, "error").Inc()
			slog.Error("notification failed", "sink", s.Name, "id", e.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		m.metrics.Notifications.WithLabelValues(s.Name, "success").Inc()
	}
	return errors.Join(errs...)
}
