package forecast

import (
	"fmt"
	"slices"

	"github.com/mr1hm/go-quake-forecast/internal/models"
)

// History is a window of observed events in chronological order, oldest
// first. The only way to build one from store results is FromNewestFirst.
type History struct {
	events []models.Event
}

// FromNewestFirst takes events as returned by the store (newest first) and
// returns them oldest first. It fails if the input is not ordered newest first.
func FromNewestFirst(newestFirst []models.Event) (History, error) {
	events := slices.Clone(newestFirst)
	slices.Reverse(events)
	for i := 1; i < len(events); i++ {
		if events[i].Time.Before(events[i-1].Time) {
			return History{}, fmt.Errorf("history not ordered newest first at %s", events[i].ID)
		}
	}
	return History{events: events}, nil
}

func (h History) Len() int { return len(h.events) }

// Oldest and Newest assume a non-empty history.
func (h History) Oldest() models.Event { return h.events[0] }

func (h History) Newest() models.Event { return h.events[len(h.events)-1] }

// Column returns one feature across the window, oldest first.
func (h History) Column(f Feature) []float64 {
	col := make([]float64, len(h.events))
	for i, e := range h.events {
		col[i] = f.of(e)
	}
	return col
}

// LastPoint is the newest event's physical feature values.
func (h History) LastPoint() Point {
	var p Point
	last := h.Newest()
	for i, f := range Features {
		p[i] = f.of(last)
	}
	return p
}
