// Package forecast projects future earthquakes from recent observed history
// and replaces the stored forecast set one run at a time.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-quake-forecast/internal/geocode"
	"github.com/mr1hm/go-quake-forecast/internal/models"
	"github.com/mr1hm/go-quake-forecast/internal/observability"
	"github.com/mr1hm/go-quake-forecast/internal/repository"
)

// UnknownLocation labels forecasts whose coordinates could not be geocoded.
const UnknownLocation = "Unknown Location"

const day = 24 * time.Hour

type Config struct {
	Window           int
	Horizon          int
	InferenceTimeout time.Duration
	GeocodeTimeout   time.Duration
}

type RunResult struct {
	RunID    string
	Started  time.Time
	Deleted  int64
	Inserted int
}

type Engine struct {
	cfg       Config
	store     repository.ForecastStore
	model     SequenceModel
	scalers   Scalers
	geocoder  geocode.Geocoder
	metrics   *observability.Metrics
	locker    Locker
	clock     clockwork.Clock
	onPublish []func(ctx context.Context, res RunResult)
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// OnPublish registers fn to run after every successful publish.
func OnPublish(fn func(ctx context.Context, res RunResult)) Option {
	return func(e *Engine) { e.onPublish = append(e.onPublish, fn) }
}

func NewEngine(cfg Config, store repository.ForecastStore, model SequenceModel, scalers Scalers, geocoder geocode.Geocoder, metrics *observability.Metrics, opts ...Option) (*Engine, error) {
	if cfg.Window < 1 || cfg.Horizon < 1 {
		return nil, fmt.Errorf("invalid window/horizon %d/%d", cfg.Window, cfg.Horizon)
	}
	if model == nil {
		return nil, errors.New("nil sequence model")
	}
	if metrics == nil {
		return nil, errors.New("nil metrics")
	}
	if err := scalers.Validate(); err != nil {
		return nil, err
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 30 * time.Second
	}
	if cfg.GeocodeTimeout <= 0 {
		cfg.GeocodeTimeout = 5 * time.Second
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		model:    model,
		scalers:  scalers,
		geocoder: geocoder,
		metrics:  metrics,
		locker:   NewLocalLocker(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run performs one forecast run: clean up the previous set, read history,
// roll the model forward, geocode and publish the new set atomically.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	res, err := e.run(ctx)
	if err != nil {
		stage, _ := StageOf(err)
		e.metrics.ForecastRuns.WithLabelValues(string(stage)).Inc()
		if errors.Is(err, ErrRunInProgress) || errors.Is(err, ErrInsufficientHistory) {
			slog.Warn("forecast run skipped", "stage", stage, "error", err)
		} else {
			slog.Error("forecast run failed", "run_id", res.RunID, "stage", stage, "error", err)
		}
		return res, err
	}

	e.metrics.ForecastRuns.WithLabelValues("success").Inc()
	e.metrics.ForecastRecords.Set(float64(res.Inserted))
	slog.Info("forecast run complete", "run_id", res.RunID, "deleted", res.Deleted, "count", res.Inserted)
	for _, fn := range e.onPublish {
		fn(ctx, res)
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context) (RunResult, error) {
	release, err := e.locker.TryAcquire(ctx)
	if err != nil {
		return RunResult{}, &RunError{Stage: StageLock, Err: err}
	}
	defer release()

	res := RunResult{RunID: uuid.NewString(), Started: e.clock.Now().UTC()}

	res.Deleted, err = e.cleanup(ctx)
	if err != nil {
		return res, &RunError{Stage: StageCleanup, Err: err}
	}

	recent, err := e.store.LatestObserved(ctx, e.cfg.Window)
	if err != nil {
		return res, &RunError{Stage: StageHistory, Err: err}
	}
	history, err := FromNewestFirst(recent)
	if err != nil {
		return res, &RunError{Stage: StageHistory, Err: err}
	}

	began := e.clock.Now()
	points, err := e.compute(ctx, history)
	if err != nil {
		return res, &RunError{Stage: StageCompute, Err: err}
	}
	batch := e.materialize(ctx, res.RunID, res.Started, points)
	e.metrics.ForecastDuration.Observe(e.clock.Since(began).Seconds())

	res.Inserted, err = e.publish(ctx, batch)
	if err != nil {
		return res, &RunError{Stage: StagePublish, Err: err}
	}
	return res, nil
}

// cleanup removes the previous forecast set and verifies none remain.
func (e *Engine) cleanup(ctx context.Context) (int64, error) {
	deleted, err := e.store.DeleteAllForecasts(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCleanupFailed, err)
	}
	remaining, err := e.store.CountForecasts(ctx)
	if err != nil {
		return deleted, fmt.Errorf("%w: %w", ErrCleanupFailed, err)
	}
	if remaining > 0 {
		return deleted, fmt.Errorf("%w: %d forecast records remain", ErrCleanupFailed, remaining)
	}
	return deleted, nil
}

// compute normalizes the history, rolls the model forward and returns the
// predicted steps in physical units.
func (e *Engine) compute(ctx context.Context, h History) ([]Point, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.InferenceTimeout)
	defer cancel()

	window := e.scalers.Normalize(h)
	preds, err := rollout(ctx, e.model, window, e.cfg.Horizon)
	if err != nil {
		return nil, err
	}
	return denormalize(e.model.OutputShape(), e.scalers, preds, h.LastPoint()), nil
}

// materialize turns step i into the forecast for start + i days.
func (e *Engine) materialize(ctx context.Context, runID string, start time.Time, points []Point) []models.Event {
	batch := make([]models.Event, len(points))
	for i, p := range points {
		at := start.Add(time.Duration(i) * day)
		lat, lon := p.Get(Latitude), p.Get(Longitude)
		batch[i] = models.Event{
			ID:         models.ForecastID(at),
			Magnitude:  p.Get(Magnitude),
			Latitude:   lat,
			Longitude:  lon,
			Depth:      p.Get(Depth),
			Place:      e.placeFor(ctx, lat, lon),
			Time:       at,
			Severity:   models.SeverityPredicted,
			Provenance: models.ProvenancePredicted,
			RunID:      runID,
		}
	}
	return batch
}

func (e *Engine) placeFor(ctx context.Context, lat, lon float64) string {
	if e.geocoder == nil {
		return UnknownLocation
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GeocodeTimeout)
	defer cancel()

	r, err := e.geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		slog.Warn("reverse geocode failed", "lat", lat, "lon", lon, "error", err)
		return UnknownLocation
	}
	if label := r.Label(); label != "" {
		return label
	}
	return UnknownLocation
}

// publish re-verifies that no other run has written forecasts, then inserts
// the batch in one transaction.
func (e *Engine) publish(ctx context.Context, batch []models.Event) (int, error) {
	remaining, err := e.store.CountForecasts(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if remaining > 0 {
		return 0, fmt.Errorf("%w: %d forecast records appeared", ErrConcurrentRunDetected, remaining)
	}

	n, err := e.store.InsertForecastBatch(ctx, batch)
	switch {
	case errors.Is(err, repository.ErrForecastsPresent):
		return 0, fmt.Errorf("%w: %w", ErrConcurrentRunDetected, err)
	case err != nil:
		return 0, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return n, nil
}
