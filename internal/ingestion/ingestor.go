package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-quake-forecast/internal/models"
	"github.com/mr1hm/go-quake-forecast/internal/notify"
	"github.com/mr1hm/go-quake-forecast/internal/observability"
	"github.com/mr1hm/go-quake-forecast/internal/repository"
	"github.com/mr1hm/go-quake-forecast/internal/worker"
)

type Feed interface {
	Fetch(ctx context.Context) (Batch, error)
}

// Result summarizes one ingestion tick.
type Result struct {
	Fetched int // features in the response
	Valid   int // complete records
	Recent  int // complete records inside the lookback window
	Stored  int // newly created records
	Failed  int // records the store rejected
}

// Ingestor runs one fetch-filter-store cycle per call to RunOnce.
type Ingestor struct {
	feed     Feed
	repo     repository.EventWriter
	notifier notify.Notifier
	pool     *worker.WorkerPool
	clock    clockwork.Clock
	lookback time.Duration
	metrics  *observability.Metrics
	stored   atomic.Int64
}

func NewIngestor(feed Feed, repo repository.EventWriter, notifier notify.Notifier, workers, buffer int, lookback time.Duration, clock clockwork.Clock, metrics *observability.Metrics) (*Ingestor, error) {
	if metrics == nil {
		return nil, errors.New("nil metrics")
	}
	i := &Ingestor{
		feed:     feed,
		repo:     repo,
		notifier: notifier,
		clock:    clock,
		lookback: lookback,
		metrics:  metrics,
	}
	i.pool = worker.NewWorkerPool(workers, buffer, i.store)
	return i, nil
}

// RunOnce fetches the feed and stores every new recent record. Each new record
// is notified exactly once; records that already existed are not.
func (i *Ingestor) RunOnce(ctx context.Context) (Result, error) {
	batch, err := i.feed.Fetch(ctx)
	if err != nil {
		i.metrics.FeedFetches.WithLabelValues("error").Inc()
		return Result{}, err
	}
	i.metrics.FeedFetches.WithLabelValues("success").Inc()

	res := Result{Fetched: batch.Fetched, Valid: len(batch.Events)}
	cutoff := i.clock.Now().Add(-i.lookback)

	jobs := make([]worker.Job, 0, len(batch.Events))
	for idx := range batch.Events {
		e := &batch.Events[idx]
		if e.Time.Before(cutoff) {
			continue
		}
		jobs = append(jobs, e)
	}
	res.Recent = len(jobs)

	before := i.stored.Load()
	for _, err := range i.pool.Run(ctx, jobs) {
		if err != nil {
			res.Failed++
		}
	}
	res.Stored = int(i.stored.Load() - before)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("ingestion interrupted: %w", err)
	}
	return res, nil
}

func (i *Ingestor) store(ctx context.Context, job worker.Job) error {
	e := job.(*models.Event)

	created, err := i.repo.UpsertIfAbsent(ctx, e)
	if err != nil {
		slog.Error("error storing event", "id", e.ID, "error", err)
		return err
	}
	if !created {
		return nil
	}

	i.stored.Add(1)
	i.metrics.EventsStored.Inc()
	slog.Info("stored event", "id", e.ID, "magnitude", e.Magnitude, "severity", e.Severity)

	if i.notifier != nil {
		if err := i.notifier.Notify(ctx, e); err != nil {
			slog.Warn("error notifying new event", "id", e.ID, "error", err)
		}
	}
	return nil
}
