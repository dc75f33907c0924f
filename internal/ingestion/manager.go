package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager polls the feed on a fixed interval. A failed tick is logged and the
// next tick retries independently.
type Manager struct {
	ingestor *Ingestor
	interval time.Duration
	wg       sync.WaitGroup
}

func NewManager(ingestor *Ingestor, interval time.Duration) *Manager {
	return &Manager{
		ingestor: ingestor,
		interval: interval,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.runPoller(ctx)
}

func (m *Manager) runPoller(ctx context.Context) {
	defer m.wg.Done()
	slog.Info("starting poller", "source", "usgs", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Initial poll
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", "usgs")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	slog.Debug("polling", "source", "usgs")

	res, err := m.ingestor.RunOnce(ctx)
	if err != nil {
		slog.Error("poll failed", "source", "usgs", "error", err)
		return
	}

	slog.Debug("poll complete", "source", "usgs",
		"fetched", res.Fetched, "valid", res.Valid, "recent", res.Recent, "stored", res.Stored, "failed", res.Failed)
}

func (m *Manager) Stop() {
	m.wg.Wait()
	slog.Info("ingestion manager stopped")
}
