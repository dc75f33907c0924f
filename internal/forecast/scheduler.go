package forecast

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner is satisfied by *Engine.
type Runner interface {
	Run(ctx context.Context) (RunResult, error)
}

// Scheduler runs the engine once at start and then on every interval tick.
// Failed runs are logged by the engine; the next tick retries.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	wg       sync.WaitGroup
}

func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{runner: runner, interval: interval}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	slog.Info("starting forecast scheduler", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_, _ = s.runner.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("forecast scheduler shutting down")
			return
		case <-ticker.C:
			_, _ = s.runner.Run(ctx)
		}
	}
}

// Stop waits for the loop to exit; cancel the Start context first.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	slog.Info("forecast scheduler stopped")
}
