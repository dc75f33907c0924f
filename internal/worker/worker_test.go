package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func jobsOf(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = i
	}
	return jobs
}

func TestWorkerPool_RunProcessesAll(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	}

	pool := NewWorkerPool(2, 10, processor)
	errs := pool.Run(context.Background(), jobsOf(5))

	if processed.Load() != 5 {
		t.Errorf("expected 5 jobs processed, got %d", processed.Load())
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("job %d: unexpected error %v", i, err)
		}
	}
}

func TestWorkerPool_ErrorsAreIndexedByJob(t *testing.T) {
	boom := errors.New("boom")
	processor := func(ctx context.Context, job Job) error {
		if job.(int)%2 == 1 {
			return boom
		}
		return nil
	}

	pool := NewWorkerPool(4, 0, processor)
	errs := pool.Run(context.Background(), jobsOf(6))

	for i, err := range errs {
		if i%2 == 1 && !errors.Is(err, boom) {
			t.Errorf("job %d: expected boom, got %v", i, err)
		}
		if i%2 == 0 && err != nil {
			t.Errorf("job %d: expected nil, got %v", i, err)
		}
	}
}

func TestWorkerPool_ManyJobs(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	}

	pool := NewWorkerPool(4, 100, processor)
	pool.Run(context.Background(), jobsOf(500))

	if processed.Load() != 500 {
		t.Errorf("expected 500 jobs processed, got %d", processed.Load())
	}
}

func TestWorkerPool_ContextCancellation(t *testing.T) {
	var completed atomic.Int64

	processor := func(ctx context.Context, job Job) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			completed.Add(1)
			return nil
		}
	}

	pool := NewWorkerPool(2, 0, processor)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan []error)
	go func() {
		done <- pool.Run(ctx, jobsOf(20))
	}()

	select {
	case errs := <-done:
		cancelled := 0
		for _, err := range errs {
			if errors.Is(err, context.Canceled) {
				cancelled++
			}
		}
		if cancelled == 0 {
			t.Error("expected some jobs to report cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pool.Run() did not return after cancel")
	}

	t.Logf("completed: %d", completed.Load())
}
