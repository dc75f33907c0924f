package worker

import (
	"context"
	"sync"
)

type Job interface{}

type ProcessFunc func(ctx context.Context, job Job) error

// WorkerPool fans a batch of jobs out to a fixed number of workers.
type WorkerPool struct {
	numWorkers int
	bufferSize int
	processor  ProcessFunc
}

func NewWorkerPool(numWorkers int, bufferSize int, processor ProcessFunc) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		bufferSize: bufferSize,
		processor:  processor,
	}
}

// Run processes every job and returns once all workers are done. Jobs not yet
// started when ctx is cancelled are skipped. The returned slice holds one
// entry per job, nil on success.
func (wp *WorkerPool) Run(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	queue := make(chan int, wp.bufferSize)

	var wg sync.WaitGroup
	for i := 1; i <= wp.numWorkers; i++ {
		wg.Add(1)
		go wp.worker(ctx, &wg, queue, jobs, errs)
	}

feed:
	for i := range jobs {
		select {
		case <-ctx.Done():
			for j := i; j < len(jobs); j++ {
				errs[j] = ctx.Err()
			}
			break feed
		case queue <- i:
		}
	}
	close(queue)
	wg.Wait()

	return errs
}

func (wp *WorkerPool) worker(ctx context.Context, wg *sync.WaitGroup, queue <-chan int, jobs []Job, errs []error) {
	defer wg.Done()

	for i := range queue {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		errs[i] = wp.processor(ctx, jobs[i])
	}
}
