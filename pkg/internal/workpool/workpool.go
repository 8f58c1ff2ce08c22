// Package workpool runs homogeneous jobs with bounded parallelism. It is the
// fanout primitive behind catalog requests, shell descriptor fetches, asset
// negotiations and submodel data fetches.
package workpool

import (
	"context"
	"sync"
)

// Result pairs a job with its outcome.
type Result[Job, Out any] struct {
	Job Job
	Out Out
	Err error
}

// Handler processes a single job.
type Handler[Job, Out any] func(ctx context.Context, j Job) (Out, error)

// Map runs handler over every job with at most concurrency workers and
// returns one result per job, in job order. A failing job never aborts the
// others; errors are reported per result. concurrency < 1 means one worker.
func Map[Job, Out any](ctx context.Context, concurrency int, jobs []Job, handler Handler[Job, Out]) []Result[Job, Out] {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(jobs) {
		concurrency = len(jobs)
	}

	results := make([]Result[Job, Out], len(jobs))
	next := make(chan int)

	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				out, err := handler(ctx, jobs[i])
				results[i] = Result[Job, Out]{Job: jobs[i], Out: out, Err: err}
			}
		}()
	}

	for i := range jobs {
		next <- i
	}
	close(next)
	wg.Wait()

	return results
}
