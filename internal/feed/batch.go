package feed

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Runner publishes a fixed set of events through a pool of workers. Batches
// are distributed across workers, so cross-batch ordering is not preserved;
// use a single worker when the relay must see events in scenario order.
type Runner struct {
	publisher BatchPublisher
	workers   int
	batchSize int
	logger    *zap.Logger
}

type BatchResult struct {
	Total     int
	Published int
	Rejected  int
	Failed    int
	Errors    []string
}

type batchOutcome struct {
	size int
	err  error
}

func NewRunner(publisher BatchPublisher, workers, batchSize int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Runner{
		publisher: publisher,
		workers:   workers,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (r *Runner) Execute(ctx context.Context, events []Event) (*BatchResult, error) {
	result := &BatchResult{Total: len(events)}

	if len(events) == 0 {
		return result, nil
	}

	batches := chunk(events, r.batchSize)
	jobs := make(chan []Event, len(batches))
	results := make(chan batchOutcome, len(batches))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, jobs, results)
		}(i)
	}

	// Send jobs
	go func() {
		for _, batch := range batches {
			select {
			case <-ctx.Done():
				return
			case jobs <- batch:
			}
		}
		close(jobs)
	}()

	// Wait for workers and close results
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	for outcome := range results {
		switch {
		case outcome.err == nil:
			result.Published += outcome.size
		case errors.Is(outcome.err, ErrRejected):
			result.Rejected += outcome.size
			result.Errors = append(result.Errors, outcome.err.Error())
		default:
			result.Failed += outcome.size
			result.Errors = append(result.Errors, outcome.err.Error())
		}
	}

	return result, nil
}

func (r *Runner) worker(ctx context.Context, id int, jobs <-chan []Event, results chan<- batchOutcome) {
	for batch := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := r.publisher.PublishBatch(ctx, batch)
		if err != nil {
			r.logger.Debug("batch publish failed",
				zap.Int("worker", id),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case results <- batchOutcome{size: len(batch), err: err}:
		}
	}
}

// chunk splits events into slices of at most size elements.
func chunk(events []Event, size int) [][]Event {
	var out [][]Event
	for len(events) > size {
		out = append(out, events[:size])
		events = events[size:]
	}
	return append(out, events)
}
