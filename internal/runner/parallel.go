package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// runParallel distributes whole suites over a fixed worker pool. Cases
// inside a suite still run one at a time, in order.
func (r *Runner) runParallel(ctx context.Context, suites []*suite.Suite) []suite.SuiteResult {
	workers := r.config.WorkerCount(len(suites))
	results := make([]suite.SuiteResult, len(suites))
	done := make([]bool, len(suites))

	// Every task is queued up front so a dead pool can never block the
	// producer.
	tasks := make(chan int, len(suites))
	for i := range suites {
		tasks <- i
	}
	close(tasks)

	r.logger.Debug("Starting worker pool",
		zap.Int("workers", workers),
		zap.Int("suites", len(suites)))

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		id := w
		g.Go(func() error {
			r.worker(ctx, id, suites, tasks, results, done)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range suites {
		if !done[i] {
			results[i] = crashedSuite(s, fmt.Errorf("suite not executed: worker pool exhausted"))
		}
	}
	return results
}

// worker drains tasks. A crash loses the in-flight suite, which is reported
// as failed, and the worker restarts once after a short backoff.
func (r *Runner) worker(ctx context.Context, id int, suites []*suite.Suite, tasks <-chan int, results []suite.SuiteResult, done []bool) {
	restarted := false
	for {
		crash, lost := r.drain(ctx, suites, tasks, results, done)
		if crash == nil {
			return
		}

		if lost >= 0 {
			results[lost] = crashedSuite(suites[lost], fmt.Errorf("worker %d crashed: %v", id, crash))
			done[lost] = true
		}
		if r.metrics != nil {
			r.metrics.workerRestarts.Inc()
		}
		if restarted {
			r.logger.Error("Worker crashed again, not restarting",
				zap.Int("worker", id),
				zap.Any("panic", crash))
			return
		}
		r.logger.Warn("Worker crashed, restarting",
			zap.Int("worker", id),
			zap.Any("panic", crash),
			zap.Duration("backoff", r.restartBackoff))
		restarted = true

		select {
		case <-time.After(r.restartBackoff):
		case <-ctx.Done():
			return
		}
	}
}

// drain runs tasks until the queue is empty or a suite panics. On a panic
// it returns the recovered value and the index of the suite in flight.
func (r *Runner) drain(ctx context.Context, suites []*suite.Suite, tasks <-chan int, results []suite.SuiteResult, done []bool) (crash any, lost int) {
	lost = -1
	defer func() {
		if p := recover(); p != nil {
			crash = p
		}
	}()
	for i := range tasks {
		lost = i
		results[i] = r.RunSuite(ctx, suites[i])
		done[i] = true
		lost = -1
	}
	return nil, -1
}
