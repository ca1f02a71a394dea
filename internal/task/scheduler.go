// Package task provides the build scheduler: one Task future type backed by
// two execution strategies.
//
// SpawnParallel queues CPU-bound work (encoding, rendering) onto a fixed pool
// of worker goroutines. SpawnLocal runs coordination work, which mostly awaits
// other tasks, on its own goroutine so it never holds a worker slot while
// blocked. Both return a *Task whose Await selects between completion and
// context cancellation.
package task

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/logging"
)

// job is a unit of pooled work. It receives the pool context.
type job func(ctx context.Context)

// Scheduler manages the worker pool and tracks local tasks.
type Scheduler struct {
	// workers is the fixed size of the pool
	workers int
	// queue hands jobs to idle workers
	queue chan job
	// ctx is cancelled when the pool stops
	ctx    context.Context
	cancel context.CancelFunc
	// workerWg synchronizes worker goroutine lifecycle
	workerWg sync.WaitGroup
	// localWg tracks running local tasks
	localWg sync.WaitGroup
	logger  logging.Logger
	// mu protects started and stopped
	mu      sync.RWMutex
	started bool
	stopped bool

	parallel atomic.Int64
	local    atomic.Int64
	failed   atomic.Int64
}

// Stats summarizes scheduler activity.
type Stats struct {
	Workers  int
	Parallel int64
	Local    int64
	Failed   int64
}

// NewScheduler creates a scheduler with the given pool size. A non-positive
// count selects runtime.NumCPU().
func NewScheduler(workers int, logger logging.Logger) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Scheduler{
		workers: workers,
		queue:   make(chan job),
		logger:  logger.WithComponent("scheduler"),
	}
}

// Start launches the worker goroutines. Work spawned before Start waits in
// the queue until a worker is available.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	s.ensureContextLocked(ctx)
	// The pool context may predate Start when work was spawned early.
	context.AfterFunc(ctx, s.cancel)

	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		go s.worker(s.ctx)
	}

	s.logger.Debug(ctx, "Worker pool started", "workers", s.workers)
}

// Stop cancels the pool context and waits for every worker to return. Work
// still queued completes with a cancellation error.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.ensureContextLocked(context.Background())
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.workerWg.Wait()
}

// Wait blocks until every local task has returned.
func (s *Scheduler) Wait() {
	s.localWg.Wait()
}

// Context returns the pool context. It is cancelled by Stop or by the
// context passed to Start.
func (s *Scheduler) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureContextLocked(context.Background())

	return s.ctx
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Workers:  s.workers,
		Parallel: s.parallel.Load(),
		Local:    s.local.Load(),
		Failed:   s.failed.Load(),
	}
}

func (s *Scheduler) ensureContextLocked(parent context.Context) {
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(parent)
	}
}

// worker is the main worker goroutine that processes pooled jobs.
func (s *Scheduler) worker(ctx context.Context) {
	defer s.workerWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			j(ctx)
		}
	}
}

// submit hands j to the pool without blocking the caller. If the pool
// stops first, abort is called instead.
func (s *Scheduler) submit(j job, abort func(error)) {
	ctx := s.Context()

	go func() {
		select {
		case s.queue <- j:
		case <-ctx.Done():
			abort(errors.FromContext(ctx.Err()))
		}
	}()
}

// SpawnParallel queues fn onto the worker pool and returns its task.
func SpawnParallel[T any](s *Scheduler, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := newTask[T]()
	s.parallel.Add(1)

	s.submit(func(ctx context.Context) {
		run(ctx, s, t, fn)
	}, func(err error) {
		var zero T
		t.complete(zero, err)
	})

	return t
}

// SpawnLocal runs fn on its own goroutine, outside the pool.
func SpawnLocal[T any](s *Scheduler, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := newTask[T]()
	s.local.Add(1)
	s.localWg.Add(1)

	ctx := s.Context()
	go func() {
		defer s.localWg.Done()
		run(ctx, s, t, fn)
	}()

	return t
}

// run executes fn and completes t, converting a panic into an error so the
// failure reaches every awaiter.
func run[T any](ctx context.Context, s *Scheduler, t *Task[T], fn func(ctx context.Context) (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			err := errors.NewInternalError(errors.ErrCodeWorkerPanic, fmt.Sprintf("task panicked: %v", r), nil)
			s.logger.Error(ctx, err, "Task panicked")

			var zero T
			t.complete(zero, err)
		}
	}()

	if err := ctx.Err(); err != nil {
		var zero T
		t.complete(zero, errors.FromContext(err))

		return
	}

	value, err := fn(ctx)
	if err != nil {
		s.failed.Add(1)
	}
	t.complete(value, err)
}
