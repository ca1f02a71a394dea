package task

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/logging"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()

	s := NewScheduler(workers, logging.NewNopLogger())
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	return s
}

func TestSpawnParallelReturnsValue(t *testing.T) {
	s := newTestScheduler(t, 2)

	task := SpawnParallel(s, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	value, err := task.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestSpawnParallelErrorReachesEveryAwaiter(t *testing.T) {
	s := newTestScheduler(t, 1)
	boom := stderrors.New("boom")

	task := SpawnParallel(s, func(ctx context.Context) (string, error) {
		return "", boom
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := task.Await(context.Background())
			assert.ErrorIs(t, err, boom)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), s.Stats().Failed)
}

func TestPanicBecomesError(t *testing.T) {
	s := newTestScheduler(t, 1)

	task := SpawnLocal(s, func(ctx context.Context) (int, error) {
		panic("kaput")
	})

	_, err := task.Await(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeWorkerPanic, errors.Code(err))
	assert.Contains(t, err.Error(), "kaput")
}

func TestPoolBoundsParallelism(t *testing.T) {
	const workers = 2
	s := newTestScheduler(t, workers)

	var running, peak atomic.Int32
	tasks := make([]*Task[struct{}], 0, 8)
	for i := 0; i < 8; i++ {
		tasks = append(tasks, SpawnParallel(s, func(ctx context.Context) (struct{}, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)

			return struct{}{}, nil
		}))
	}

	_, err := AwaitAll(context.Background(), tasks...)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestLocalTasksDoNotHoldWorkers(t *testing.T) {
	s := newTestScheduler(t, 1)

	// A local task awaiting pooled work must not starve the single worker.
	outer := SpawnLocal(s, func(ctx context.Context) (int, error) {
		inner := SpawnParallel(s, func(ctx context.Context) (int, error) {
			return 7, nil
		})

		value, err := inner.Await(ctx)

		return value * 2, err
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	value, err := outer.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, value)

	s.Wait()
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Local)
	assert.Equal(t, int64(1), stats.Parallel)
}

func TestAwaitHonoursCancellation(t *testing.T) {
	s := newTestScheduler(t, 1)
	release := make(chan struct{})
	defer close(release)

	task := SpawnParallel(s, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := task.Await(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCancellation(err))
}

func TestStopCancelsQueuedWork(t *testing.T) {
	s := NewScheduler(1, logging.NewNopLogger())
	s.Start(context.Background())

	release := make(chan struct{})
	blocker := SpawnParallel(s, func(ctx context.Context) (int, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0, nil
	})
	// Give the worker time to pick up the blocker.
	time.Sleep(10 * time.Millisecond)

	queued := SpawnParallel(s, func(ctx context.Context) (int, error) {
		return 1, nil
	})

	s.Stop()
	close(release)

	_, _ = blocker.Await(context.Background())
	_, err := queued.Await(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCancellation(err))
}

func TestAwaitAllReturnsFirstErrorInOrder(t *testing.T) {
	first := stderrors.New("first")
	second := stderrors.New("second")

	values, err := AwaitAll(context.Background(),
		Completed(1, nil),
		Completed(0, first),
		Completed(0, second),
	)
	assert.Nil(t, values)
	assert.ErrorIs(t, err, first)

	values, err = AwaitAll(context.Background(), Completed(1, nil), Completed(2, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, values)
}

func TestCompletedTaskIgnoresCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	value, err := Completed("done", nil).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}
