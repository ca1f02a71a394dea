package task

import (
	"context"
	"sync"

	"github.com/conneroisu/msssg/internal/errors"
)

// Task is the future returned by SpawnParallel and SpawnLocal. Its result
// is written once and may be awaited any number of times.
type Task[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

// Completed returns a task that has already finished with value and err.
func Completed[T any](value T, err error) *Task[T] {
	t := newTask[T]()
	t.complete(value, err)

	return t
}

func (t *Task[T]) complete(value T, err error) {
	t.once.Do(func() {
		t.value = value
		t.err = err
		close(t.done)
	})
}

// Done is closed once the task has finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Await blocks until the task finishes or ctx is cancelled. The task's
// error, including a recovered panic, is returned to every awaiter.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	default:
	}

	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T

		return zero, errors.FromContext(ctx.Err())
	}
}

// AwaitAll awaits every task in order and returns their values. The first
// error encountered is returned and no partial result is produced.
func AwaitAll[T any](ctx context.Context, tasks ...*Task[T]) ([]T, error) {
	values := make([]T, 0, len(tasks))
	for _, t := range tasks {
		value, err := t.Await(ctx)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}

	return values, nil
}
