package jamf

import (
	"context"
)

// Future is the result of an operation running on its own goroutine.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go starts fn on a new goroutine and returns a Future for its result.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	future := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(future.done)

		future.value, future.err = fn(ctx)
	}()

	return future
}

// Resolved returns a Future that is already complete.
func Resolved[T any](value T, err error) *Future[T] {
	future := &Future[T]{done: make(chan struct{}), value: value, err: err}
	close(future.done)

	return future
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is available or ctx is done. Abandoning a
// Future does not stop the operation behind it.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}
