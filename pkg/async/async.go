package async

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by AwaitTimeout when the deadline elapses before the
// function completes. The underlying function keeps running; only the wait is
// abandoned.
var ErrTimeout = errors.New("async: await timed out")

// Future holds the eventual result of a background computation.
type Future[T any] struct {
	result T
	err    error
	done   chan struct{}
}

// Run executes fn in a new goroutine and returns a Future for its result.
// If ctx is already cancelled the function is not invoked and the future
// resolves with ctx.Err().
func Run[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		select {
		case <-ctx.Done():
			f.err = ctx.Err()
			return
		default:
		}

		f.result, f.err = fn(ctx)
	}()

	return f
}

// Await blocks until the computation completes.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.result, f.err
}

// AwaitTimeout blocks until the computation completes or the timeout elapses,
// whichever comes first. On timeout it returns ErrTimeout; the computation is
// not interrupted and its eventual result is discarded unless awaited again.
func (f *Future[T]) AwaitTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// Done reports whether the computation has completed without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
