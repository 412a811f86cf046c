// Package async provides the single-assignment future used to sequence
// adapter calls and their continuations, and the liveness guard that drops a
// continuation when its owner has been torn down.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSuppress, returned (or wrapped) by a Then continuation, settles the
// derived future as suppressed instead of rejected.
var ErrSuppress = errors.New("async: suppress result")

// Future holds the eventual outcome of an asynchronous operation. It settles
// exactly once: resolved with a value, rejected with an error, or suppressed.
// A suppressed future carries neither value nor error.
type Future[T any] struct {
	done       chan struct{}
	once       sync.Once
	value      T
	err        error
	suppressed bool
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) settle(v T, err error, suppressed bool) {
	f.once.Do(func() {
		f.value = v
		f.err = err
		f.suppressed = suppressed
		close(f.done)
	})
}

// Go runs fn on its own goroutine and returns a future for its result.
// A panic in fn rejects the future.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		var zero T
		defer func() {
			if r := recover(); r != nil {
				f.settle(zero, fmt.Errorf("async: panic: %v", r), false)
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			f.settle(zero, err, false)
			return
		}
		f.settle(v, nil, false)
	}()
	return f
}

// Resolve returns a future already resolved with v.
func Resolve[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.settle(v, nil, false)
	return f
}

// Reject returns a future already rejected with err.
func Reject[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.settle(zero, err, false)
	return f
}

// Done returns a channel closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done. A suppressed future
// yields the zero value and a nil error; use Suppressed to tell it apart.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Suppressed reports whether the future settled without running its
// continuation. Only meaningful after Done is closed.
func (f *Future[T]) Suppressed() bool {
	select {
	case <-f.done:
		return f.suppressed
	default:
		return false
	}
}

// Settled reports whether the future has settled.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Then chains continuations onto f. onResolve runs with the value when f
// resolves; onReject runs with the error when f rejects. A nil onReject
// passes the rejection through unchanged. Neither runs when f is suppressed;
// the derived future is suppressed too, as it is when a continuation returns
// ErrSuppress.
func Then[T, U any](f *Future[T], onResolve func(T) (U, error), onReject func(error) (U, error)) *Future[U] {
	out := newFuture[U]()
	go func() {
		var zero U
		<-f.done

		if f.suppressed {
			out.settle(zero, nil, true)
			return
		}

		defer func() {
			if r := recover(); r != nil {
				out.settle(zero, fmt.Errorf("async: panic: %v", r), false)
			}
		}()

		var (
			v   U
			err error
		)
		if f.err != nil {
			if onReject == nil {
				out.settle(zero, f.err, false)
				return
			}
			v, err = onReject(f.err)
		} else {
			v, err = onResolve(f.value)
		}
		if errors.Is(err, ErrSuppress) {
			out.settle(zero, nil, true)
			return
		}
		if err != nil {
			out.settle(zero, err, false)
			return
		}
		out.settle(v, nil, false)
	}()
	return out
}
