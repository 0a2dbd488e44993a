// Package future provides a single-assignment result cell that can be
// observed by many readers. A Future is settled exactly once, either with a
// value or with an error; every later settlement attempt is a silent no-op.
//
// Observers registered with OnComplete run inline: immediately on the
// registering goroutine when the future is already settled, otherwise on the
// goroutine that settles it. No goroutines are started by this package.
package future

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPanicked wraps a panic recovered from a continuation passed to Then.
var ErrPanicked = errors.New("continuation panicked")

// Future is a write-once container for the outcome of an asynchronous operation.
// The zero value is not usable; create instances with New.
type Future[T any] struct {
	mu        sync.Mutex
	settled   bool
	value     T
	err       error
	done      chan struct{}
	observers []func(T, error)
}

// New returns an unsettled Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already settled with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Failed returns a Future already settled with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve settles the future with v. It reports whether this call performed
// the settlement; false means the future had already been settled.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. A nil err is refused and reported as false.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		return false
	}

	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}

	f.settled = true
	f.value = v
	f.err = err
	observers := f.observers
	f.observers = nil
	close(f.done)
	f.mu.Unlock()

	for _, observe := range observers {
		observe(v, err)
	}

	return true
}

// Done returns a channel closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Peek returns the outcome without blocking. The last return value is false
// while the future is still unsettled.
func (f *Future[T]) Peek() (T, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.value, f.err, f.settled
}

// Await blocks until the future settles or ctx is done, whichever happens first.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Peek()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to observe the outcome. fn runs exactly once.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.observers = append(f.observers, fn)
		f.mu.Unlock()
		return
	}

	v, err := f.value, f.err
	f.mu.Unlock()

	fn(v, err)
}

// Then derives a new future from f. When f resolves, fn transforms its value;
// an error returned by fn, or a panic inside it, rejects the derived future.
// When f is rejected, onError maps the error before it is forwarded; a nil
// onError, or a nil mapped error, forwards the original error unchanged.
func Then[T, U any](f *Future[T], fn func(T) (U, error), onError func(error) error) *Future[U] {
	out := New[U]()

	f.OnComplete(func(v T, err error) {
		if err != nil {
			if onError != nil {
				if mapped := onError(err); mapped != nil {
					err = mapped
				}
			}
			out.Reject(err)
			return
		}

		defer func() {
			if r := recover(); r != nil {
				out.Reject(fmt.Errorf("%w: %v", ErrPanicked, r))
			}
		}()

		result, err := fn(v)
		if err != nil {
			out.Reject(err)
			return
		}

		out.Resolve(result)
	})

	return out
}
