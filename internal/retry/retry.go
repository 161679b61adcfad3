package retry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrTooManyAttempts = errors.New("too many retry attempts")

// Callable returns a retry Error for failures worth another attempt,
// any other error stops the retries immediately
type Callable[T any] func(attempt int) (T, error)

type retryError struct {
	error
	attempt int
}

func (e *retryError) Unwrap() error {
	return e.error
}

func Error(err error, attempt int) error {
	if err == nil {
		return nil
	}
	return &retryError{error: err, attempt: attempt}
}

type Attempts interface {
	Next() (time.Duration, bool)
	Current() int
}

func Start[T any](ctx context.Context, a Attempts, cb Callable[T]) (T, error) {
	var last error

	for {
		result, err := cb(a.Current())
		if err == nil {
			return result, nil
		}

		var re *retryError
		if !errors.As(err, &re) {
			return result, errors.Wrapf(err, "retry %d failed", a.Current())
		}

		last = err

		next, stop := a.Next()
		if stop {
			var zero T
			return zero, errors.Wrapf(ErrTooManyAttempts, "last error: %v", last)
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(next):
			continue
		}
	}
}

func Incremental[T any](ctx context.Context, step time.Duration, maxRetries int, cb Callable[T]) (T, error) {
	return Start(ctx, IncrementalAttempts(step, maxRetries), cb)
}

type incrementalAttempts struct {
	sync.RWMutex
	prev time.Duration
	step time.Duration
	max  int
	curr int
}

func (a *incrementalAttempts) Next() (time.Duration, bool) {
	a.Lock()
	defer a.Unlock()

	a.curr++
	if a.curr > a.max {
		return 0, true
	}

	next := a.prev + a.step
	a.prev = next

	return next, false
}

func (a *incrementalAttempts) Current() int {
	a.RLock()
	defer a.RUnlock()
	return a.curr
}

func IncrementalAttempts(step time.Duration, max int) Attempts {
	return &incrementalAttempts{
		prev: 0,
		step: step,
		max:  max,
		curr: 1,
	}
}

type constantAttempts struct {
	sync.RWMutex
	step time.Duration
	max  int
	curr int
}

func (a *constantAttempts) Next() (time.Duration, bool) {
	a.Lock()
	defer a.Unlock()

	a.curr++
	if a.curr > a.max {
		return 0, true
	}

	return a.step, false
}

func (a *constantAttempts) Current() int {
	a.RLock()
	defer a.RUnlock()
	return a.curr
}

// ConstantAttempts waits the same step between attempts, polling style
func ConstantAttempts(step time.Duration, max int) Attempts {
	if max < 1 {
		max = 1
	}

	return &constantAttempts{step: step, max: max, curr: 1}
}
