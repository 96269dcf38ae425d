// Package retry runs an operation with bounded, classified retries and
// exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/vitwit/cryptopay/logger"
	"github.com/vitwit/cryptopay/metrics"
	"github.com/vitwit/cryptopay/types"
)

const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Operation is one attempt of a retried call.
type Operation[T any] func(ctx context.Context) (T, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine holds the backoff policy shared by all calls of a client.
type Engine struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	sleep     SleepFunc
	logger    logger.Logger
	metrics   metrics.Recorder
}

type Option func(*Engine)

func WithBaseDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.baseDelay = d
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.maxDelay = d
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.OrNoop(e.logger)
	e.metrics = metrics.OrNoop(e.metrics)
	return e
}

// Execute runs op up to maxRetries+1 times. Only classified errors that are
// retryable (network, rate limit, status >= 500) are retried; everything
// else is returned after the first failure. When every attempt fails the
// last error is returned unchanged.
func Execute[T any](ctx context.Context, e *Engine, maxRetries int, op Operation[T]) (T, error) {
	var zero T
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if attempt >= maxRetries || !ShouldRetry(err) {
			return zero, err
		}

		delay := e.Delay(err, attempt)
		e.logger.Warn("retrying request", map[string]any{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		e.metrics.IncCounter(metrics.HTTPRetry, map[string]string{"outcome": outcome(err)})

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// ShouldRetry reports whether err is a transient classified failure.
func ShouldRetry(err error) bool {
	classified, ok := types.AsError(err)
	if !ok {
		return false
	}
	return classified.Retryable()
}

// Delay returns how long to wait after the given zero-based attempt failed
// with err. A rate limit with a known Retry-After is honoured as is.
func (e *Engine) Delay(err error, attempt int) time.Duration {
	if classified, ok := types.AsError(err); ok && classified.Kind == types.KindRateLimit && classified.RetryAfter > 0 {
		return time.Duration(classified.RetryAfter) * time.Second
	}
	return Backoff(e.baseDelay, e.maxDelay, attempt)
}

// Backoff returns min(base*2^attempt, limit).
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		if d >= limit {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

func outcome(err error) string {
	if classified, ok := types.AsError(err); ok {
		return string(classified.Kind)
	}
	return "unknown"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
