package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type retryable interface {
	Retryable() bool
}

// Executor runs an operation with classification-driven retries and
// bounded exponential backoff. Only transient failures are retried;
// everything else propagates immediately.
type Executor struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Classify overrides the default transience check. The default asks
	// the error itself via a Retryable() bool method (unwrapped through
	// errors.As) and treats context deadline expiry as transient.
	Classify func(error) bool

	// Jitter selects a uniform random wait in (0, delay] instead of the
	// exact schedule, the same full-jitter shape used for webhook
	// delivery. Nil means deterministic delays.
	Jitter *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// OnRetry fires before each backoff wait. attempt is 1-based: the first
// retry reports 1.
type OnRetry func(attempt int, err error)

func NewExecutor() *Executor {
	return &Executor{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

func (e *Executor) Do(ctx context.Context, op func(context.Context) error, onRetry OnRetry) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= e.MaxRetries || !e.isRetryable(err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
		if err := e.wait(ctx, e.Delay(attempt)); err != nil {
			return err
		}
	}
}

// Delay returns the backoff before the retry following failed attempt n
// (counted from 0): min(initial * multiplier^n, max).
func (e *Executor) Delay(attempt int) time.Duration {
	delay := float64(e.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= e.Multiplier
	}
	if max := float64(e.MaxDelay); e.MaxDelay > 0 && delay > max {
		delay = max
	}
	d := time.Duration(delay)
	if e.Jitter != nil && d > 0 {
		d = time.Duration(e.Jitter.Int63n(int64(d))) + 1
	}
	return d
}

func (e *Executor) isRetryable(err error) bool {
	if e.Classify != nil {
		return e.Classify(err)
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
