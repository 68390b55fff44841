package errors

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"time"
)

// RetryConfig controls how setup fetches, such as downloading the API
// description, are repeated after transient failures. Dispatch never retries
// a candidate; it moves on to the next one instead.
type RetryConfig struct {
	MaxRetries   int // Extra attempts after the first, 0 disables retrying
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // Fraction of the delay added or removed at random
	RetryOn      []ErrorType
}

// DefaultRetryConfig returns two retries with exponential backoff from
// 500ms, for network and timeout failures only.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryOn:      []ErrorType{Network, Timeout},
	}
}

// Retrier repeats an operation with exponential backoff. It is safe for
// concurrent use.
type Retrier struct {
	config RetryConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetrier creates a retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Retrier{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewDefaultRetrier creates a retrier with DefaultRetryConfig.
func NewDefaultRetrier() *Retrier {
	return NewRetrier(DefaultRetryConfig())
}

// Outcome reports how a retried operation ended. Err is nil on success.
type Outcome struct {
	Attempts int
	Err      error
}

// Do runs fn until it succeeds, fails permanently, runs out of retries or
// ctx ends. A cancelled context is reported as a Cancelled error for url.
func (r *Retrier) Do(ctx context.Context, operation, url string, fn func(ctx context.Context) error) Outcome {
	var out Outcome

	for {
		out.Attempts++
		err := fn(ctx)
		if err == nil {
			out.Err = nil
			return out
		}
		out.Err = err

		if ctx.Err() != nil {
			out.Err = NewCancelledError(url, operation)
			return out
		}
		if out.Attempts > r.config.MaxRetries || !r.Retryable(err) {
			return out
		}

		timer := time.NewTimer(r.backoff(out.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			out.Err = NewCancelledError(url, operation)
			return out
		case <-timer.C:
		}
	}
}

// Retryable reports whether err is worth another attempt under this
// configuration.
func (r *Retrier) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if slices.Contains(r.config.RetryOn, GetErrorType(err)) {
		return true
	}
	return IsRetryable(err)
}

// backoff returns the wait before the attempt following attempt n (1-based):
// InitialDelay * Multiplier^(n-1), capped at MaxDelay, then jittered.
func (r *Retrier) backoff(n int) time.Duration {
	delay := float64(r.config.InitialDelay)
	for i := 1; i < n; i++ {
		delay *= r.config.Multiplier
		if r.config.MaxDelay > 0 && delay >= float64(r.config.MaxDelay) {
			delay = float64(r.config.MaxDelay)
			break
		}
	}
	if r.config.MaxDelay > 0 && delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter > 0 {
		r.mu.Lock()
		spread := (r.rng.Float64()*2 - 1) * r.config.Jitter
		r.mu.Unlock()
		delay += delay * spread
	}
	return time.Duration(delay)
}

// Retry runs fn through r and returns its last value with the outcome.
func Retry[T any](ctx context.Context, r *Retrier, operation, url string, fn func(ctx context.Context) (T, error)) (T, Outcome) {
	var value T
	out := r.Do(ctx, operation, url, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			value = v
		}
		return err
	})
	return value, out
}
