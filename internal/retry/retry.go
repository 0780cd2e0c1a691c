// Package retry classifies operation failures and wraps asynchronous
// operations with backoff-based retries and best-effort timeouts.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"time"
)

// Kind buckets an error for retry decisions.
type Kind int

// Error kinds. Network, Timeout, and Server failures are transient and
// retryable; Auth, Validation, and NotFound surface immediately.
const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindServer
	KindAuth
	KindValidation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// HTTPError classifies an error from an HTTP status code.
func HTTPError(statusCode int, message string) *Error {
	kind := KindUnknown
	switch {
	case statusCode == 401 || statusCode == 403:
		kind = KindAuth
	case statusCode == 404:
		kind = KindNotFound
	case statusCode == 400 || statusCode == 422:
		kind = KindValidation
	case statusCode == 408:
		kind = KindTimeout
	case statusCode >= 500:
		kind = KindServer
	}
	return &Error{Kind: kind, Message: message, StatusCode: statusCode}
}

// ErrTimeout is the sentinel wrapped by WithTimeout deadline failures.
var ErrTimeout = errors.New("operation timed out")

// Retryable reports whether err is worth another attempt. Classified
// Network/Timeout/Server errors and raw transport failures are retryable;
// everything else, including unclassified errors, is not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var classified *Error
	if errors.As(err, &classified) {
		switch classified.Kind {
		case KindNetwork, KindTimeout, KindServer:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Backoff selects the delay growth strategy between attempts.
type Backoff string

// Backoff strategies.
const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// Options controls Do.
type Options struct {
	// Attempts is the total invocation budget, minimum 1.
	Attempts int
	// Delay is the base wait before a retry.
	Delay time.Duration
	// Backoff defaults to BackoffLinear.
	Backoff Backoff
	// MaxJitter bounds the random delay added before each retry. Zero
	// means the 1s default; negative disables jitter.
	MaxJitter time.Duration
}

const defaultMaxJitter = time.Second

// Do invokes op up to opts.Attempts times, sleeping between attempts per
// the backoff strategy plus jitter. Non-retryable failures return
// immediately. On exhaustion the last error is returned unchanged.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !Retryable(err) || attempt == attempts {
			return zero, lastErr
		}
		if err := sleep(ctx, backoffDelay(opts, attempt)); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// WithTimeout races op against d. If the timer fires first the result is
// discarded and an ErrTimeout-wrapped error is returned; op receives a
// context canceled at the deadline so in-flight I/O can actually stop.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := op(opCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, NewError(KindTimeout, fmt.Sprintf("deadline %s exceeded", d), ErrTimeout)
	}
}

func backoffDelay(opts Options, attempt int) time.Duration {
	delay := opts.Delay
	if opts.Backoff == BackoffExponential {
		delay = time.Duration(float64(opts.Delay) * math.Pow(2, float64(attempt-1)))
	}
	return delay + randomJitter(opts.MaxJitter)
}

func randomJitter(maxJitter time.Duration) time.Duration {
	if maxJitter < 0 {
		return 0
	}
	if maxJitter == 0 {
		maxJitter = defaultMaxJitter
	}
	bound := big.NewInt(int64(maxJitter))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return maxJitter / 2
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
