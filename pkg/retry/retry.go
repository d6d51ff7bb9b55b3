package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/utils/logging"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TagExhausted marks errors raised after the retry budget is spent.
// The underlying cause of the last attempt is wrapped inside.
var TagExhausted = goerr.NewTag("retry_exhausted")

// IsExhausted reports whether err was raised by a spent retry budget
func IsExhausted(err error) bool {
	return goerr.HasTag(err, TagExhausted)
}

// Policy controls the retry loop. The wrapped operation may run
// 1..MaxRetries+1 times; callers must ensure idempotency when the
// operation has side effects.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration

	// Retryable decides whether an error is transient. Defaults to
	// IsTransient.
	Retryable func(error) bool

	// Fatal short-circuits immediately without consuming a retry,
	// taking precedence over Retryable. Defaults to nothing being fatal.
	Fatal func(error) bool

	// jitter and sleep are seams for tests
	jitter func() time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithJitter overrides the jitter source. Intended for tests.
func (p Policy) WithJitter(f func() time.Duration) Policy {
	p.jitter = f
	return p
}

// WithSleep overrides the delay function. Intended for tests.
func (p Policy) WithSleep(f func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = f
	return p
}

func defaultJitter() time.Duration {
	return 100*time.Millisecond + time.Duration(rand.Int63n(int64(400*time.Millisecond)))
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "retry cancelled while waiting")
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, fails fatally, or the retry budget is
// spent. Backoff doubles after every attempt with 100-500ms of jitter,
// seeded at InitialDelay; a provider-supplied retry-after overrides the
// computed delay for the next attempt.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	fatal := p.Fatal
	jitter := p.jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			if after, ok := retryAfterOf(lastErr); ok {
				wait = after
			}
			if err := sleep(ctx, wait); err != nil {
				return zero, err
			}
			delay = delay*2 + jitter()
		}

		if err := ctx.Err(); err != nil {
			return zero, goerr.Wrap(err, "retry cancelled")
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if fatal != nil && fatal(err) {
			return zero, err
		}
		if !retryable(err) {
			return zero, err
		}

		logging.From(ctx).Debug("retrying after transient failure",
			"attempt", attempt+1, "max_retries", p.MaxRetries, "error", err)
	}

	return zero, goerr.Wrap(lastErr, "retry budget exhausted",
		goerr.T(TagExhausted), goerr.V("attempts", p.MaxRetries+1))
}

// IsTransient is the default retry predicate: HTTP 429/500/502/503/504,
// network timeouts, and the equivalent gRPC status codes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// retryAfterOf extracts an explicit provider-supplied retry-after hint
func retryAfterOf(err error) (time.Duration, bool) {
	var hinted interface{ RetryAfter() time.Duration }
	if errors.As(err, &hinted) {
		return hinted.RetryAfter(), true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Header != nil {
		if v := apiErr.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second, true
			}
		}
	}

	return 0, false
}
