package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/owlet/pkg/retry"
)

var errFlaky = goerr.New("flaky service error")

func failNTimes(n int) func(context.Context) (string, error) {
	count := 0
	return func(ctx context.Context) (string, error) {
		count++
		if count <= n {
			return "", errFlaky
		}
		return "ok", nil
	}
}

func flakyPolicy(maxRetries int, delays *[]time.Duration) retry.Policy {
	p := retry.Policy{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		Retryable:    func(err error) bool { return true },
	}
	p = p.WithJitter(func() time.Duration { return 0 })
	p = p.WithSleep(func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	})
	return p
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	ctx := context.Background()

	var delays []time.Duration
	result, err := retry.Do(ctx, flakyPolicy(5, &delays), failNTimes(3))
	gt.NoError(t, err)
	gt.Equal(t, result, "ok")

	// 3 failures -> 3 waits, doubling from the initial delay
	gt.A(t, delays).Length(3)
	for i := 1; i < len(delays); i++ {
		gt.True(t, delays[i] >= delays[i-1])
	}
	gt.Equal(t, delays[0], 10*time.Millisecond)
	gt.Equal(t, delays[1], 20*time.Millisecond)
	gt.Equal(t, delays[2], 40*time.Millisecond)
}

func TestExhaustsBudget(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	_, err := retry.Do(ctx, flakyPolicy(3, nil), func(ctx context.Context) (int, error) {
		attempts++
		return 0, errFlaky
	})

	gt.Error(t, err)
	gt.True(t, retry.IsExhausted(err))
	gt.True(t, goerr.HasTag(err, retry.TagExhausted))
	// MaxRetries+1 total attempts
	gt.Equal(t, attempts, 4)
}

func TestFatalShortCircuits(t *testing.T) {
	ctx := context.Background()
	errPolicy := goerr.New("policy violation")

	p := flakyPolicy(5, nil)
	p.Fatal = func(err error) bool { return errors.Is(err, errPolicy) }

	attempts := 0
	_, err := retry.Do(ctx, p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errPolicy
	})

	gt.Error(t, err)
	gt.False(t, retry.IsExhausted(err))
	gt.Equal(t, attempts, 1)
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	ctx := context.Background()
	errBadInput := goerr.New("invalid input")

	p := retry.Policy{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return false },
	}
	p = p.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })

	attempts := 0
	_, err := retry.Do(ctx, p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errBadInput
	})

	gt.Error(t, err)
	gt.Equal(t, attempts, 1)
}

type rateLimitedError struct {
	after time.Duration
}

func (e *rateLimitedError) Error() string { return "rate limited" }

func (e *rateLimitedError) RetryAfter() time.Duration { return e.after }

func TestRetryAfterOverridesBackoff(t *testing.T) {
	ctx := context.Background()

	var delays []time.Duration
	p := flakyPolicy(3, &delays)

	count := 0
	result, err := retry.Do(ctx, p, func(ctx context.Context) (string, error) {
		count++
		if count == 1 {
			return "", &rateLimitedError{after: 3 * time.Second}
		}
		return "ok", nil
	})

	gt.NoError(t, err)
	gt.Equal(t, result, "ok")
	gt.A(t, delays).Length(1)
	gt.Equal(t, delays[0], 3*time.Second)
}

func TestCancelledContextStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := retry.Policy{
		MaxRetries:   10,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return true },
	}
	p = p.WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return nil
	})
	p = p.WithJitter(func() time.Duration { return 0 })

	attempts := 0
	_, err := retry.Do(ctx, p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errFlaky
	})

	gt.Error(t, err)
	// Cancellation must stop the loop before starting a new attempt
	gt.Equal(t, attempts, 1)
}

func TestFirstAttemptHasNoDelay(t *testing.T) {
	ctx := context.Background()

	var delays []time.Duration
	result, err := retry.Do(ctx, flakyPolicy(3, &delays), failNTimes(0))
	gt.NoError(t, err)
	gt.Equal(t, result, "ok")
	gt.A(t, delays).Length(0)
}
