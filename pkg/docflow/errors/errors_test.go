package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "transient", CategoryTransient.String())
	assert.Equal(t, "permanent", CategoryPermanent.String())
	assert.Equal(t, "malformed", CategoryMalformed.String())
	assert.Equal(t, "unknown", Category(99).String())
	assert.Equal(t, "unknown", Category(-1).String())
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

var _ net.Error = netTimeout{}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryPermanent},
		{"429", &StatusError{Status: 429}, CategoryTransient},
		{"408", &StatusError{Status: 408}, CategoryTransient},
		{"503", &StatusError{Status: 503}, CategoryTransient},
		{"401", &StatusError{Status: 401}, CategoryPermanent},
		{"400", &StatusError{Status: 400}, CategoryPermanent},
		{"malformed output", &OutputError{Reason: "unexpected token"}, CategoryMalformed},
		{"missing field", &ValidationError{Field: "goal", Message: "must not be empty"}, CategoryMalformed},
		{"attempt timeout", &TimeoutError{Op: "complete", After: time.Second}, CategoryTransient},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"net timeout", fmt.Errorf("dial: %w", netTimeout{}), CategoryTransient},
		{"already categorized", &CategorizedError{Category: CategoryMalformed}, CategoryMalformed},
		{"wrapped status", fmt.Errorf("outer: %w", &StatusError{Status: 502}), CategoryTransient},
		{"unknown", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "anthropic returned status 529: overloaded",
		(&StatusError{Service: "anthropic", Status: 529, Detail: "overloaded"}).Error())
	assert.Equal(t, "remote service returned status 500", (&StatusError{Status: 500}).Error())
	assert.Equal(t, "invalid output: goal must not be empty",
		(&ValidationError{Field: "goal", Message: "must not be empty"}).Error())
	assert.Equal(t, "attempt timed out after 2s: complete",
		(&TimeoutError{Op: "complete", After: 2 * time.Second}).Error())

	inner := errors.New("boom")
	cat := &CategorizedError{Err: inner, Category: CategoryTransient, Attempts: 3, Op: "retries exhausted"}
	assert.Equal(t, "retries exhausted: boom [transient, 3 attempts]", cat.Error())
	assert.ErrorIs(t, cat, inner)
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	out := Do(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{Status: 503}
		}
		return "ok", nil
	})

	require.NoError(t, out.Err)
	assert.Equal(t, "ok", out.Value)
	assert.Equal(t, 3, out.Attempts)
	assert.False(t, out.Exhausted)
}

func TestDo_Exhausted(t *testing.T) {
	var failed []int
	cfg := fastRetry(3)
	cfg.OnAttemptFailed = func(attempt int, _ error) { failed = append(failed, attempt) }

	out := Do(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, &StatusError{Status: 429}
	})

	assert.True(t, out.Exhausted)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []int{1, 2, 3}, failed)

	var cat *CategorizedError
	require.ErrorAs(t, out.Err, &cat)
	assert.Equal(t, CategoryTransient, cat.Category)
	assert.Equal(t, 3, cat.Attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	out := Do(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, &StatusError{Status: 401}
	})

	assert.Equal(t, 1, calls)
	assert.False(t, out.Exhausted)
	assert.Equal(t, CategoryPermanent, Categorize(out.Err))
}

func TestDo_AttemptTimeout(t *testing.T) {
	cfg := fastRetry(2)
	cfg.AttemptTimeout = 10 * time.Millisecond

	calls := 0
	out := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})

	assert.Equal(t, 2, calls, "a timed-out attempt consumes one attempt")
	var timeout *TimeoutError
	require.ErrorAs(t, out.Err, &timeout)
	assert.Equal(t, 10*time.Millisecond, timeout.After)
	assert.True(t, out.Exhausted)
}

func TestDo_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	out := Do(ctx, fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, nil
	})

	assert.Zero(t, calls)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, CategoryPermanent, Categorize(out.Err))
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry(3)
	cfg.InitialBackoff = time.Hour
	cfg.OnAttemptFailed = func(int, error) { cancel() }

	out := Do(ctx, cfg, func(context.Context) (int, error) {
		return 0, &StatusError{Status: 503}
	})

	assert.Equal(t, 1, out.Attempts)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.False(t, out.Exhausted)
}

func TestDo_CustomRetryable(t *testing.T) {
	cfg := fastRetry(3)
	cfg.RetryableFunc = func(err error) bool { return Categorize(err) != CategoryPermanent }

	calls := 0
	out := Do(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, &OutputError{Reason: "bad"}
	})

	assert.Equal(t, 3, calls)
	assert.True(t, out.Exhausted)
	assert.Equal(t, CategoryMalformed, Categorize(out.Err))
}

func TestJittered(t *testing.T) {
	assert.Equal(t, time.Second, jittered(time.Second, 0))
	for i := 0; i < 50; i++ {
		got := jittered(time.Second, 0.2)
		require.GreaterOrEqual(t, got, 800*time.Millisecond)
		require.LessOrEqual(t, got, 1200*time.Millisecond)
	}
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, 3, DefaultRetry.MaxAttempts)
	assert.Equal(t, 2*time.Second, DefaultRetry.InitialBackoff)
	assert.Equal(t, 8*time.Second, DefaultRetry.MaxBackoff)
	assert.Equal(t, 5*time.Minute, DefaultRetry.AttemptTimeout)
	assert.Equal(t, 3, PersistRetry.MaxAttempts)
}
