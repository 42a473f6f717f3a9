package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_PrimaryThenFallback(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("primary", "primary", CircuitBreakerConfig{MaxFailures: 3})
	fg.Add("secondary", "secondary")

	var calls []string
	got, err := Do(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		calls = append(calls, v)
		if v == "primary" {
			return "", errTest
		}
		return "served by " + v, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "served by secondary" {
		t.Errorf("result = %q", got)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, want primary then secondary", calls)
	}
}

func TestDo_AllFail(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", 1, CircuitBreakerConfig{MaxFailures: 3})
	fg.Add("b", 2)

	_, err := Do(context.Background(), fg, func(context.Context, int) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want wrapped last error", err)
	}
}

func TestDo_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("primary", "primary", CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	fg.Add("secondary", "secondary")

	call := func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	}
	if _, err := Do(context.Background(), fg, call); err != nil {
		t.Fatalf("first Do: %v", err)
	}
	if fg.Breakers()[0].State() != StateOpen {
		t.Fatal("primary breaker should be open")
	}

	primaryCalled := false
	_, err := Do(context.Background(), fg, func(ctx context.Context, v string) (string, error) {
		if v == "primary" {
			primaryCalled = true
		}
		return call(ctx, v)
	})
	if err != nil {
		t.Fatalf("second Do: %v", err)
	}
	if primaryCalled {
		t.Error("primary called while its breaker is open")
	}
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", 1, CircuitBreakerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Do(ctx, fg, func(context.Context, int) (int, error) { called = true; return 1, nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
