package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesTransientBatchWrite(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("copy raw_usage: conn closed"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls int
	sentinel := NewTransientError(errors.New("always busy"))
	err := Do(context.Background(), fastRetry(4), func(_ context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected last error to be returned, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		return errors.New("column \"mrr_raw\" does not exist")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second}

	var calls int
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(_ context.Context) error {
			calls++
			return NewTransientError(errors.New("locked"))
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancel, got %d", calls)
	}
}

func TestDo_CustomShouldRetryAndOnRetry(t *testing.T) {
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "again" }

	var attempts []int
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("again")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected OnRetry attempts %v", attempts)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	rows, err := DoVal(context.Background(), fastRetry(3), func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(errors.New("database is locked"))
		}
		return 500, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != 500 {
		t.Errorf("expected 500, got %d", rows)
	}
}

func TestDoVal_ZeroOnFailure(t *testing.T) {
	v, err := DoVal(context.Background(), fastRetry(2), func(_ context.Context) (string, error) {
		return "partial", errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if v != "" {
		t.Errorf("expected zero value, got %q", v)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(RetryConfig{JitterFraction: -1})
	if cfg.MaxAttempts != 3 || cfg.InitialBackoff != 500*time.Millisecond ||
		cfg.MaxBackoff != 10*time.Second || cfg.Multiplier != 2.0 || cfg.JitterFraction != 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestComputeBackoff_Exponential(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for attempt, w := range want {
		if got := computeBackoff(attempt, cfg); got != w {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}
}

func TestComputeBackoff_JitterBounds(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2, JitterFraction: 0.5}
	for range 200 {
		d := computeBackoff(0, cfg)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("backoff %v outside jitter bounds", d)
		}
	}
}

func TestRetryLogger(t *testing.T) {
	zap.ReplaceGlobals(zap.NewNop())
	fn := RetryLogger("write_batch", zap.Int("batch", 3))
	fn(1, errors.New("boom"))
}
