package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_Success(t *testing.T) {
	calls := 0
	p := Policy{MaxRetries: 3, Backoff: Constant(time.Millisecond)}

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Do() returned error = %v, want nil", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("Do() made %d attempts (%d calls), want 1", attempts, calls)
	}
}

func TestDo_PermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	p := Policy{
		MaxRetries: 3,
		Backoff:    Constant(time.Millisecond),
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
	}

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Errorf("Do() returned error = %v, want %v", err, permanent)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("permanent error should not be wrapped in ExhaustedError")
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestDo_RetryThenSucceed(t *testing.T) {
	temp := errors.New("temporary")
	p := Policy{MaxRetries: 5, Backoff: Constant(time.Millisecond)}

	var seen []int
	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return temp
		}
		return nil
	})

	if err != nil {
		t.Errorf("Do() returned error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("attempt numbers = %v, want [1 2 3]", seen)
	}
}

func TestDo_Exhausted(t *testing.T) {
	temp := errors.New("temporary")
	p := Policy{MaxRetries: 2}

	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return temp
	})

	if calls != 3 || attempts != 3 {
		t.Errorf("calls = %d, attempts = %d, want 3", calls, attempts)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(err, temp) {
		t.Errorf("error should wrap the last failure")
	}
}

func TestDo_ZeroRetries(t *testing.T) {
	calls := 0
	_, err := Policy{}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, Backoff: Constant(time.Hour)}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := p.Do(ctx, func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("temporary")
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	attempts, err := Policy{MaxRetries: 3}.Do(ctx, func(ctx context.Context, attempt int) error {
		called = true
		return nil
	})
	if called {
		t.Error("fn should not run on a canceled context")
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"generic", errors.New("x"), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryable(tt.err); got != tt.want {
				t.Errorf("DefaultRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExponential(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second, 2.0, 0)

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := b(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestExponential_JitterBounds(t *testing.T) {
	b := Exponential(time.Second, 10*time.Second, 2.0, 0.2)

	for i := 0; i < 200; i++ {
		got := b(1)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("Backoff(1) = %v, want within 20%% of 1s", got)
		}
	}
}
