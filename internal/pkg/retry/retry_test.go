package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func testPolicy(slept *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return p
}

func TestDoRetriesTimeoutsWithFixedBackoff(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := Do(context.Background(), testPolicy(&slept), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("send tx: %w", context.DeadlineExceeded)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(slept) != 2 || slept[0] != 2*time.Second || slept[1] != 2*time.Second {
		t.Fatalf("expected two fixed 2s sleeps, got %v", slept)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := Do(context.Background(), testPolicy(&slept), func(context.Context, int) error {
		calls++
		return timeoutErr{}
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
	if len(slept) != 4 {
		t.Fatalf("expected 4 sleeps, got %d", len(slept))
	}
	var te timeoutErr
	if !errors.As(err, &te) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
}

func TestDoAbortsOnNonTimeout(t *testing.T) {
	var slept []time.Duration
	calls := 0
	boom := errors.New("execution reverted")
	err := Do(context.Background(), testPolicy(&slept), func(context.Context, int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped revert error, got %v", err)
	}
	if calls != 1 || len(slept) != 0 {
		t.Fatalf("expected a single call and no sleep, got calls=%d sleeps=%d", calls, len(slept))
	}
}

func TestIsTimeout(t *testing.T) {
	if IsTimeout(nil) || IsTimeout(errors.New("nope")) {
		t.Fatalf("expected non-timeouts to be rejected")
	}
	if !IsTimeout(timeoutErr{}) || !IsTimeout(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) {
		t.Fatalf("expected timeouts to be detected")
	}
}
