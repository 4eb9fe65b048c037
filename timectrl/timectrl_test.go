package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeControllerSetTimeIsMonotonic(t *testing.T) {
	tc := NewTimeController(10, time.Second, RealTime)

	if !tc.SetTime(42) {
		t.Fatalf("SetTime(42) rejected")
	}
	if got := tc.Now(); got != 42 {
		t.Fatalf("Now() = %d, want 42", got)
	}
	if tc.SetTime(7) {
		t.Fatalf("SetTime(7) should be rejected after 42")
	}
	if got := tc.Now(); got != 42 {
		t.Fatalf("Now() = %d after rejected SetTime, want 42", got)
	}
}

func TestTimeControllerRunNotifiesListenersInOrder(t *testing.T) {
	tc := NewTimeController(0, 0, Accelerated)

	var seen []int64
	tc.AddListener(func(_ context.Context, tick int64) { seen = append(seen, tick) })
	tc.AddListener(func(_ context.Context, tick int64) { seen = append(seen, -tick) })

	if err := tc.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int64{1, -1, 2, -2, 3, -3}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
	if tc.Now() != 3 {
		t.Fatalf("Now() = %d, want 3", tc.Now())
	}
}

func TestTimeControllerRealTimePacing(t *testing.T) {
	tc := NewTimeController(0, 5*time.Millisecond, RealTime)

	start := time.Now()
	done := tc.StartAsync(context.Background(), 3)
	if err := <-done; err != nil {
		t.Fatalf("StartAsync: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("3 paced ticks finished in %v, want >= 15ms", elapsed)
	}
	if tc.Now() != 3 {
		t.Fatalf("Now() = %d, want 3", tc.Now())
	}
}

func TestTimeControllerRunStopsOnCancel(t *testing.T) {
	tc := NewTimeController(0, time.Hour, RealTime)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tc.Run(ctx, 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if tc.Now() != 0 {
		t.Fatalf("clock advanced after cancellation: %d", tc.Now())
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(5)
	if c.Step(3) != 8 {
		t.Fatalf("Step(3) = %d, want 8", c.Now())
	}
	c.Set(2)
	if c.Now() != 8 {
		t.Fatalf("Set(2) moved the clock backwards to %d", c.Now())
	}
	c.Set(20)
	if c.Now() != 20 {
		t.Fatalf("Now() = %d, want 20", c.Now())
	}
}
