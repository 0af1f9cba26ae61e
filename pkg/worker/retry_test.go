package worker

import (
	"testing"
	"time"
)

func TestRetryPolicyDelayGrowth(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second}, // capped
		{10, 5 * time.Second},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Fatalf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestRetryPolicyZeroValue(t *testing.T) {
	var p RetryPolicy
	if got := p.Delay(3); got != 0 {
		t.Fatalf("zero policy should not delay, got %v", got)
	}
}

func TestRetryPolicyDefaultMultiplier(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond}
	if got := p.Delay(2); got != 200*time.Millisecond {
		t.Fatalf("expected the default multiplier of 2, got %v", got)
	}
}
