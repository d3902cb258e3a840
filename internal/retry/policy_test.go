package retry

import (
	"testing"
	"time"
)

// TestReadinessSchedule verifies the sidecar schedule: 250ms twice, then 1s.
func TestReadinessSchedule(t *testing.T) {
	p := ReadinessPolicy(30, 2, 250*time.Millisecond, time.Second)
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	for i := 1; i <= 2; i++ {
		if d := p.Delay(i); d != 250*time.Millisecond {
			t.Fatalf("attempt %d expected 250ms got %v", i, d)
		}
	}
	for i := 3; i <= 30; i++ {
		if d := p.Delay(i); d != time.Second {
			t.Fatalf("attempt %d expected 1s got %v", i, d)
		}
	}
	if b := p.Budget(); b != 28500*time.Millisecond {
		t.Fatalf("expected 28.5s budget got %v", b)
	}
}

// TestDelayModes ensures linear and exponential growth respect the cap.
func TestDelayModes(t *testing.T) {
	linear := Policy{Mode: ModeLinear, Initial: 100 * time.Millisecond, Max: 250 * time.Millisecond, Attempts: 5}
	cases := []struct {
		attempt int
		want    time.Duration
	}{{1, 100 * time.Millisecond}, {2, 200 * time.Millisecond}, {3, 250 * time.Millisecond}}
	for _, c := range cases {
		if got := linear.Delay(c.attempt); got != c.want {
			t.Fatalf("linear attempt %d expected %v got %v", c.attempt, c.want, got)
		}
	}

	exp := Policy{Mode: ModeExponential, Initial: 50 * time.Millisecond, Max: 160 * time.Millisecond, Attempts: 5}
	expCases := []struct {
		attempt int
		want    time.Duration
	}{{1, 50 * time.Millisecond}, {2, 100 * time.Millisecond}, {3, 160 * time.Millisecond}, {60, 160 * time.Millisecond}}
	for _, c := range expCases {
		if got := exp.Delay(c.attempt); got != c.want {
			t.Fatalf("exp attempt %d expected %v got %v", c.attempt, c.want, got)
		}
	}
}

func TestDelayEdgeCases(t *testing.T) {
	p := DefaultPolicy()
	if d := p.Delay(0); d != 0 {
		t.Fatalf("attempt 0 expected 0 got %v", d)
	}
	if d := p.Delay(-1); d != 0 {
		t.Fatalf("attempt -1 expected 0 got %v", d)
	}
}

func TestValidate(t *testing.T) {
	bad := []Policy{
		{Mode: ModeFixed, Initial: 0, Max: time.Second, Attempts: 1},
		{Mode: ModeFixed, Initial: time.Second, Max: time.Millisecond, Attempts: 1},
		{Mode: ModeFixed, Initial: time.Second, Max: time.Second, Attempts: 0},
		{Mode: ModeFixed, Initial: time.Second, Max: time.Second, Attempts: 2, WarmupAttempts: 1},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Fatalf("policy %d expected validation error", i)
		}
	}
}
