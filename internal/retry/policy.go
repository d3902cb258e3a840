package retry

import (
	"fmt"
	"time"
)

// Mode enumerates supported backoff strategies.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLinear      Mode = "linear"
	ModeExponential Mode = "exponential"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode     Mode          // fixed|linear|exponential
	Initial  time.Duration // base delay
	Max      time.Duration // cap for growth
	Attempts int           // total attempts, including the first
	// The first WarmupAttempts attempts wait WarmupDelay instead, so a
	// process that comes up quickly is noticed quickly.
	WarmupAttempts int
	WarmupDelay    time.Duration
}

// DefaultPolicy returns a sensible default policy (linear, 1s initial, 30s cap, 3 attempts).
func DefaultPolicy() Policy {
	return Policy{Mode: ModeLinear, Initial: time.Second, Max: 30 * time.Second, Attempts: 3}
}

// ReadinessPolicy is the sidecar readiness schedule: warmup attempts spaced
// warmup apart, then a fixed delay for the rest.
func ReadinessPolicy(attempts, warmupAttempts int, warmup, delay time.Duration) Policy {
	return Policy{
		Mode:           ModeFixed,
		Initial:        delay,
		Max:            delay,
		Attempts:       attempts,
		WarmupAttempts: warmupAttempts,
		WarmupDelay:    warmup,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt <= p.WarmupAttempts {
		return p.WarmupDelay
	}
	n := attempt - p.WarmupAttempts
	switch p.Mode {
	case ModeFixed:
		return p.Initial
	case ModeExponential:
		d := p.Initial << (n - 1)
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(n) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Budget returns the sum of all waits across Attempts.
func (p Policy) Budget() time.Duration {
	var total time.Duration
	for i := 1; i <= p.Attempts; i++ {
		total += p.Delay(i)
	}
	return total
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max < p.Initial {
		return fmt.Errorf("max must be >= initial")
	}
	if p.Attempts < 1 {
		return fmt.Errorf("attempts must be >=1")
	}
	if p.WarmupAttempts > 0 && p.WarmupDelay <= 0 {
		return fmt.Errorf("warmup delay must be >0 when warmup attempts are set")
	}
	return nil
}
