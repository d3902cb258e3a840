package config

import "time"

// Typed accessors for validated duration strings. An unparsable value falls
// back to the default; Validate rejects those before they reach callers.

func (p PollConfig) WarmupDelayDuration() time.Duration {
	return parseOr(p.WarmupDelay, DefaultWarmupDelay)
}

func (p PollConfig) DelayDuration() time.Duration {
	return parseOr(p.Delay, DefaultPollDelay)
}

func (p PollConfig) HealthTimeoutDuration() time.Duration {
	return parseOr(p.HealthTimeout, DefaultHealthTimeout)
}

// Duration returns the renewal interval.
func (h HeartbeatConfig) Duration() time.Duration {
	return parseOr(h.Interval, DefaultHeartbeatInterval)
}

// Window returns the server-side lease window.
func (h HeartbeatConfig) Window() time.Duration {
	return parseOr(h.LeaseWindow, DefaultLeaseWindow)
}

func parseOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
