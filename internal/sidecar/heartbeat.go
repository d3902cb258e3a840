package sidecar

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// heartbeat runs the lease renewal on a fixed interval.
type heartbeat struct {
	scheduler gocron.Scheduler
}

func startHeartbeat(interval time.Duration, clock clockwork.Clock, renew func()) (*heartbeat, error) {
	s, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(renew),
		gocron.WithName("lease-renewal"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create lease renewal job: %w", err)
	}
	s.Start()
	return &heartbeat{scheduler: s}, nil
}

// stop cancels future runs and waits for a running renewal to finish.
func (h *heartbeat) stop() error {
	return h.scheduler.Shutdown()
}
