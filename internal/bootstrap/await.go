package bootstrap

import (
	"context"

	"git.home.luguber.info/inful/bootstrapd/internal/sidecar"
)

// awaitStatus blocks until the supervisor reaches target. It returns at once
// when target was already passed, and fails when start finishes with an
// error first or ctx ends. start may be nil when no start task is in flight.
func (m *Machine) awaitStatus(ctx context.Context, target sidecar.Status, start *task) error {
	current, changes, cancel := m.opts.Supervisor.Watch()
	defer cancel()
	if current.Rank() >= target.Rank() {
		return nil
	}

	for {
		select {
		case st, ok := <-changes:
			if !ok {
				return ErrServerStopped.WithContext("target", string(target))
			}
			if st.Rank() >= target.Rank() {
				return nil
			}
		case <-start.Done():
			if err := start.Err(); err != nil {
				return err
			}
			if m.opts.Supervisor.Status().Rank() >= target.Rank() {
				return nil
			}
			return ErrServerStopped.WithContext("target", string(target))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
