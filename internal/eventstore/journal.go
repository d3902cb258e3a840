package eventstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
)

// appendTimeout bounds a single journal write.
const appendTimeout = 5 * time.Second

// Journal records the transitions of one bootstrap session. Its
// StateChanged and InitChanged methods match the state machine's observer
// contract. Write failures are logged and never reach the caller.
type Journal struct {
	store   Store
	session string
}

// OpenJournal starts a new session in store.
func OpenJournal(ctx context.Context, store Store, channel, version string) (*Journal, error) {
	j := &Journal{store: store, session: uuid.NewString()}
	ev, err := NewSessionStarted(j.session, channel, version)
	if err != nil {
		return nil, err
	}
	if err := j.append(ctx, ev.EventType, ev.EventPayload); err != nil {
		return nil, err
	}
	slog.Debug("Journal session started", slog.String("session_id", j.session), logfields.Channel(channel))
	return j, nil
}

// Session returns the session id.
func (j *Journal) Session() string { return j.session }

func (j *Journal) StateChanged(state string, cause error) {
	ev, err := NewStateChanged(j.session, state, cause)
	if err == nil {
		err = j.appendDetached(ev.EventType, ev.EventPayload)
	}
	if err != nil {
		slog.Warn("Failed to journal state change", logfields.AppState(state), logfields.Error(err))
	}
}

func (j *Journal) InitChanged(state string, cause error) {
	ev, err := NewInitChanged(j.session, state, cause)
	if err == nil {
		err = j.appendDetached(ev.EventType, ev.EventPayload)
	}
	if err != nil {
		slog.Warn("Failed to journal init change", logfields.InitState(state), logfields.Error(err))
	}
}

// Close records the end of the session. The store stays open.
func (j *Journal) Close(ctx context.Context) error {
	return j.append(ctx, TypeSessionClosed, nil)
}

func (j *Journal) appendDetached(eventType string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	return j.append(ctx, eventType, payload)
}

func (j *Journal) append(ctx context.Context, eventType string, payload []byte) error {
	return j.store.Append(ctx, j.session, eventType, payload, nil)
}
