package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
)

// Event type names.
const (
	TypeSessionStarted = "SessionStarted"
	TypeStateChanged   = "StateChanged"
	TypeInitChanged    = "InitChanged"
	TypeSessionClosed  = "SessionClosed"
)

// SessionStarted is emitted once per process when the journal opens.
type SessionStarted struct {
	BaseEvent
	Channel string `json:"channel"`
	Version string `json:"version"`
}

// NewSessionStarted creates a SessionStarted event.
func NewSessionStarted(sessionID, channel, version string) (*SessionStarted, error) {
	payload, err := json.Marshal(map[string]any{
		"channel": channel,
		"version": version,
	})
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal SessionStarted payload").
			WithCause(err).
			WithContext("session_id", sessionID).
			Build()
	}

	return &SessionStarted{
		BaseEvent: BaseEvent{
			EventSessionID: sessionID,
			EventType:      TypeSessionStarted,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Channel: channel,
		Version: version,
	}, nil
}

// StateChanged records an AppState change, or a failure reported in State.
type StateChanged struct {
	BaseEvent
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// NewStateChanged creates a StateChanged event.
func NewStateChanged(sessionID, state string, cause error) (*StateChanged, error) {
	return newTransition[StateChanged](sessionID, TypeStateChanged, state, cause, func(base BaseEvent, msg string) *StateChanged {
		return &StateChanged{BaseEvent: base, State: state, Error: msg}
	})
}

// InitChanged records a step of the first-run sequence.
type InitChanged struct {
	BaseEvent
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// NewInitChanged creates an InitChanged event.
func NewInitChanged(sessionID, state string, cause error) (*InitChanged, error) {
	return newTransition[InitChanged](sessionID, TypeInitChanged, state, cause, func(base BaseEvent, msg string) *InitChanged {
		return &InitChanged{BaseEvent: base, State: state, Error: msg}
	})
}

func newTransition[E any](sessionID, eventType, state string, cause error, build func(BaseEvent, string) *E) (*E, error) {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	payload, err := json.Marshal(map[string]any{
		"state": state,
		"error": msg,
	})
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal " + eventType + " payload").
			WithCause(err).
			WithContext("session_id", sessionID).
			Build()
	}
	return build(BaseEvent{
		EventSessionID: sessionID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}, msg), nil
}
