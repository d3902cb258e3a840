// Package eventstore journals bootstrap sessions in SQLite and projects them
// into a per-session history.
package eventstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// SessionSummary is a read model of one bootstrap session.
type SessionSummary struct {
	SessionID   string    `json:"session_id"`
	Channel     string    `json:"channel,omitempty"`
	Version     string    `json:"version,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	LastEventAt time.Time `json:"last_event_at"`
	State       string    `json:"state,omitempty"`
	InitState   string    `json:"init_state,omitempty"`
	Transitions int       `json:"transitions"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	Closed      bool      `json:"closed"`
}

// SessionHistoryProjection maintains an in-memory view of session history,
// reconstructed from events stored in the event store.
type SessionHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	sessions map[string]*SessionSummary
	maxSize  int
	lastSync time.Time
}

// NewSessionHistoryProjection creates a new projection backed by the given store.
func NewSessionHistoryProjection(store Store, maxHistorySize int) *SessionHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &SessionHistoryProjection{
		store:    store,
		sessions: make(map[string]*SessionSummary),
		maxSize:  maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
func (p *SessionHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions = make(map[string]*SessionSummary)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	p.pruneLocked()
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
func (p *SessionHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
	p.pruneLocked()
}

func (p *SessionHistoryProjection) applyEventLocked(event Event) {
	id := event.SessionID()
	if id == "" {
		return
	}

	summary, exists := p.sessions[id]
	if !exists {
		summary = &SessionSummary{SessionID: id, StartedAt: event.Timestamp()}
		p.sessions[id] = summary
	}
	summary.LastEventAt = event.Timestamp()

	var payload struct {
		Channel string `json:"channel"`
		Version string `json:"version"`
		State   string `json:"state"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(event.Payload(), &payload)

	switch event.Type() {
	case TypeSessionStarted:
		summary.StartedAt = event.Timestamp()
		summary.Channel = payload.Channel
		summary.Version = payload.Version

	case TypeStateChanged:
		if payload.Error != "" {
			summary.Failures++
			summary.LastError = payload.Error
		}
		if payload.State != summary.State {
			summary.Transitions++
		}
		summary.State = payload.State

	case TypeInitChanged:
		summary.InitState = payload.State
		if payload.Error != "" {
			summary.Failures++
			summary.LastError = payload.Error
		}

	case TypeSessionClosed:
		summary.Closed = true
	}
}

// pruneLocked keeps the maxSize most recent sessions.
func (p *SessionHistoryProjection) pruneLocked() {
	if len(p.sessions) <= p.maxSize {
		return
	}
	for _, s := range p.sortedLocked()[p.maxSize:] {
		delete(p.sessions, s.SessionID)
	}
}

func (p *SessionHistoryProjection) sortedLocked() []*SessionSummary {
	out := make([]*SessionSummary, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// GetHistory returns session summaries, newest first.
func (p *SessionHistoryProjection) GetHistory() []SessionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sorted := p.sortedLocked()
	result := make([]SessionSummary, len(sorted))
	for i, s := range sorted {
		result[i] = *s
	}
	return result
}

// GetSession returns the summary of one session.
func (p *SessionHistoryProjection) GetSession(sessionID string) (SessionSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, exists := p.sessions[sessionID]
	if !exists {
		return SessionSummary{}, false
	}
	return *summary, true
}

// LastSyncTime returns when the projection was last synchronized.
func (p *SessionHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
