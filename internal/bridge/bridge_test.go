package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject, data})
	return f.err
}

type fakeKV struct {
	values map[string][]byte
	err    error
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.values[key] = value
	return uint64(len(f.values)), nil
}

func TestBridgePublishesChanges(t *testing.T) {
	pub := &fakePublisher{}
	kv := &fakeKV{values: map[string][]byte{}}
	b := New(pub, kv, "", "beta.1")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return at }

	b.StateChanged("LOADING_SERVER", nil)
	b.InitChanged("ERROR", errors.New("disk full"))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "bootstrapd.beta_1.state", pub.msgs[0].subject)
	assert.Equal(t, "bootstrapd.beta_1.init", pub.msgs[1].subject)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.msgs[1].data, &msg))
	assert.Equal(t, Message{Kind: KindInit, Channel: "beta.1", State: "ERROR", Error: "disk full", Timestamp: at}, msg)

	assert.JSONEq(t, string(pub.msgs[0].data), string(kv.values["beta_1.state"]))
	assert.JSONEq(t, string(pub.msgs[1].data), string(kv.values["beta_1.init"]))
}

func TestBridgeSurvivesPublishFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	kv := &fakeKV{values: map[string][]byte{}, err: errors.New("nats: timeout")}
	b := New(pub, kv, "ui", "stable")

	assert.NotPanics(t, func() { b.StateChanged("LOADED", nil) })
	assert.Len(t, pub.msgs, 1)
	assert.Equal(t, "ui.stable.state", b.Subject(KindState))
	assert.NoError(t, b.Close(), "bridge without own connection closes trivially")
}

func TestBridgeWithoutSnapshotStore(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub, nil, "ui", "stable")
	b.InitChanged("FINISH", nil)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "ui.stable.init", pub.msgs[0].subject)
}
