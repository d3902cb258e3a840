// Package bridge mirrors bootstrap state changes onto NATS so UIs running in
// another process can follow them.
//
// Every change is published on <prefix>.<channel>.state or
// <prefix>.<channel>.init. When a key-value bucket is configured the latest
// message of each kind is also stored under <channel>.state / <channel>.init.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/bootstrapd/internal/config"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
)

const (
	KindState = "state"
	KindInit  = "init"

	kvTimeout      = 2 * time.Second
	connectTimeout = 10 * time.Second
)

// Message is the JSON body of every published change.
type Message struct {
	Kind      string    `json:"kind"`
	Channel   string    `json:"channel"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// SnapshotStore is the subset of jetstream.KeyValue the bridge needs.
type SnapshotStore interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// Bridge publishes state and Init changes. It implements the state
// machine's observer contract; publish failures are logged, never returned.
type Bridge struct {
	pub     Publisher
	kv      SnapshotStore
	prefix  string
	channel string
	conn    *nats.Conn
	now     func() time.Time
}

// New builds a bridge over an existing publisher. kv may be nil.
func New(pub Publisher, kv SnapshotStore, prefix, channel string) *Bridge {
	if prefix == "" {
		prefix = config.DefaultSubjectPrefix
	}
	return &Bridge{pub: pub, kv: kv, prefix: prefix, channel: channel, now: time.Now}
}

// Connect dials the configured server and, when a bucket is named, opens or
// creates it.
func Connect(cfg config.NATSConfig, channel string) (*Bridge, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("bootstrapd"), nats.Timeout(connectTimeout))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", cfg.URL).
			Build()
	}

	var kv SnapshotStore
	if cfg.KVBucket != "" {
		kv, err = openBucket(conn, cfg.KVBucket)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	b := New(conn, kv, cfg.SubjectPrefix, channel)
	b.conn = conn
	slog.Info("NATS bridge connected",
		logfields.URL(cfg.URL),
		slog.String("subject", b.Subject(KindState)),
		slog.String("kv_bucket", cfg.KVBucket))
	return b, nil
}

func openBucket(conn *nats.Conn, bucket string) (jetstream.KeyValue, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to create JetStream context").Build()
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Latest bootstrap state per channel",
		History:     1,
	})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to create KV bucket").
			WithContext("bucket", bucket).
			Build()
	}
	slog.Info("Created KV bucket for bootstrap state", slog.String("bucket", bucket))
	return kv, nil
}

// Subject returns the subject changes of kind are published on.
func (b *Bridge) Subject(kind string) string {
	return b.prefix + "." + token(b.channel) + "." + kind
}

func (b *Bridge) StateChanged(state string, err error) { b.publish(KindState, state, err) }
func (b *Bridge) InitChanged(state string, err error)  { b.publish(KindInit, state, err) }

func (b *Bridge) publish(kind, state string, cause error) {
	msg := Message{Kind: kind, Channel: b.channel, State: state, Timestamp: b.now()}
	if cause != nil {
		msg.Error = cause.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to encode bridge message", logfields.Error(err))
		return
	}

	if err := b.pub.Publish(b.Subject(kind), data); err != nil {
		slog.Warn("Failed to publish bootstrap change", slog.String("subject", b.Subject(kind)), logfields.Error(err))
	}
	if b.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	defer cancel()
	if _, err := b.kv.Put(ctx, token(b.channel)+"."+kind, data); err != nil {
		slog.Warn("Failed to store bootstrap snapshot", slog.String("kind", kind), logfields.Error(err))
	}
}

// Close flushes and closes a connection opened by Connect.
func (b *Bridge) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Drain()
	if err != nil {
		b.conn.Close()
	}
	return err
}

// token makes channel usable as a single subject token.
func token(channel string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(channel)
}
