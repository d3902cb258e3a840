// Package sidecar supervises the local backend process. The spawn strategy
// starts (or attaches to) the sidecar, polls its status record until the
// health endpoint answers, and keeps a lifetime lease alive while connected.
// The pass-through strategy talks to an externally managed server instead.
package sidecar

import (
	"context"
	"log/slog"
	"path/filepath"

	"git.home.luguber.info/inful/bootstrapd/internal/config"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/metrics"
	"git.home.luguber.info/inful/bootstrapd/internal/retry"
)

// Status is the connection milestone. Within one attempt it only moves
// forward: UNKNOWN, INITIALIZING, OPEN.
type Status string

const (
	StatusUnknown      Status = "UNKNOWN"
	StatusInitializing Status = "INITIALIZING"
	StatusOpen         Status = "OPEN"
)

// Rank orders statuses along a connection attempt.
func (s Status) Rank() int {
	switch s {
	case StatusInitializing:
		return 1
	case StatusOpen:
		return 2
	default:
		return 0
	}
}

// ConnectionInfo identifies a healthy sidecar.
type ConnectionInfo struct {
	PID   int    `json:"pid"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

var (
	// ErrSidecarUnauthorized means the sidecar rejected the token from its
	// own status record; only a fresh spawn recovers.
	ErrSidecarUnauthorized = ferrors.AuthError("sidecar rejected credentials").Build()
	// ErrSidecarTimeout means the poll ran out of attempts.
	ErrSidecarTimeout = ferrors.SidecarError("sidecar did not become ready").Build()
	// ErrSidecarStartup means the sidecar published the error variant of its status record.
	ErrSidecarStartup = ferrors.SidecarError("sidecar failed to start").Fatal().Build()
	// ErrNotConnected is returned by calls that need an OPEN connection.
	ErrNotConnected = ferrors.StateError("sidecar not connected").Build()
	// ErrConnectionClosed means CloseConnection ran while a connection attempt
	// was still in flight.
	ErrConnectionClosed = ferrors.StateError("sidecar connection closed during start").Build()
)

// Supervisor owns the connection to the sidecar.
type Supervisor interface {
	Status() Status
	// Subscribe delivers subsequent status changes.
	Subscribe() (<-chan Status, func())
	// Watch is Subscribe plus the status current at subscription time.
	Watch() (Status, <-chan Status, func())
	// Connection returns the info of an OPEN connection.
	Connection() (ConnectionInfo, bool)
	// StartConnection connects and returns once OPEN. Concurrent callers
	// share one attempt.
	StartConnection(ctx context.Context) (ConnectionInfo, error)
	// CloseConnection releases the lease. The sidecar keeps running.
	CloseConnection(ctx context.Context) error
	// InitializeRemoteServer asks the sidecar to create its storage at
	// path. It returns false, nil when the storage already exists.
	InitializeRemoteServer(ctx context.Context, path string) (bool, error)
}

// Deps are the collaborators New wires in; zero values select defaults.
type Deps struct {
	Spawner  Spawner
	Recorder metrics.Recorder
}

// DefaultBinary is where the sidecar executable lives inside the installed
// server payload.
const DefaultBinary = "bin/server"

// New selects the strategy once from configuration: pass-through when an
// external URL is configured, spawn otherwise.
func New(cfg *config.Config, deps Deps) Supervisor {
	if cfg.Sidecar.ExternalURL != "" {
		slog.Info("Using external sidecar", logfields.URL(cfg.Sidecar.ExternalURL))
		return NewPassthrough(cfg.Sidecar.ExternalURL, cfg.Sidecar.ExternalToken)
	}

	poll := cfg.Sidecar.Poll

	binary := cfg.Sidecar.Binary
	if binary == "" {
		binary = filepath.Join(cfg.ChannelDir(), "resources", "server", DefaultBinary)
	}
	return NewSpawn(SpawnOptions{
		Channel:           cfg.Channel,
		DataDir:           cfg.DataDir,
		Debug:             cfg.Debug,
		Command:           []string{binary},
		Policy:            retry.ReadinessPolicy(poll.Attempts, poll.Warmup(), poll.WarmupDelayDuration(), poll.DelayDuration()),
		HealthTimeout:     poll.HealthTimeoutDuration(),
		HeartbeatInterval: cfg.Sidecar.Heartbeat.Duration(),
		LeaseWindow:       cfg.Sidecar.Heartbeat.Window(),
		WatchStatusRecord: cfg.Sidecar.ShouldWatchStatusRecord(),
		Spawner:           deps.Spawner,
		Recorder:          deps.Recorder,
	})
}
