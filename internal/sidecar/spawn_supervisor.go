package sidecar

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/metrics"
	"git.home.luguber.info/inful/bootstrapd/internal/pubsub"
	"git.home.luguber.info/inful/bootstrapd/internal/retry"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarapi"
)

// renewTimeout bounds a single lease renewal request.
const renewTimeout = 10 * time.Second

// SpawnOptions configures the spawn strategy.
type SpawnOptions struct {
	Channel string
	DataDir string
	Debug   bool
	// Command is the sidecar executable followed by any leading arguments;
	// the channel flags are appended.
	Command           []string
	Policy            retry.Policy
	HealthTimeout     time.Duration
	HeartbeatInterval time.Duration
	LeaseWindow       time.Duration
	WatchStatusRecord bool
	Clock             clockwork.Clock
	Spawner           Spawner
	HTTPClient        *http.Client
	Recorder          metrics.Recorder
}

// Spawn supervises a locally spawned sidecar.
type Spawn struct {
	opts       SpawnOptions
	recordPath string
	logPath    string
	rec        metrics.Recorder
	status     *pubsub.Value[Status]
	flight     singleflight.Group

	// Replaced in tests.
	readRecord func(string) (sidecarapi.StatusRecord, error)
	pidAlive   func(int) bool

	mu      sync.Mutex
	conn    *ConnectionInfo
	leaseID string
	beat    *heartbeat
	// closes counts CloseConnection calls; an attempt started before a close
	// must not publish its connection.
	closes uint64
}

func NewSpawn(opts SpawnOptions) *Spawn {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Spawner == nil {
		opts.Spawner = ProcessSpawner{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Spawn{
		opts:       opts,
		recordPath: sidecarapi.StatusRecordPath(opts.DataDir, opts.Channel),
		logPath:    filepath.Join(opts.DataDir, opts.Channel, "logs", "sidecar.log"),
		rec:        metrics.OrNoop(opts.Recorder),
		status:     pubsub.NewValue(StatusUnknown),
		readRecord: sidecarapi.ReadStatusRecord,
		pidAlive:   pidAlive,
	}
}

func (s *Spawn) Status() Status                         { return s.status.Get() }
func (s *Spawn) Subscribe() (<-chan Status, func())     { return s.status.Subscribe() }
func (s *Spawn) Watch() (Status, <-chan Status, func()) { return s.status.Watch() }

func (s *Spawn) Connection() (ConnectionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ConnectionInfo{}, false
	}
	return *s.conn, true
}

func (s *Spawn) setStatus(st Status) {
	if prev := s.status.Set(st); prev != st {
		slog.Debug("Sidecar status changed", logfields.Channel(s.opts.Channel), logfields.Status(string(st)))
		s.rec.SetSupervisorStatus(string(st))
	}
}

func (s *Spawn) StartConnection(ctx context.Context) (ConnectionInfo, error) {
	if info, ok := s.Connection(); ok && s.status.Get() == StatusOpen {
		return info, nil
	}
	ch := s.flight.DoChan("start", func() (any, error) {
		return s.start(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return ConnectionInfo{}, res.Err
		}
		return res.Val.(ConnectionInfo), nil
	case <-ctx.Done():
		return ConnectionInfo{}, ctx.Err()
	}
}

func (s *Spawn) start(ctx context.Context) (ConnectionInfo, error) {
	if info, ok := s.Connection(); ok {
		return info, nil
	}
	s.mu.Lock()
	gen := s.closes
	s.mu.Unlock()

	s.setStatus(StatusInitializing)
	info, err := s.connect(ctx, gen)
	if err != nil {
		s.setStatus(StatusUnknown)
		slog.Error("Sidecar connection failed", logfields.Channel(s.opts.Channel), logfields.Error(err))
		return ConnectionInfo{}, err
	}
	s.setStatus(StatusOpen)
	slog.Info("Sidecar connected", logfields.PID(info.PID), logfields.URL(info.URL))
	return info, nil
}

func (s *Spawn) connect(ctx context.Context, gen uint64) (ConnectionInfo, error) {
	if err := s.ensureRunning(ctx); err != nil {
		return ConnectionInfo{}, err
	}
	info, err := s.poll(ctx)
	if err != nil {
		return ConnectionInfo{}, err
	}

	c := newClient(info, s.opts.HTTPClient)
	id, err := c.createLease(ctx, s.opts.HeartbeatInterval)
	if err != nil {
		return ConnectionInfo{}, err
	}
	beat, err := startHeartbeat(s.opts.HeartbeatInterval, s.opts.Clock, func() { s.renew(c, id) })
	if err != nil {
		_ = c.deleteLease(ctx, id)
		return ConnectionInfo{}, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to schedule lease renewal").Build()
	}
	slog.Debug("Lease registered",
		logfields.LeaseID(id),
		slog.Duration("interval", s.opts.HeartbeatInterval),
		slog.Duration("window", s.opts.LeaseWindow))

	s.mu.Lock()
	if s.closes != gen {
		s.mu.Unlock()
		if stopErr := beat.stop(); stopErr != nil {
			slog.Warn("Lease renewal did not stop cleanly", logfields.Error(stopErr))
		}
		if delErr := c.deleteLease(context.WithoutCancel(ctx), id); delErr != nil {
			slog.Warn("Lease deletion failed", logfields.LeaseID(id), logfields.Error(delErr))
		}
		return ConnectionInfo{}, ErrConnectionClosed
	}
	s.conn = &info
	s.leaseID = id
	s.beat = beat
	s.mu.Unlock()
	return info, nil
}

// ensureRunning spawns the sidecar unless a live one already published a record.
func (s *Spawn) ensureRunning(ctx context.Context) error {
	rec, err := s.readRecord(s.recordPath)
	if err == nil && !rec.Failed() && s.pidAlive(rec.PID) {
		slog.Debug("Attaching to running sidecar", logfields.PID(rec.PID))
		return nil
	}
	if rmErr := os.Remove(s.recordPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return ferrors.WrapError(rmErr, ferrors.CategoryFileSystem, "failed to remove stale status record").
			WithContext("path", s.recordPath).
			Build()
	}

	command := append(append([]string{}, s.opts.Command...), sidecarapi.Args(s.opts.Channel, s.opts.DataDir, s.opts.Debug)...)
	pid, err := s.opts.Spawner.Spawn(ctx, command, s.logPath)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategorySidecar, "failed to spawn sidecar").
			Fatal().
			WithContext("command", command[0]).
			Build()
	}
	slog.Info("Spawned sidecar", logfields.PID(pid), logfields.Path(s.logPath))
	return nil
}

// poll reads the status record and probes health until the sidecar answers,
// an unrecoverable answer arrives, or attempts run out.
func (s *Spawn) poll(ctx context.Context) (ConnectionInfo, error) {
	var watcher *recordWatcher
	if s.opts.WatchStatusRecord {
		watcher = watchRecord(s.recordPath)
		defer watcher.Close()
	}
	started := s.opts.Clock.Now()
	policy := s.opts.Policy

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := s.wait(ctx, policy.Delay(attempt), watcher.C()); err != nil {
			s.rec.ObserveReadinessPoll(attempt, s.opts.Clock.Since(started), metrics.ResultCanceled)
			return ConnectionInfo{}, err
		}

		rec, err := s.readRecord(s.recordPath)
		if err != nil {
			slog.Debug("Status record not readable", logfields.Attempt(attempt), logfields.Error(err))
			continue
		}
		if rec.Failed() {
			s.rec.ObserveReadinessPoll(attempt, s.opts.Clock.Since(started), metrics.ResultFatal)
			return ConnectionInfo{}, ErrSidecarStartup.WithContext("errors", rec.Errors)
		}
		if !rec.Ready() {
			continue
		}

		info := ConnectionInfo{PID: rec.PID, URL: rec.URL(), Token: rec.Token}
		err = newClient(info, s.opts.HTTPClient).health(ctx, s.opts.HealthTimeout)
		if err == nil {
			s.rec.ObserveReadinessPoll(attempt, s.opts.Clock.Since(started), metrics.ResultSuccess)
			return info, nil
		}
		if errors.Is(err, ErrSidecarUnauthorized) {
			s.rec.ObserveReadinessPoll(attempt, s.opts.Clock.Since(started), metrics.ResultFatal)
			return ConnectionInfo{}, err
		}
		slog.Debug("Sidecar not healthy yet", logfields.Attempt(attempt), logfields.Error(err))
	}

	s.rec.ObserveReadinessPoll(policy.Attempts, s.opts.Clock.Since(started), metrics.ResultFailed)
	return ConnectionInfo{}, ErrSidecarTimeout.WithContext("attempts", policy.Attempts)
}

// wait sleeps for d, returning early when the record changes.
func (s *Spawn) wait(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	timer := s.opts.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
	case <-wake:
	}
	return nil
}

func (s *Spawn) renew(c *client, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), renewTimeout)
	defer cancel()
	if err := c.renewLease(ctx, id); err != nil {
		s.rec.IncHeartbeat(metrics.ResultFailed)
		slog.Warn("Lease renewal failed", logfields.LeaseID(id), logfields.Error(err))
		return
	}
	s.rec.IncHeartbeat(metrics.ResultSuccess)
	slog.Debug("Lease renewed", logfields.LeaseID(id))
}

func (s *Spawn) CloseConnection(ctx context.Context) error {
	s.mu.Lock()
	conn, id, beat := s.conn, s.leaseID, s.beat
	s.conn, s.leaseID, s.beat = nil, "", nil
	s.closes++
	s.mu.Unlock()

	var err error
	if beat != nil {
		if stopErr := beat.stop(); stopErr != nil {
			slog.Warn("Lease renewal did not stop cleanly", logfields.Error(stopErr))
		}
	}
	if conn != nil && id != "" {
		err = newClient(*conn, s.opts.HTTPClient).deleteLease(ctx, id)
		if err != nil {
			slog.Warn("Lease deletion failed", logfields.LeaseID(id), logfields.Error(err))
		}
	}
	s.setStatus(StatusUnknown)
	return err
}

func (s *Spawn) InitializeRemoteServer(ctx context.Context, path string) (bool, error) {
	info, ok := s.Connection()
	if !ok {
		return false, ErrNotConnected
	}
	created, err := newClient(info, s.opts.HTTPClient).initialize(ctx, path)
	if err == nil && !created {
		slog.Info("Sidecar storage already initialized", logfields.Path(path))
	}
	return created, err
}
