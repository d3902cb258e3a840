package sidecar

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/bootstrapd/internal/config"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/retry"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarapi"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarstub"
)

var readinessPolicy = retry.ReadinessPolicy(30, 2, 250*time.Millisecond, time.Second)

type fakeSpawner struct {
	mu      sync.Mutex
	spawns  int
	command []string
	onSpawn func()
}

func (f *fakeSpawner) Spawn(_ context.Context, command []string, _ string) (int, error) {
	f.mu.Lock()
	f.spawns++
	f.command = command
	hook := f.onSpawn
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return 4242, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns
}

// stubSidecar serves the sidecar contract and returns the record pointing at it.
func stubSidecar(t *testing.T, token string) (*sidecarstub.Server, sidecarapi.StatusRecord) {
	t.Helper()
	srv := sidecarstub.New(sidecarstub.Options{Token: token})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	_, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return srv, sidecarapi.StatusRecord{PID: os.Getpid(), Port: port, Token: token}
}

type harness struct {
	sup     *Spawn
	spawner *fakeSpawner
	clock   *clockwork.FakeClock
	reads   atomic.Int32
}

func newHarness(t *testing.T, clock clockwork.Clock) *harness {
	t.Helper()
	h := &harness{spawner: &fakeSpawner{}}
	if fc, ok := clock.(*clockwork.FakeClock); ok {
		h.clock = fc
	}
	h.sup = NewSpawn(SpawnOptions{
		Channel:           "test",
		DataDir:           t.TempDir(),
		Command:           []string{"/opt/sidecar"},
		Policy:            readinessPolicy,
		HealthTimeout:     time.Second,
		HeartbeatInterval: 40 * time.Second,
		LeaseWindow:       120 * time.Second,
		Clock:             clock,
		Spawner:           h.spawner,
	})
	read := h.sup.readRecord
	h.sup.readRecord = func(p string) (sidecarapi.StatusRecord, error) {
		h.reads.Add(1)
		return read(p)
	}
	t.Cleanup(func() { _ = h.sup.CloseConnection(context.Background()) })
	return h
}

type startResult struct {
	info ConnectionInfo
	err  error
}

// drive runs StartConnection, advancing the fake clock by the policy delay
// each time the poll waits, and returns the result and the waits observed.
func (h *harness) drive(t *testing.T) (startResult, []time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan startResult, 1)
	go func() {
		info, err := h.sup.StartConnection(ctx)
		done <- startResult{info, err}
	}()

	var waits []time.Duration
	for {
		blockCtx, cancelBlock := context.WithTimeout(ctx, 5*time.Second)
		blocked := make(chan error, 1)
		go func() { blocked <- h.clock.BlockUntilContext(blockCtx, 1) }()
		select {
		case res := <-done:
			cancelBlock()
			return res, waits
		case err := <-blocked:
			cancelBlock()
			if err != nil {
				// Only the heartbeat scheduler may hold the clock now; the
				// result must be on its way.
				res := <-done
				return res, waits
			}
			d := readinessPolicy.Delay(len(waits) + 1)
			waits = append(waits, d)
			h.clock.Advance(d)
		}
	}
}

func TestStartConnectionAfterUnreadableRecords(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock())
	stub, rec := stubSidecar(t, "tok")

	// The pre-spawn check and the first five attempts find nothing.
	base := h.sup.readRecord
	var calls atomic.Int32
	h.sup.readRecord = func(p string) (sidecarapi.StatusRecord, error) {
		if calls.Add(1) <= 6 {
			_, _ = base(p)
			return sidecarapi.StatusRecord{}, os.ErrNotExist
		}
		return rec, nil
	}

	res, waits := h.drive(t)
	require.NoError(t, res.err)
	assert.Equal(t, ConnectionInfo{PID: os.Getpid(), URL: rec.URL(), Token: "tok"}, res.info)
	assert.Equal(t, int32(7), calls.Load())
	assert.GreaterOrEqual(t, len(waits), 6)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, time.Second, time.Second, time.Second, time.Second}, waits[:6])
	assert.Equal(t, 1, h.spawner.count())
	assert.Equal(t, []string{"/opt/sidecar", "--channel", "test", "--data-dir", h.sup.opts.DataDir}, h.spawner.command)
	assert.Equal(t, StatusOpen, h.sup.Status())
	assert.Equal(t, 1, stub.Stats().Creates)

	again, err := h.sup.StartConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.info, again)
	assert.Equal(t, 1, h.spawner.count())
}

func TestStartConnectionTimesOutAfterAllAttempts(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock())
	statuses, cancel := h.sup.Subscribe()
	defer cancel()

	res, waits := h.drive(t)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, ErrSidecarTimeout)
	assert.Len(t, waits, 30)
	// One pre-spawn check plus exactly 30 attempts.
	assert.Equal(t, int32(31), h.reads.Load())
	assert.Equal(t, StatusUnknown, h.sup.Status())
	assert.Equal(t, StatusInitializing, <-statuses)
	assert.Equal(t, StatusUnknown, <-statuses)

	var total time.Duration
	for _, w := range waits {
		total += w
	}
	assert.Equal(t, 28500*time.Millisecond, total)
}

func TestStartConnectionUnauthorizedIsFatal(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock())
	_, rec := stubSidecar(t, "server-token")
	rec.Token = "stale-token"
	require.NoError(t, sidecarapi.WriteStatusRecord(h.sup.recordPath, rec))

	res, waits := h.drive(t)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, ErrSidecarUnauthorized)
	assert.True(t, ferrors.HasCategory(res.err, ferrors.CategoryAuth))
	assert.Len(t, waits, 1)
	assert.Zero(t, h.spawner.count(), "live record is attached to, not respawned")
	assert.Equal(t, StatusUnknown, h.sup.Status())
}

func TestStartConnectionErrorRecordIsFatal(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock())
	require.NoError(t, sidecarapi.WriteStatusRecord(h.sup.recordPath, sidecarapi.StatusRecord{Errors: []string{"old failure"}}))
	h.spawner.onSpawn = func() {
		_ = sidecarapi.WriteStatusRecord(h.sup.recordPath, sidecarapi.StatusRecord{Errors: []string{"port in use"}})
	}

	res, _ := h.drive(t)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, ErrSidecarStartup)
	c, ok := ferrors.AsClassified(res.err)
	require.True(t, ok)
	msgs, _ := c.Context().Get("errors")
	assert.Equal(t, []string{"port in use"}, msgs)
	assert.Equal(t, 1, h.spawner.count())
}

func TestStaleRecordIsRemovedBeforeSpawn(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock())
	_, rec := stubSidecar(t, "tok")
	require.NoError(t, sidecarapi.WriteStatusRecord(h.sup.recordPath, sidecarapi.StatusRecord{PID: 999999, Port: 1, Token: "old"}))
	h.sup.pidAlive = func(pid int) bool { return pid != 999999 }
	h.spawner.onSpawn = func() {
		assert.NoFileExists(t, h.sup.recordPath)
		_ = sidecarapi.WriteStatusRecord(h.sup.recordPath, rec)
	}

	res, _ := h.drive(t)
	require.NoError(t, res.err)
	assert.Equal(t, 1, h.spawner.count())
	assert.Equal(t, rec.URL(), res.info.URL)
}

func TestStatusRecordWriteCutsWaitShort(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock())
	h.sup.opts.WatchStatusRecord = true
	_, rec := stubSidecar(t, "tok")
	require.NoError(t, os.MkdirAll(filepath.Dir(h.sup.recordPath), 0o755))
	h.spawner.onSpawn = func() {
		go func() {
			// Give the poll time to install its watch.
			time.Sleep(100 * time.Millisecond)
			_ = sidecarapi.WriteStatusRecord(h.sup.recordPath, rec)
		}()
	}

	// The fake clock never advances, so only the watcher can end the wait.
	info, err := h.sup.StartConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec.URL(), info.URL)
}

func TestHeartbeatRenewsUntilClosed(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock())
	h.sup.opts.Policy = retry.ReadinessPolicy(30, 2, 5*time.Millisecond, 10*time.Millisecond)
	h.sup.opts.HeartbeatInterval = 40 * time.Millisecond
	stub, rec := stubSidecar(t, "tok")
	require.NoError(t, sidecarapi.WriteStatusRecord(h.sup.recordPath, rec))

	ctx := context.Background()
	_, err := h.sup.StartConnection(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stub.Stats().Renewals >= 2 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, h.sup.CloseConnection(ctx))
	after := stub.Stats()
	assert.Equal(t, 1, after.Deletes)
	assert.Zero(t, after.ActiveLeases)
	assert.Equal(t, StatusUnknown, h.sup.Status())
	_, connected := h.sup.Connection()
	assert.False(t, connected)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, after.Renewals, stub.Stats().Renewals, "no renewal after close")

	require.NoError(t, h.sup.CloseConnection(ctx))
	assert.Equal(t, 1, stub.Stats().Deletes, "second close is a no-op")
}

func TestConcurrentStartConnectionShareOneAttempt(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock())
	h.sup.opts.Policy = retry.ReadinessPolicy(30, 2, 20*time.Millisecond, 20*time.Millisecond)
	stub, rec := stubSidecar(t, "tok")
	h.spawner.onSpawn = func() { _ = sidecarapi.WriteStatusRecord(h.sup.recordPath, rec) }

	var wg sync.WaitGroup
	results := make([]ConnectionInfo, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.sup.StartConnection(context.Background())
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 1, h.spawner.count())
	assert.Equal(t, 1, stub.Stats().Creates)
	require.NoError(t, h.sup.CloseConnection(context.Background()))
}

func TestInitializeRemoteServer(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock())
	h.sup.opts.Policy = retry.ReadinessPolicy(5, 1, time.Millisecond, time.Millisecond)
	stub, rec := stubSidecar(t, "tok")
	require.NoError(t, sidecarapi.WriteStatusRecord(h.sup.recordPath, rec))
	ctx := context.Background()

	_, err := h.sup.InitializeRemoteServer(ctx, "/db")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = h.sup.StartConnection(ctx)
	require.NoError(t, err)
	defer func() { _ = h.sup.CloseConnection(ctx) }()

	created, err := h.sup.InitializeRemoteServer(ctx, "/db")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = h.sup.InitializeRemoteServer(ctx, "/db")
	require.NoError(t, err, "already initialized is a rejection, not an error")
	assert.False(t, created)
	assert.Equal(t, "/db", stub.Stats().DBPath)
}

func TestPassthrough(t *testing.T) {
	_, rec := stubSidecar(t, "tok")
	p := NewPassthrough(rec.URL(), "tok")
	assert.Equal(t, StatusOpen, p.Status())

	info, err := p.StartConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectionInfo{URL: rec.URL(), Token: "tok"}, info)

	created, err := p.InitializeRemoteServer(context.Background(), "/db")
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, p.CloseConnection(context.Background()))
	assert.Equal(t, StatusOpen, p.Status())

	bad := NewPassthrough(rec.URL(), "wrong")
	_, err = bad.InitializeRemoteServer(context.Background(), "/db")
	require.Error(t, err)
}

func TestNewSelectsStrategy(t *testing.T) {
	cfg := &config.Config{Channel: "stable", DataDir: "/data"}
	cfg.Sidecar.ExternalURL = "http://127.0.0.1:9000"
	assert.IsType(t, &Passthrough{}, New(cfg, Deps{}))

	cfg.Sidecar.ExternalURL = ""
	sup, ok := New(cfg, Deps{}).(*Spawn)
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join("/data", "stable", "resources", "server", "bin", "server")}, sup.opts.Command)
	assert.Equal(t, filepath.Join("/data", "stable", sidecarapi.StatusRecordFile), sup.recordPath)
	assert.Equal(t, filepath.Join("/data", "stable", "logs", "sidecar.log"), sup.logPath)
}

func TestStatusRank(t *testing.T) {
	assert.Less(t, StatusUnknown.Rank(), StatusInitializing.Rank())
	assert.Less(t, StatusInitializing.Rank(), StatusOpen.Rank())
	assert.True(t, errors.Is(ErrSidecarUnauthorized.WithContext("status", 401), ErrSidecarUnauthorized))
}

func TestCloseDuringStartReleasesLease(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock())
	h.sup.opts.Policy = retry.ReadinessPolicy(200, 1, 10*time.Millisecond, 10*time.Millisecond)
	stub, rec := stubSidecar(t, "tok")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.sup.StartConnection(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.spawner.count() == 1 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, h.sup.CloseConnection(ctx))
	assert.Equal(t, StatusUnknown, h.sup.Status())
	require.NoError(t, sidecarapi.WriteStatusRecord(h.sup.recordPath, rec))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not finish")
	}
	stats := stub.Stats()
	assert.Equal(t, 1, stats.Creates)
	assert.Equal(t, 1, stats.Deletes)
	assert.Zero(t, stats.ActiveLeases)
	assert.Equal(t, StatusUnknown, h.sup.Status())
	_, connected := h.sup.Connection()
	assert.False(t, connected)

	info, err := h.sup.StartConnection(ctx)
	require.NoError(t, err, "a later start connects normally")
	assert.Equal(t, rec.URL(), info.URL)
}
