package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/bootstrapd/internal/resources"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecar"
	"git.home.luguber.info/inful/bootstrapd/internal/state"
)

func initStates(events []InitEvent) []InitState {
	out := make([]InitState, len(events))
	for i, ev := range events {
		out[i] = ev.State
	}
	return out
}

func TestInitSequence(t *testing.T) {
	f := newFixture(t)
	f.res.needsUpdate = true
	require.NoError(t, f.m.Start(context.Background()))
	events, cancel := f.m.SubscribeInit()
	defer cancel()

	dbPath := f.dir + "/db/main.db"
	got, err := f.m.Init(context.Background(), InitConfig{Password: ptr("hunter2"), Fastboot: true, DBPath: dbPath})
	require.NoError(t, err)
	assert.Equal(t, InitStateInitializing, got)

	assert.Equal(t, []InitState{
		InitStateInitializing,
		InitStateInitializingAppData,
		InitStateInitializingResource,
		InitStateInitializingServer,
		InitStateInitializingServerDatabase,
		InitStateFinish,
	}, initStates(initUntilDone(t, events)))
	assert.Equal(t, AppStateLoaded, f.m.State())
	assert.Equal(t, InitStateFinish, f.m.InitState())
	assert.Equal(t, 1, f.res.updates)
	assert.Equal(t, []string{dbPath}, f.sup.initPaths)

	reread := state.NewAppDataStore(f.appData.Path())
	data, err := reread.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reread.TargetVersion(), data.Version)
	assert.True(t, data.LoginOption.Fastboot)
	require.NotNil(t, data.LoginOption.Password)
	assert.NotEqual(t, "hunter2", *data.LoginOption.Password)
	assert.True(t, state.CheckPassword(data.LoginOption.Password, "hunter2"))
	assert.Equal(t, []state.Database{{Name: DefaultDatabaseName, Path: dbPath}}, data.Databases)

	conf, err := state.NewConfigurationStore(f.dir + "/" + state.ConfigurationFile).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dbPath, conf.DBPath)
}

func TestInitUsesDefaultDBPath(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	events, cancel := f.m.SubscribeInit()
	defer cancel()

	_, err := f.m.Init(context.Background(), InitConfig{})
	require.NoError(t, err)
	initUntilDone(t, events)
	assert.Equal(t, []string{f.m.opts.DefaultDBPath}, f.sup.initPaths)

	data, ok := f.appData.Get()
	require.True(t, ok)
	assert.False(t, data.HasPassword())
}

func TestInitAlreadyInitializedDatabaseIsFine(t *testing.T) {
	f := newFixture(t)
	f.sup.initCreated = false
	require.NoError(t, f.m.Start(context.Background()))
	events, cancel := f.m.SubscribeInit()
	defer cancel()

	_, err := f.m.Init(context.Background(), InitConfig{})
	require.NoError(t, err)
	seen := initUntilDone(t, events)
	assert.Equal(t, InitStateFinish, seen[len(seen)-1].State)
	assert.Equal(t, AppStateLoaded, f.m.State())
}

func TestInitErrorLeavesOuterStateAndAllowsRetry(t *testing.T) {
	f := newFixture(t)
	f.res.needsUpdate = true
	f.res.updateErr = resources.ErrResourceUpdate
	require.NoError(t, f.m.Start(context.Background()))
	events, cancel := f.m.SubscribeInit()
	defer cancel()

	_, err := f.m.Init(context.Background(), InitConfig{})
	require.NoError(t, err)
	seen := initUntilDone(t, events)
	last := seen[len(seen)-1]
	assert.Equal(t, InitStateError, last.State)
	assert.ErrorIs(t, last.Err, resources.ErrResourceUpdate)
	assert.Equal(t, []InitState{
		InitStateInitializing,
		InitStateInitializingAppData,
		InitStateInitializingResource,
		InitStateError,
	}, initStates(seen))
	assert.Equal(t, AppStateNotInit, f.m.State())
	assert.Zero(t, f.sup.startCount())

	f.res.mu.Lock()
	f.res.updateErr = nil
	f.res.mu.Unlock()
	_, err = f.m.Init(context.Background(), InitConfig{})
	require.NoError(t, err)
	seen = initUntilDone(t, events)
	assert.Equal(t, InitStateFinish, seen[len(seen)-1].State)
	assert.Equal(t, AppStateLoaded, f.m.State())
}

func TestInitServerFailure(t *testing.T) {
	f := newFixture(t)
	f.sup.startErr = sidecar.ErrSidecarStartup
	require.NoError(t, f.m.Start(context.Background()))
	events, cancel := f.m.SubscribeInit()
	defer cancel()

	_, err := f.m.Init(context.Background(), InitConfig{})
	require.NoError(t, err)
	seen := initUntilDone(t, events)
	last := seen[len(seen)-1]
	assert.Equal(t, InitStateError, last.State)
	assert.ErrorIs(t, last.Err, sidecar.ErrSidecarStartup)
	assert.Equal(t, AppStateNotInit, f.m.State())
}

func TestInitOutOfState(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil, false, false)
	require.NoError(t, f.m.Start(context.Background()))
	require.Equal(t, AppStateLoaded, f.m.State())

	_, err := f.m.Init(context.Background(), InitConfig{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestInitWhileRunningIsRejected(t *testing.T) {
	f := newFixture(t)
	f.sup.release = make(chan struct{})
	require.NoError(t, f.m.Start(context.Background()))

	_, err := f.m.Init(context.Background(), InitConfig{})
	require.NoError(t, err)
	current, err := f.m.Init(context.Background(), InitConfig{})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, current.Running())
	close(f.sup.release)
}
