package bootstrap

import (
	"context"
	"log/slog"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/metrics"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecar"
	"git.home.luguber.info/inful/bootstrapd/internal/state"
)

// Init starts the first-run sequence and returns INITIALIZING at once.
// Progress is observed through SubscribeInit. It is valid only from
// NOT_INIT with no sequence already running; a sequence that ended in
// ERROR may be retried.
func (m *Machine) Init(ctx context.Context, cfg InitConfig) (InitState, error) {
	if err := ctx.Err(); err != nil {
		return InitStateIdle, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = m.opts.DefaultDBPath
	}
	if cfg.DBPath == "" {
		return InitStateIdle, ferrors.ValidationError("database path is required").Build()
	}
	if cfg.DatabaseName == "" {
		cfg.DatabaseName = DefaultDatabaseName
	}

	m.mu.Lock()
	if m.appState != AppStateNotInit || m.initState.Running() {
		current := m.initState
		m.mu.Unlock()
		return current, m.invalid("init")
	}
	m.setInitLocked(InitStateInitializing, nil)
	m.mu.Unlock()

	m.tasks.Go("init", false, func(ctx context.Context) error {
		err := m.runInit(ctx, cfg)
		if err != nil {
			slog.Error("Init failed", logfields.Error(err))
			m.setInit(InitStateError, err)
			m.rec.IncInitResult(metrics.ResultFor(err))
			return err
		}
		m.setInit(InitStateFinish, nil)
		m.transition(AppStateNotInit, AppStateLoaded, nil)
		m.rec.IncInitResult(metrics.ResultSuccess)
		return nil
	})
	return InitStateInitializing, nil
}

func (m *Machine) runInit(ctx context.Context, cfg InitConfig) error {
	m.setInit(InitStateInitializingAppData, nil)
	if err := m.initDocuments(cfg); err != nil {
		return err
	}

	m.setInit(InitStateInitializingResource, nil)
	if err := m.opts.Resources.Load(ctx); err != nil {
		return err
	}
	if m.opts.Resources.NeedsUpdate() {
		if err := m.opts.Resources.Update(ctx); err != nil {
			return err
		}
	}

	m.setInit(InitStateInitializingServer, nil)
	start := m.startServer(false)
	if err := m.awaitStatus(ctx, sidecar.StatusInitializing, start); err != nil {
		return err
	}

	m.setInit(InitStateInitializingServerDatabase, nil)
	if err := m.awaitStatus(ctx, sidecar.StatusOpen, start); err != nil {
		return err
	}
	created, err := m.opts.Supervisor.InitializeRemoteServer(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	if !created {
		slog.Info("Database already present, reusing it", logfields.Path(cfg.DBPath))
	}
	return nil
}

// initDocuments writes AppData and Configuration for the chosen options.
func (m *Machine) initDocuments(cfg InitConfig) error {
	data := state.AppData{
		LoginOption: state.LoginOption{TouchID: cfg.TouchID, Fastboot: cfg.Fastboot},
		Databases:   []state.Database{{Name: cfg.DatabaseName, Path: cfg.DBPath}},
		WebOption:   state.WebOption{Host: "127.0.0.1", Port: state.DefaultWebPort},
	}
	if cfg.Password != nil {
		hash, err := state.HashPassword(*cfg.Password)
		if err != nil {
			return err
		}
		data.LoginOption.Password = &hash
	}
	if err := m.opts.AppData.Create(data); err != nil {
		return err
	}
	return m.opts.Configuration.Create(state.Configuration{DBPath: cfg.DBPath})
}

func (m *Machine) setInit(to InitState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setInitLocked(to, err)
}

func (m *Machine) setInitLocked(to InitState, err error) {
	m.initState = to
	slog.Info("Init state changed", logfields.InitState(string(to)))
	m.initEvents.Publish(InitEvent{State: to, Err: err})
}
