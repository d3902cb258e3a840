package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/bootstrapd/internal/biometric"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/metrics"
	"git.home.luguber.info/inful/bootstrapd/internal/pubsub"
	"git.home.luguber.info/inful/bootstrapd/internal/resources"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecar"
	"git.home.luguber.info/inful/bootstrapd/internal/state"
)

// Options wires the machine's collaborators.
type Options struct {
	AppData       *state.AppDataStore
	Configuration *state.ConfigurationStore
	Resources     resources.Synchronizer
	Supervisor    sidecar.Supervisor
	Biometric     biometric.Prompter
	Recorder      metrics.Recorder
	// DefaultDBPath is used by Init when InitConfig.DBPath is empty.
	DefaultDBPath string
	// Debug makes a failed detached task abort the process through Fatal.
	Debug bool
	// Fatal defaults to logging and exiting with status 1.
	Fatal func(task string, err error)
}

// Machine is the bootstrap state machine.
type Machine struct {
	opts Options
	rec  metrics.Recorder

	mu         sync.Mutex
	appState   AppState
	initState  InitState
	serverTask *task

	loading atomic.Bool

	stateEvents *pubsub.Broker[StateEvent]
	initEvents  *pubsub.Broker[InitEvent]
	tasks       *taskGroup
}

// New returns a machine in LOADING; Start settles the real state.
func New(opts Options) (*Machine, error) {
	if opts.AppData == nil || opts.Configuration == nil || opts.Resources == nil || opts.Supervisor == nil {
		return nil, ferrors.ValidationError("bootstrap machine requires appdata, configuration, resources and supervisor").Build()
	}
	if opts.Biometric == nil {
		opts.Biometric = biometric.Unsupported{}
	}
	if opts.Fatal == nil {
		opts.Fatal = func(task string, err error) {
			slog.Error("Uncaught task failure in debug mode, aborting", logfields.Task(task), logfields.Error(err))
			os.Exit(1)
		}
	}
	m := &Machine{
		opts:        opts,
		rec:         metrics.OrNoop(opts.Recorder),
		appState:    AppStateLoading,
		stateEvents: pubsub.NewBroker[StateEvent](0),
		initEvents:  pubsub.NewBroker[InitEvent](0),
	}
	m.tasks = newTaskGroup(m.taskFailed)
	return m, nil
}

// State returns the current AppState.
func (m *Machine) State() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appState
}

// InitState returns the current nested Init state.
func (m *Machine) InitState() InitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initState
}

// SubscribeState delivers subsequent state events until cancel is called.
func (m *Machine) SubscribeState() (<-chan StateEvent, func()) {
	return m.stateEvents.Subscribe()
}

// SubscribeInit delivers subsequent Init events until cancel is called.
func (m *Machine) SubscribeInit() (<-chan InitEvent, func()) {
	return m.initEvents.Subscribe()
}

func (m *Machine) setState(to AppState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(to, err)
}

func (m *Machine) setStateLocked(to AppState, err error) {
	from := m.appState
	if from == to && err == nil {
		return
	}
	m.appState = to
	if from != to {
		slog.Info("App state changed", logfields.AppState(string(to)), slog.String("from", string(from)))
		m.rec.IncStateTransition(string(to))
	}
	m.stateEvents.Publish(StateEvent{State: to, Err: err})
}

// transition moves from -> to and reports whether the machine was in from.
func (m *Machine) transition(from, to AppState, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appState != from {
		return false
	}
	m.setStateLocked(to, err)
	return true
}

// fail reports err in the current state and returns it.
func (m *Machine) fail(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slog.Error("Bootstrap step failed", logfields.AppState(string(m.appState)), logfields.Error(err))
	m.stateEvents.Publish(StateEvent{State: m.appState, Err: err})
	return err
}

func (m *Machine) invalid(op string) error {
	return ErrInvalidState.WithContext("operation", op).WithContext("state", string(m.State()))
}

func (m *Machine) taskFailed(t *task, err error) {
	slog.Error("Background task failed", logfields.Task(t.name), logfields.TaskID(t.id), logfields.Error(err))
	_ = m.fail(err)
	if m.opts.Debug {
		m.opts.Fatal(t.name, err)
	}
}

// Start opens the AppData store. A missing document means first run and
// leaves the machine in NOT_INIT; otherwise it proceeds with Load.
func (m *Machine) Start(ctx context.Context) error {
	if !m.opts.AppData.Exists() {
		m.setState(AppStateNotInit, nil)
		return nil
	}
	if _, err := m.opts.AppData.Load(ctx); err != nil {
		return m.fail(err)
	}
	if m.opts.Configuration.Exists() {
		if _, err := m.opts.Configuration.Load(ctx); err != nil {
			return m.fail(err)
		}
	}
	return m.Load(ctx)
}

// Load brings a configured application to NOT_LOGIN or LOADED. It needs
// loaded AppData; a failure is reported through SubscribeState and leaves
// the state where the failing step stopped until Load is run again.
func (m *Machine) Load(ctx context.Context) error {
	data, ok := m.opts.AppData.Get()
	if !ok {
		return ErrNotLoaded
	}
	if !m.loading.CompareAndSwap(false, true) {
		return m.invalid("load")
	}
	defer m.loading.Store(false)

	m.setState(AppStateLoading, nil)
	if err := m.opts.Resources.Load(ctx); err != nil {
		return m.fail(err)
	}
	if m.opts.Resources.NeedsUpdate() {
		m.setState(AppStateLoadingResource, nil)
		if err := m.opts.Resources.Update(ctx); err != nil {
			return m.fail(err)
		}
	}

	if data.HasPassword() {
		m.setState(AppStateNotLogin, nil)
		if data.LoginOption.Fastboot {
			slog.Info("Fastboot: starting sidecar ahead of login")
			m.startServer(true)
		}
		return nil
	}

	start := m.startServer(false)
	m.setState(AppStateLoadingServer, nil)
	if err := m.awaitStatus(ctx, sidecar.StatusOpen, start); err != nil {
		return m.fail(err)
	}
	m.setState(AppStateLoaded, nil)
	return nil
}

// startServer returns the in-flight start task, or the completed one while
// its connection is still open. Otherwise it starts a new one.
func (m *Machine) startServer(detached bool) *task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.serverTask; t != nil && !t.failed() && (!t.finished() || m.opts.Supervisor.Status() == sidecar.StatusOpen) {
		return t
	}
	m.serverTask = m.tasks.Go("server-start", detached, func(ctx context.Context) error {
		_, err := m.opts.Supervisor.StartConnection(ctx)
		return err
	})
	return m.serverTask
}

// Login checks password against the stored hash. A nil stored password
// accepts anything. A mismatch is a plain rejection with no state change.
func (m *Machine) Login(ctx context.Context, password string) LoginResult {
	current := m.State()
	if current != AppStateNotLogin {
		return LoginResult{State: current, Err: m.invalid("login")}
	}
	data, ok := m.opts.AppData.Get()
	if !ok {
		return LoginResult{State: current, Err: ErrNotLoaded}
	}
	if !state.CheckPassword(data.LoginOption.Password, password) {
		slog.Info("Login rejected")
		return LoginResult{State: current}
	}
	return m.unlock(ctx)
}

// LoginByTouchID unlocks through the platform biometric prompt. An
// unavailable, failed or canceled prompt is a rejection with no state change.
func (m *Machine) LoginByTouchID(ctx context.Context) LoginResult {
	current := m.State()
	if current != AppStateNotLogin {
		return LoginResult{State: current, Err: m.invalid("login_touch_id")}
	}
	data, ok := m.opts.AppData.Get()
	if !ok {
		return LoginResult{State: current, Err: ErrNotLoaded}
	}
	if !data.LoginOption.TouchID || !m.opts.Biometric.Available() {
		return LoginResult{State: current, Err: biometric.ErrUnavailable}
	}
	if err := m.opts.Biometric.Prompt(ctx, "unlock"); err != nil {
		slog.Info("Biometric login rejected", logfields.Error(err))
		return LoginResult{State: current, Err: err}
	}
	return m.unlock(ctx)
}

// unlock moves NOT_LOGIN -> LOADING_SERVER and finishes asynchronously.
// The result is provisional; LOADED (or a failure returning to NOT_LOGIN)
// is delivered through SubscribeState.
func (m *Machine) unlock(context.Context) LoginResult {
	if !m.transition(AppStateNotLogin, AppStateLoadingServer, nil) {
		return LoginResult{State: m.State(), Err: m.invalid("login")}
	}

	var start *task
	if m.opts.Supervisor.Status() != sidecar.StatusOpen {
		start = m.startServer(false)
	}
	m.tasks.Go("login-open", true, func(ctx context.Context) error {
		if err := m.awaitStatus(ctx, sidecar.StatusOpen, start); err != nil {
			if ctx.Err() != nil {
				return err
			}
			slog.Error("Sidecar did not open after login", logfields.Error(err))
			m.transition(AppStateLoadingServer, AppStateNotLogin, err)
			return nil
		}
		m.transition(AppStateLoadingServer, AppStateLoaded, nil)
		return nil
	})
	return LoginResult{OK: true, State: AppStateLoadingServer}
}

// Close stops background tasks and releases the sidecar lease. Subscription
// channels are closed afterwards.
func (m *Machine) Close(ctx context.Context) error {
	taskErr := m.tasks.StopAndWait(ctx)
	closeErr := m.opts.Supervisor.CloseConnection(ctx)
	m.stateEvents.Close()
	m.initEvents.Close()
	if taskErr != nil && !errors.Is(taskErr, context.Canceled) {
		slog.Warn("Background tasks did not stop in time", logfields.Error(taskErr))
	}
	return closeErr
}
