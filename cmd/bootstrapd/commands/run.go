package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/bootstrapd/internal/bootstrap"
	"git.home.luguber.info/inful/bootstrapd/internal/config"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
)

const maxLoginAttempts = 3

var (
	errNotInitialized = ferrors.StateError("channel is not initialized (run 'bootstrapd init' first)").Build()
	errLoginFailed    = ferrors.AuthError("login failed").Build()
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Once    bool          `help:"Exit once the channel is LOADED instead of holding the sidecar lease"`
	TouchID bool          `name:"touch-id" help:"Unlock with the biometric verifier instead of a password"`
	Timeout time.Duration `help:"Give up when the channel is not LOADED within this duration (0 waits forever)" default:"0s"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunChannel(ctx, g, cfg, r)
}

// RunChannel starts the machine for cfg, unlocks it when needed and, unless
// opts.Once is set, holds the connection until ctx ends.
func RunChannel(ctx context.Context, g *Global, cfg *config.Config, opts *RunCmd) error {
	rt, err := openRuntime(ctx, cfg, g.Deps)
	if err != nil {
		return err
	}
	defer rt.close()

	stopMetrics, err := serveMetrics(cfg.Metrics.Listen, rt.registry)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to listen for metrics").
			WithContext("listen", cfg.Metrics.Listen).
			Build()
	}
	defer stopMetrics()

	// Subscribe before Start so no transition is missed.
	events, unsubscribe := rt.machine.SubscribeState()
	defer unsubscribe()

	loadCtx := ctx
	if opts.Timeout > 0 {
		var cancelLoad context.CancelFunc
		loadCtx, cancelLoad = context.WithTimeout(ctx, opts.Timeout)
		defer cancelLoad()
	}

	slog.Info("Starting channel", logfields.Channel(cfg.Channel), logfields.Path(cfg.ChannelDir()))
	if err := rt.machine.Start(loadCtx); err != nil {
		return err
	}

	switch rt.machine.State() {
	case bootstrap.AppStateNotInit:
		return errNotInitialized
	case bootstrap.AppStateNotLogin:
		// Only failures after the login attempt end the wait.
		drain(events)
		if err := unlock(loadCtx, g, rt.machine, opts.TouchID); err != nil {
			return err
		}
	}
	if err := waitLoaded(loadCtx, rt.machine, events); err != nil {
		return err
	}

	fmt.Fprintf(g.Stdout, "channel %s loaded\n", cfg.Channel)
	if opts.Once {
		return nil
	}

	slog.Info("Channel loaded, holding sidecar lease until interrupted", logfields.Channel(cfg.Channel))
	<-ctx.Done()
	slog.Info("Shutdown signal received, releasing sidecar lease...")
	return nil
}

func unlock(ctx context.Context, g *Global, m *bootstrap.Machine, touchID bool) error {
	if touchID {
		res := m.LoginByTouchID(ctx)
		if res.OK {
			return nil
		}
		if res.Err != nil {
			return res.Err
		}
		return errLoginFailed
	}

	prompt := newPrompter(g)
	for attempt := 1; attempt <= maxLoginAttempts; attempt++ {
		password, err := prompt.password("Password: ")
		if err != nil {
			return err
		}
		res := m.Login(ctx, password)
		if res.OK {
			return nil
		}
		if res.Err != nil {
			return res.Err
		}
		fmt.Fprintln(g.Stderr, "Wrong password")
		slog.Debug("Login rejected", logfields.Attempt(attempt))
	}
	return errLoginFailed
}

// waitLoaded blocks until the machine is LOADED. A failure reported while
// the login is pending ends the wait with that error.
func waitLoaded(ctx context.Context, m *bootstrap.Machine, events <-chan bootstrap.StateEvent) error {
	for {
		if m.State() == bootstrap.AppStateLoaded {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return bootstrap.ErrServerStopped
			}
			if ev.Err != nil && ev.State != bootstrap.AppStateLoaded {
				return ev.Err
			}
		}
	}
}

func drain(events <-chan bootstrap.StateEvent) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
