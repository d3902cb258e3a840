package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/bootstrapd/internal/bootstrap"
	"git.home.luguber.info/inful/bootstrapd/internal/config"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	NoPassword   bool   `name:"no-password" help:"Do not protect the channel with a password"`
	TouchID      bool   `name:"touch-id" help:"Allow unlocking with the biometric verifier"`
	Fastboot     bool   `help:"Start the sidecar before login"`
	DBPath       string `name:"db-path" help:"Database location (default <data_dir>/<channel>/data/main.db)"`
	DatabaseName string `name:"database-name" help:"Name of the database entry" default:"main"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunInit(ctx, g, cfg, i)
}

// RunInit drives the first-run sequence and prints every step.
func RunInit(ctx context.Context, g *Global, cfg *config.Config, opts *InitCmd) error {
	ic := bootstrap.InitConfig{
		TouchID:      opts.TouchID,
		Fastboot:     opts.Fastboot,
		DBPath:       opts.DBPath,
		DatabaseName: opts.DatabaseName,
	}
	if !opts.NoPassword {
		password, err := newPrompter(g).newPassword()
		if err != nil {
			return err
		}
		ic.Password = &password
	}

	rt, err := openRuntime(ctx, cfg, g.Deps)
	if err != nil {
		return err
	}
	defer rt.close()

	events, unsubscribe := rt.machine.SubscribeInit()
	defer unsubscribe()

	if err := rt.machine.Start(ctx); err != nil {
		return err
	}
	if current := rt.machine.State(); current != bootstrap.AppStateNotInit {
		return ferrors.StateError("channel already initialized").
			WithContext("channel", cfg.Channel).
			WithContext("state", string(current)).
			Build()
	}

	if _, err := rt.machine.Init(ctx, ic); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return bootstrap.ErrServerStopped
			}
			fmt.Fprintln(g.Stdout, ev.State)
			switch ev.State {
			case bootstrap.InitStateFinish:
				slog.Info("Channel initialized", logfields.Channel(cfg.Channel))
				return nil
			case bootstrap.InitStateError:
				return ev.Err
			}
		}
	}
}

// InitConfigCmd implements the 'init-config' command.
type InitConfigCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (c *InitConfigCmd) Run(g *Global, root *CLI) error {
	fmt.Fprintf(g.Stdout, "Writing configuration to %s\n", root.Config)
	return config.Init(root.Config, c.Force)
}
