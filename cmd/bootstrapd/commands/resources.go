package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/bootstrapd/internal/config"
	"git.home.luguber.info/inful/bootstrapd/internal/metrics"
	"git.home.luguber.info/inful/bootstrapd/internal/resources"
)

// ResourcesCmd implements the 'resources' command.
type ResourcesCmd struct {
	Check bool `help:"Only report whether an update is needed"`
	Cli   bool `help:"Install the command line tool only"`
}

func (r *ResourcesCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunResources(ctx, g, cfg, r)
}

// RunResources loads the version lock and, unless only checking, brings the
// installed resources up to the bundle targets.
func RunResources(ctx context.Context, g *Global, cfg *config.Config, opts *ResourcesCmd) error {
	syncer, err := resources.New(cfg, g.Deps.Installer, metrics.NoopRecorder{})
	if err != nil {
		return err
	}
	if err := syncer.Load(ctx); err != nil {
		return err
	}
	report := func(prefix string) {
		fmt.Fprintf(g.Stdout, "%s main=%s cli=%s\n", prefix, syncer.MainStatus().Get(), syncer.CliStatus().Get())
	}
	report("current:")

	switch {
	case opts.Check:
		if syncer.NeedsUpdate() {
			fmt.Fprintln(g.Stdout, "update needed")
		} else {
			fmt.Fprintln(g.Stdout, "up to date")
		}
		return nil
	case opts.Cli:
		if err := syncer.UpdateCli(ctx); err != nil {
			return err
		}
	case syncer.NeedsUpdate():
		if err := syncer.Update(ctx); err != nil {
			return err
		}
	default:
		fmt.Fprintln(g.Stdout, "up to date")
		return nil
	}
	report("updated:")
	return nil
}
