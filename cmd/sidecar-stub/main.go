// Command sidecar-stub is a development sidecar. It speaks the sidecar
// contract (status record, bearer auth, health, storage init, lifetime
// leases) without any business routes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarstub"
	"git.home.luguber.info/inful/bootstrapd/internal/version"
)

var CLI struct {
	Channel      string        `required:"" help:"Channel to serve"`
	DataDir      string        `name:"data-dir" required:"" help:"Root data directory; the status record goes to <data-dir>/<channel>"`
	Debug        bool          `help:"Enable debug logging"`
	Listen       string        `help:"Listen address (default: ephemeral loopback port)"`
	Token        string        `help:"Bearer token (default: random)" env:"SIDECAR_STUB_TOKEN"`
	LeaseWindow  time.Duration `name:"lease-window" help:"Lease expiry without renewal" default:"120s"`
	IdleShutdown bool          `name:"idle-shutdown" help:"Exit once no lease is active" default:"true" negatable:""`
	FailWith     string        `name:"fail-with" help:"Fail startup with this message (exercises the error record)"`
}

func main() {
	kong.Parse(&CLI, kong.Name("sidecar-stub"), kong.Description("Development sidecar for bootstrapd."))

	level := slog.LevelInfo
	if CLI.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := sidecarstub.Run(ctx, sidecarstub.RunOptions{
		Options: sidecarstub.Options{
			Token:       CLI.Token,
			Version:     version.Version,
			LeaseWindow: CLI.LeaseWindow,
			Logger:      logger,
		},
		Channel:      CLI.Channel,
		DataDir:      CLI.DataDir,
		Listen:       CLI.Listen,
		IdleShutdown: CLI.IdleShutdown,
		FailWith:     CLI.FailWith,
	})
	if err != nil {
		slog.Error("Sidecar stub failed", logfields.Error(err))
		os.Exit(1)
	}
}
