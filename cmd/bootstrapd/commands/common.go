package commands

import (
	"io"
	"log/slog"
	"os"
)

// Global carries the process streams and collaborators so commands can be
// driven from tests.
type Global struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Deps   Deps
}

// NewGlobal binds the process streams.
func NewGlobal() *Global {
	return &Global{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// CLI definition & global flags.
type CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"bootstrapd.yaml" env:"BOOTSTRAPD_CONFIG"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run        RunCmd        `cmd:"" help:"Bring the channel up and hold the sidecar lease until interrupted"`
	Init       InitCmd       `cmd:"" help:"Run first-run initialization for the channel"`
	Status     StatusCmd     `cmd:"" help:"Show documents, resources and sidecar record of the channel"`
	Resources  ResourcesCmd  `cmd:"" help:"Synchronize installed resources with the bundle"`
	History    HistoryCmd    `cmd:"" help:"List bootstrap sessions recorded in the journal"`
	InitConfig InitConfigCmd `cmd:"" name:"init-config" help:"Write an example configuration file"`
	Version    VersionCmd    `cmd:"" help:"Show version information"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}
