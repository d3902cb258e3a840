package config

import (
	"os"
	"path/filepath"
	"time"
)

// Defaults for the readiness poll and the lifetime lease.
const (
	DefaultChannel        = "stable"
	DefaultPollAttempts   = 30
	DefaultWarmupAttempts = 2
	DefaultWarmupDelay    = 250 * time.Millisecond
	DefaultPollDelay      = time.Second
	DefaultHealthTimeout  = 100 * time.Millisecond
	// The server expires a lease after LeaseWindow without renewal, so an
	// interval of a third of the window tolerates one missed tick.
	DefaultHeartbeatInterval = 40 * time.Second
	DefaultLeaseWindow       = 120 * time.Second
	DefaultSubjectPrefix     = "bootstrapd"
	DefaultPython            = "python3"
	DefaultInstallScript     = "install.sh"
)

// DefaultRCFiles are the shell rc candidates for PATH injection, in priority order.
func DefaultRCFiles() []string {
	return []string{"~/.zshrc", "~/.bashrc", "~/.bash_profile", "~/.profile"}
}

func applyDefaults(cfg *Config) error {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		cfg.DataDir = filepath.Join(base, "bootstrapd")
	}

	cli := &cfg.Resources.Cli
	if cli.Python == "" {
		cli.Python = DefaultPython
	}
	if cli.InstallScript == "" {
		cli.InstallScript = DefaultInstallScript
	}
	if len(cli.RCFiles) == 0 {
		cli.RCFiles = DefaultRCFiles()
	}

	poll := &cfg.Sidecar.Poll
	if poll.Attempts == 0 {
		poll.Attempts = DefaultPollAttempts
	}
	if poll.WarmupDelay == "" {
		poll.WarmupDelay = DefaultWarmupDelay.String()
	}
	if poll.Delay == "" {
		poll.Delay = DefaultPollDelay.String()
	}
	if poll.HealthTimeout == "" {
		poll.HealthTimeout = DefaultHealthTimeout.String()
	}

	hb := &cfg.Sidecar.Heartbeat
	if hb.Interval == "" {
		hb.Interval = DefaultHeartbeatInterval.String()
	}
	if hb.LeaseWindow == "" {
		hb.LeaseWindow = DefaultLeaseWindow.String()
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(cfg.ChannelDir(), "journal.db")
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	return nil
}
