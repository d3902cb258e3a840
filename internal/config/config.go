// Package config loads the bootstrapd configuration file.
//
// Loading order: .env/.env.local (never overriding the process environment),
// YAML with ${VAR} expansion, BOOTSTRAPD_* overrides, defaults, validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
)

// Config represents the application configuration.
type Config struct {
	// Channel names an isolated profile of data and configuration.
	Channel string `yaml:"channel"`
	// DataDir is the root under which every channel keeps its documents.
	DataDir   string          `yaml:"data_dir"`
	Debug     bool            `yaml:"debug"`
	Resources ResourcesConfig `yaml:"resources"`
	Sidecar   SidecarConfig   `yaml:"sidecar"`
	Journal   JournalConfig   `yaml:"journal"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Biometric BiometricConfig `yaml:"biometric"`
}

// ResourcesConfig describes the packaged resource bundles.
type ResourcesConfig struct {
	// Managed=false means a developer supplies the bundle directly and
	// resource management is disabled.
	Managed   *bool  `yaml:"managed,omitempty"`
	BundleDir string `yaml:"bundle_dir"`
	// Executables are paths relative to the installed server directory that
	// need their executable bit restored after extraction.
	Executables []string  `yaml:"executables,omitempty"`
	Cli         CliConfig `yaml:"cli"`
}

// IsManaged reports whether resource management is enabled (default true).
func (r ResourcesConfig) IsManaged() bool {
	return r.Managed == nil || *r.Managed
}

// CliConfig configures installation of the optional command line tool.
type CliConfig struct {
	Python        string   `yaml:"python"`
	InstallScript string   `yaml:"install_script"`
	RCFiles       []string `yaml:"rc_files,omitempty"`
}

// SidecarConfig configures supervision of the backend process.
type SidecarConfig struct {
	Binary string `yaml:"binary,omitempty"`
	// ExternalURL switches to pass-through mode against an already running server.
	ExternalURL       string          `yaml:"external_url,omitempty"`
	ExternalToken     string          `yaml:"external_token,omitempty"`
	WatchStatusRecord *bool           `yaml:"watch_status_record,omitempty"`
	Poll              PollConfig      `yaml:"poll"`
	Heartbeat         HeartbeatConfig `yaml:"heartbeat"`
}

// ShouldWatchStatusRecord reports whether the readiness poll listens for
// status record writes (default true).
func (s SidecarConfig) ShouldWatchStatusRecord() bool {
	return s.WatchStatusRecord == nil || *s.WatchStatusRecord
}

// PollConfig controls the readiness poll. Durations are Go duration strings.
type PollConfig struct {
	Attempts int `yaml:"attempts"`
	// WarmupAttempts is a pointer so an explicit 0 disables the warm-up.
	WarmupAttempts *int   `yaml:"warmup_attempts,omitempty"`
	WarmupDelay    string `yaml:"warmup_delay"`
	Delay          string `yaml:"delay"`
	HealthTimeout  string `yaml:"health_timeout"`
}

// Warmup returns the number of attempts using the warm-up delay.
func (p PollConfig) Warmup() int {
	if p.WarmupAttempts == nil {
		return DefaultWarmupAttempts
	}
	return *p.WarmupAttempts
}

// HeartbeatConfig controls lifetime lease renewal.
type HeartbeatConfig struct {
	Interval    string `yaml:"interval"`
	LeaseWindow string `yaml:"lease_window"`
}

// JournalConfig configures the SQLite event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// NATSConfig configures the optional state bridge.
type NATSConfig struct {
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
	// KVBucket, when set, also keeps the latest state in a JetStream
	// key-value bucket for clients that connect late.
	KVBucket string `yaml:"kv_bucket,omitempty"`
}

// BiometricConfig names an external verifier (for example fprintd-verify)
// used for biometric login. Exit status 0 means verified.
type BiometricConfig struct {
	Command []string `yaml:"command,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// Load loads configuration from configPath. A missing file yields the
// defaults, so a fresh install runs without one.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse configuration").
					Fatal().
					WithContext("path", configPath).
					Build()
			}
		case os.IsNotExist(err):
		default:
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read configuration").
				Fatal().
				WithContext("path", configPath).
				Build()
		}
	}

	applyEnvOverrides(cfg)
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChannelDir returns the per-channel directory holding documents and resources.
func (c *Config) ChannelDir() string {
	return filepath.Join(c.DataDir, c.Channel)
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := &Config{}
	if err := applyDefaults(example); err != nil {
		return err
	}
	example.Resources.BundleDir = "./bundle"

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
