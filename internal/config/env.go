package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables overriding file values.
const (
	EnvChannel       = "BOOTSTRAPD_CHANNEL"
	EnvDataDir       = "BOOTSTRAPD_DATA_DIR"
	EnvDebug         = "BOOTSTRAPD_DEBUG"
	EnvBundleDir     = "BOOTSTRAPD_BUNDLE_DIR"
	EnvExternalURL   = "BOOTSTRAPD_EXTERNAL_URL"
	EnvExternalToken = "BOOTSTRAPD_EXTERNAL_TOKEN"
	EnvNATSURL       = "BOOTSTRAPD_NATS_URL"
)

// loadEnvFiles loads the first of .env/.env.local that exists. Existing
// process variables win over file values.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load env file", "file", name, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "file", name)
		return
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvChannel)); v != "" {
		cfg.Channel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDebug)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvBundleDir)); v != "" {
		cfg.Resources.BundleDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvExternalURL)); v != "" {
		cfg.Sidecar.ExternalURL = v
	}
	if v := os.Getenv(EnvExternalToken); v != "" {
		cfg.Sidecar.ExternalToken = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvNATSURL)); v != "" {
		cfg.NATS.URL = v
	}
}
