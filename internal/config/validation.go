package config

import (
	"net/url"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
)

// Validate checks the configuration after defaults were applied.
func Validate(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	return v.validate()
}

type configurationValidator struct {
	config *Config
}

func (cv *configurationValidator) validate() error {
	if err := cv.validateChannel(); err != nil {
		return err
	}
	if err := cv.validateResources(); err != nil {
		return err
	}
	if err := cv.validateSidecar(); err != nil {
		return err
	}
	return nil
}

func (cv *configurationValidator) validateChannel() error {
	ch := cv.config.Channel
	if strings.ContainsAny(ch, `/\`) || ch == "." || ch == ".." {
		return ferrors.ConfigError("channel must be a plain directory name").WithContext("channel", ch).Build()
	}
	return nil
}

func (cv *configurationValidator) validateResources() error {
	r := cv.config.Resources
	if r.IsManaged() && r.BundleDir == "" {
		return ferrors.ConfigError("resources.bundle_dir is required when resources are managed").Build()
	}
	return nil
}

func (cv *configurationValidator) validateSidecar() error {
	s := cv.config.Sidecar
	if s.ExternalURL != "" {
		u, err := url.Parse(s.ExternalURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ferrors.ConfigError("sidecar.external_url must be an absolute URL").
				WithContext("external_url", s.ExternalURL).
				Build()
		}
	}
	if s.Poll.Attempts < 1 {
		return ferrors.ConfigError("sidecar.poll.attempts must be at least 1").Build()
	}
	if s.Poll.Warmup() < 0 {
		return ferrors.ConfigError("sidecar.poll.warmup_attempts cannot be negative").Build()
	}
	for name, raw := range map[string]string{
		"sidecar.poll.warmup_delay":      s.Poll.WarmupDelay,
		"sidecar.poll.delay":             s.Poll.Delay,
		"sidecar.poll.health_timeout":    s.Poll.HealthTimeout,
		"sidecar.heartbeat.interval":     s.Heartbeat.Interval,
		"sidecar.heartbeat.lease_window": s.Heartbeat.LeaseWindow,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return ferrors.ConfigError("invalid duration").WithContext("field", name).WithContext("value", raw).Build()
		}
	}
	if s.Heartbeat.Duration() >= s.Heartbeat.Window() {
		return ferrors.ConfigError("sidecar.heartbeat.interval must be shorter than the lease window").Build()
	}
	return nil
}
