package state

import (
	"context"

	"git.home.luguber.info/inful/bootstrapd/internal/migration"
)

// ConfigurationFile is the Configuration document name inside a channel directory.
const ConfigurationFile = "configuration.json"

// Configuration records where the sidecar keeps its database.
type Configuration struct {
	Version string `json:"version"`
	DBPath  string `json:"dbPath"`
}

var configurationSteps = migration.Steps[*Configuration]{
	"0.1.0": func(context.Context, *Configuration) error { return nil },
}

var configurationVersion = migration.Accessor[*Configuration]{
	Get: func(c *Configuration) string { return c.Version },
	Set: func(c *Configuration, v string) { c.Version = v },
}

// ConfigurationStore owns the Configuration document of one channel.
type ConfigurationStore struct {
	doc documentStore[Configuration]
}

func NewConfigurationStore(path string) *ConfigurationStore {
	return &ConfigurationStore{doc: documentStore[Configuration]{
		path:  path,
		kind:  "configuration",
		steps: configurationSteps,
		acc:   configurationVersion,
		clone: func(c Configuration) Configuration { return c },
	}}
}

func (s *ConfigurationStore) Exists() bool { return s.doc.exists() }

func (s *ConfigurationStore) Load(ctx context.Context) (Configuration, error) {
	return s.doc.load(ctx)
}

func (s *ConfigurationStore) Create(c Configuration) error {
	return s.doc.create(c)
}

func (s *ConfigurationStore) Get() (Configuration, bool) {
	return s.doc.snapshot()
}

func (s *ConfigurationStore) Update(ctx context.Context, fn func(*Configuration) error) error {
	return s.doc.update(ctx, fn)
}
