package commands

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/bootstrapd/internal/biometric"
	"git.home.luguber.info/inful/bootstrapd/internal/bootstrap"
	"git.home.luguber.info/inful/bootstrapd/internal/bridge"
	"git.home.luguber.info/inful/bootstrapd/internal/config"
	"git.home.luguber.info/inful/bootstrapd/internal/eventstore"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/metrics"
	"git.home.luguber.info/inful/bootstrapd/internal/resources"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecar"
	"git.home.luguber.info/inful/bootstrapd/internal/state"
	"git.home.luguber.info/inful/bootstrapd/internal/version"
)

const closeTimeout = 10 * time.Second

// channelRuntime is the bootstrap core wired for one channel.
type channelRuntime struct {
	cfg      *config.Config
	registry *prom.Registry
	machine  *bootstrap.Machine

	// closers run in reverse order after the machine is closed.
	closers []func()
}

// Deps lets tests replace the collaborators that touch the outside world.
type Deps struct {
	Installer resources.Installer
	Spawner   sidecar.Spawner
	Biometric biometric.Prompter
}

// DefaultDBPath is where Init places the database when no path is given.
func DefaultDBPath(cfg *config.Config) string {
	return filepath.Join(cfg.ChannelDir(), "data", bootstrap.DefaultDatabaseName+".db")
}

func openRuntime(ctx context.Context, cfg *config.Config, deps Deps) (*channelRuntime, error) {
	reg := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)

	syncer, err := resources.New(cfg, deps.Installer, rec)
	if err != nil {
		return nil, err
	}
	prompter := deps.Biometric
	if prompter == nil {
		prompter = biometric.New(cfg.Biometric.Command)
	}

	dir := cfg.ChannelDir()
	m, err := bootstrap.New(bootstrap.Options{
		AppData:       state.NewAppDataStore(filepath.Join(dir, state.AppDataFile)),
		Configuration: state.NewConfigurationStore(filepath.Join(dir, state.ConfigurationFile)),
		Resources:     syncer,
		Supervisor:    sidecar.New(cfg, sidecar.Deps{Spawner: deps.Spawner, Recorder: rec}),
		Biometric:     prompter,
		Recorder:      rec,
		DefaultDBPath: DefaultDBPath(cfg),
		Debug:         cfg.Debug,
	})
	if err != nil {
		return nil, err
	}

	rt := &channelRuntime{cfg: cfg, registry: reg, machine: m}
	if err := rt.attachJournal(ctx); err != nil {
		rt.close()
		return nil, err
	}
	rt.attachBridge()
	return rt, nil
}

func (rt *channelRuntime) attachJournal(ctx context.Context) error {
	if !rt.cfg.Journal.Enabled {
		return nil
	}
	store, err := eventstore.NewSQLiteStore(rt.cfg.Journal.Path)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close journal store", logfields.Error(err))
		}
	})

	journal, err := eventstore.OpenJournal(ctx, store, rt.cfg.Channel, version.Version)
	if err != nil {
		return err
	}
	stop := rt.machine.Observe(journal)
	rt.closers = append(rt.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := journal.Close(ctx); err != nil {
			slog.Warn("Failed to close journal session", logfields.Error(err))
		}
	}, stop)
	slog.Debug("Journal attached", logfields.Path(rt.cfg.Journal.Path), slog.String("session", journal.Session()))
	return nil
}

// attachBridge connects the NATS bridge when configured. The bridge only
// mirrors state, so a broker that cannot be reached is not fatal.
func (rt *channelRuntime) attachBridge() {
	if rt.cfg.NATS.URL == "" {
		return
	}
	b, err := bridge.Connect(rt.cfg.NATS, rt.cfg.Channel)
	if err != nil {
		slog.Warn("NATS bridge disabled", logfields.URL(rt.cfg.NATS.URL), logfields.Error(err))
		return
	}
	stop := rt.machine.Observe(b)
	rt.closers = append(rt.closers, func() {
		if err := b.Close(); err != nil {
			slog.Warn("Failed to close NATS bridge", logfields.Error(err))
		}
	}, stop)
}

// close shuts the machine down, releasing the sidecar lease, then the sinks.
func (rt *channelRuntime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := rt.machine.Close(ctx); err != nil {
		slog.Warn("Failed to close bootstrap machine", logfields.Error(err))
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// serveMetrics exposes the registry on listen until the returned func is called.
func serveMetrics(listen string, reg *prom.Registry) (func(), error) {
	if listen == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics listener failed", logfields.Error(err))
		}
	}()
	slog.Info("Serving metrics", slog.String("listen", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
