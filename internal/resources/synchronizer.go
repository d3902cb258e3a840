package resources

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"git.home.luguber.info/inful/bootstrapd/internal/config"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/metrics"
	"git.home.luguber.info/inful/bootstrapd/internal/pubsub"
	"git.home.luguber.info/inful/bootstrapd/internal/versioning"
)

// ErrResourceUpdate wraps every failure of Update and UpdateCli.
var ErrResourceUpdate = ferrors.ResourceError("resource update failed").Build()

// Synchronizer keeps installed resources in line with the bundle targets.
type Synchronizer interface {
	// Load reads the version lock and recomputes both statuses.
	Load(ctx context.Context) error
	// NeedsUpdate reports whether Update has work to do.
	NeedsUpdate() bool
	// Update installs the cli (when outdated) and then the main bundle.
	Update(ctx context.Context) error
	// UpdateCli installs the cli tool only.
	UpdateCli(ctx context.Context) error
	MainStatus() *pubsub.Value[Status]
	CliStatus() *pubsub.Value[Status]
}

// Options configures a managed Synchronizer.
type Options struct {
	// ChannelDir holds the version lock and the installed resources.
	ChannelDir  string
	Bundle      Bundle
	Executables []string
	Installer   Installer
	Recorder    metrics.Recorder
	Now         func() time.Time
}

// New selects the strategy once from configuration: unmanaged when resource
// management is disabled, managed otherwise.
func New(cfg *config.Config, inst Installer, rec metrics.Recorder) (Synchronizer, error) {
	if !cfg.Resources.IsManaged() {
		slog.Info("Resource management disabled", logfields.Channel(cfg.Channel))
		return NewUnmanaged(), nil
	}
	bundle, err := LoadBundle(cfg.Resources.BundleDir)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		inst = &OSInstaller{
			Python:        cfg.Resources.Cli.Python,
			InstallScript: cfg.Resources.Cli.InstallScript,
			RCFiles:       cfg.Resources.Cli.RCFiles,
		}
	}
	return NewManaged(Options{
		ChannelDir:  cfg.ChannelDir(),
		Bundle:      bundle,
		Executables: cfg.Resources.Executables,
		Installer:   inst,
		Recorder:    rec,
	}), nil
}

// Managed installs resources from a bundle directory.
type Managed struct {
	opts     Options
	lockPath string
	rec      metrics.Recorder

	// mu serializes Load, Update and UpdateCli.
	mu   sync.Mutex
	lock *VersionLock // nil until something is installed

	main *pubsub.Value[Status]
	cli  *pubsub.Value[Status]
}

func NewManaged(opts Options) *Managed {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Managed{
		opts:     opts,
		lockPath: filepath.Join(opts.ChannelDir, LockFile),
		rec:      metrics.OrNoop(opts.Recorder),
		main:     pubsub.NewValue(StatusUnknown),
		cli:      pubsub.NewValue(StatusUnknown),
	}
}

func (m *Managed) MainStatus() *pubsub.Value[Status] { return m.main }
func (m *Managed) CliStatus() *pubsub.Value[Status]  { return m.cli }

// ResourceDir returns where kind is installed.
func (m *Managed) ResourceDir(kind Kind) string {
	return filepath.Join(m.opts.ChannelDir, "resources", string(kind))
}

// Load reads the version lock. Without a lock both statuses are NOT_INIT,
// even when the bundle carries no cli payload; Update leaves such a cli alone.
func (m *Managed) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	lock, err := ReadLock(m.lockPath)
	if errors.Is(err, ErrLockNotFound) {
		m.lock = nil
		m.main.Set(StatusNotInit)
		m.cli.Set(StatusNotInit)
		slog.Debug("No version lock", logfields.Path(m.lockPath))
		return nil
	}
	if err != nil {
		return err
	}
	m.lock = lock

	mainStatus := StatusLatest
	if m.entryNeedsChange(lock.Server, KindServer) || m.entryNeedsChange(lock.Frontend, KindFrontend) {
		mainStatus = StatusNeedUpdate
	}
	m.main.Set(mainStatus)
	m.cli.Set(m.cliStatus(lock.Cli))
	slog.Debug("Resources loaded",
		slog.String("main", string(mainStatus)),
		slog.String("cli", string(m.cli.Get())))
	return nil
}

func (m *Managed) cliStatus(entry *LockEntry) Status {
	switch {
	case !m.opts.Bundle.HasCli():
		return StatusLatest
	case entry == nil:
		return StatusNotInit
	case m.entryNeedsChange(entry, KindCli):
		return StatusNeedUpdate
	default:
		return StatusLatest
	}
}

// entryNeedsChange treats a missing entry as outdated. Entries were
// validated by ReadLock.
func (m *Managed) entryNeedsChange(e *LockEntry, kind Kind) bool {
	if e == nil {
		return true
	}
	return versioning.NeedsChange(versioning.MustParse(e.Version), m.opts.Bundle.Target(kind))
}

func (m *Managed) NeedsUpdate() bool {
	main := m.main.Get()
	return main == StatusNotInit || main == StatusNeedUpdate || m.cli.Get() == StatusNeedUpdate
}

func (m *Managed) Update(ctx context.Context) error {
	if !m.NeedsUpdate() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cli.Get() == StatusNeedUpdate {
		if err := m.updateCli(ctx); err != nil {
			return err
		}
	}
	if main := m.main.Get(); main == StatusNotInit || main == StatusNeedUpdate {
		return m.updateMain(ctx)
	}
	return nil
}

func (m *Managed) UpdateCli(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCli(ctx)
}

func (m *Managed) updateCli(ctx context.Context) error {
	if !m.opts.Bundle.HasCli() {
		return nil
	}
	start := time.Now()
	m.cli.Set(StatusUpdating)
	slog.Info("Updating resource", logfields.Resource(string(KindCli)), logfields.Version(m.opts.Bundle.CliTarget.String()))

	err := m.installCli(ctx)
	m.rec.ObserveResourceUpdate(string(KindCli), time.Since(start), metrics.ResultFor(err))
	if err != nil {
		return wrapUpdate(err, string(KindCli))
	}
	m.cli.Set(StatusLatest)
	return nil
}

func (m *Managed) installCli(ctx context.Context) error {
	dir := m.ResourceDir(KindCli)
	venv := filepath.Join(dir, "venv")
	if err := m.opts.Installer.CopyDir(ctx, m.opts.Bundle.CliDir, filepath.Join(dir, "src")); err != nil {
		return err
	}
	if err := m.opts.Installer.InstallCli(ctx, filepath.Join(dir, "src"), venv); err != nil {
		return err
	}
	bin := filepath.Join(venv, "bin")
	if rc, err := m.opts.Installer.InjectPath(bin); err != nil {
		slog.Warn("PATH injection failed", logfields.Path(bin), logfields.Error(err))
	} else if rc == "" {
		slog.Warn("No shell rc file found for PATH injection", logfields.Path(bin))
	} else {
		slog.Info("Added cli to PATH", logfields.Path(rc))
	}

	next := m.lockOrEmpty()
	next.Cli = &LockEntry{Version: m.opts.Bundle.CliTarget.String(), UpdateTime: m.opts.Now().UTC()}
	if err := WriteLock(m.lockPath, next); err != nil {
		return err
	}
	m.lock = next
	return nil
}

func (m *Managed) updateMain(ctx context.Context) error {
	start := time.Now()
	m.main.Set(StatusUpdating)

	err := m.installMain(ctx)
	m.rec.ObserveResourceUpdate("main", time.Since(start), metrics.ResultFor(err))
	if err != nil {
		return wrapUpdate(err, "main")
	}
	m.main.Set(StatusLatest)
	return nil
}

func (m *Managed) installMain(ctx context.Context) error {
	b := m.opts.Bundle
	next := m.lockOrEmpty()
	now := m.opts.Now().UTC()
	serverDir := m.ResourceDir(KindServer)

	serverTarget := b.ServerTarget.String()
	if next.Server == nil || next.Server.Version != serverTarget || !dirExists(serverDir) {
		slog.Info("Extracting server payload",
			logfields.Resource(string(KindServer)),
			logfields.Version(serverTarget),
			logfields.Path(b.ServerArchive))
		if err := m.opts.Installer.Extract(ctx, b.ServerArchive, serverDir); err != nil {
			return err
		}
		digest, err := fileDigest(b.ServerArchive)
		if err != nil {
			return err
		}
		next.Server = &LockEntry{Version: serverTarget, UpdateTime: now, Digest: digest}
	}

	slog.Info("Copying frontend", logfields.Resource(string(KindFrontend)), logfields.Version(b.FrontendTarget.String()))
	if err := m.opts.Installer.CopyDir(ctx, b.FrontendDir, m.ResourceDir(KindFrontend)); err != nil {
		return err
	}
	next.Frontend = &LockEntry{Version: b.FrontendTarget.String(), UpdateTime: now}

	if err := m.opts.Installer.MakeExecutable(serverDir, m.opts.Executables); err != nil {
		return err
	}
	if err := WriteLock(m.lockPath, next); err != nil {
		return err
	}
	m.lock = next
	return nil
}

func (m *Managed) lockOrEmpty() *VersionLock {
	if m.lock == nil {
		return &VersionLock{}
	}
	return m.lock.clone()
}

func wrapUpdate(err error, resource string) error {
	return ferrors.WrapError(err, ferrors.CategoryResource, ErrResourceUpdate.Message()).
		WithContext("resource", resource).
		Build()
}

// Unmanaged is the Synchronizer used when resource management is disabled.
type Unmanaged struct {
	main *pubsub.Value[Status]
	cli  *pubsub.Value[Status]
}

func NewUnmanaged() *Unmanaged {
	return &Unmanaged{main: pubsub.NewValue(StatusLatest), cli: pubsub.NewValue(StatusLatest)}
}

func (u *Unmanaged) Load(context.Context) error        { return nil }
func (u *Unmanaged) NeedsUpdate() bool                 { return false }
func (u *Unmanaged) Update(context.Context) error      { return nil }
func (u *Unmanaged) UpdateCli(context.Context) error   { return nil }
func (u *Unmanaged) MainStatus() *pubsub.Value[Status] { return u.main }
func (u *Unmanaged) CliStatus() *pubsub.Value[Status]  { return u.cli }
