package bootstrap

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/bootstrapd/internal/biometric"
	"git.home.luguber.info/inful/bootstrapd/internal/pubsub"
	"git.home.luguber.info/inful/bootstrapd/internal/resources"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecar"
)

type fakeSupervisor struct {
	status *pubsub.Value[sidecar.Status]

	mu          sync.Mutex
	starts      int
	closes      int
	release     chan struct{}
	startErr    error
	initCreated bool
	initPaths   []string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{status: pubsub.NewValue(sidecar.StatusUnknown), initCreated: true}
}

var fakeInfo = sidecar.ConnectionInfo{PID: 7, URL: "http://127.0.0.1:1", Token: "tok"}

func (f *fakeSupervisor) Status() sidecar.Status                                 { return f.status.Get() }
func (f *fakeSupervisor) Subscribe() (<-chan sidecar.Status, func())             { return f.status.Subscribe() }
func (f *fakeSupervisor) Watch() (sidecar.Status, <-chan sidecar.Status, func()) { return f.status.Watch() }

func (f *fakeSupervisor) Connection() (sidecar.ConnectionInfo, bool) {
	return fakeInfo, f.status.Get() == sidecar.StatusOpen
}

func (f *fakeSupervisor) StartConnection(ctx context.Context) (sidecar.ConnectionInfo, error) {
	f.mu.Lock()
	f.starts++
	release, err := f.release, f.startErr
	f.mu.Unlock()

	f.status.Set(sidecar.StatusInitializing)
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			f.status.Set(sidecar.StatusUnknown)
			return sidecar.ConnectionInfo{}, ctx.Err()
		}
	}
	if err != nil {
		f.status.Set(sidecar.StatusUnknown)
		return sidecar.ConnectionInfo{}, err
	}
	f.status.Set(sidecar.StatusOpen)
	return fakeInfo, nil
}

func (f *fakeSupervisor) CloseConnection(context.Context) error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.status.Set(sidecar.StatusUnknown)
	return nil
}

func (f *fakeSupervisor) InitializeRemoteServer(_ context.Context, path string) (bool, error) {
	if f.status.Get() != sidecar.StatusOpen {
		return false, sidecar.ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initPaths = append(f.initPaths, path)
	return f.initCreated, nil
}

func (f *fakeSupervisor) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeResources struct {
	main *pubsub.Value[resources.Status]
	cli  *pubsub.Value[resources.Status]

	mu          sync.Mutex
	needsUpdate bool
	updateErr   error
	loads       int
	updates     int
}

func newFakeResources(needsUpdate bool) *fakeResources {
	return &fakeResources{
		main:        pubsub.NewValue(resources.StatusUnknown),
		cli:         pubsub.NewValue(resources.StatusUnknown),
		needsUpdate: needsUpdate,
	}
}

func (f *fakeResources) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.needsUpdate {
		f.main.Set(resources.StatusNeedUpdate)
	} else {
		f.main.Set(resources.StatusLatest)
	}
	f.cli.Set(resources.StatusLatest)
	return nil
}

func (f *fakeResources) NeedsUpdate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needsUpdate
}

func (f *fakeResources) Update(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	f.needsUpdate = false
	f.main.Set(resources.StatusLatest)
	return nil
}

func (f *fakeResources) UpdateCli(context.Context) error             { return nil }
func (f *fakeResources) MainStatus() *pubsub.Value[resources.Status] { return f.main }
func (f *fakeResources) CliStatus() *pubsub.Value[resources.Status]  { return f.cli }

type fakePrompter struct {
	available bool
	err       error
	prompts   int
}

func (f *fakePrompter) Available() bool { return f.available }

func (f *fakePrompter) Prompt(context.Context, string) error {
	f.prompts++
	return f.err
}

var _ biometric.Prompter = (*fakePrompter)(nil)
