package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
)

var errStopping = ferrors.StateError("task group stopping").Build()

// task is a handle on one background unit of work.
type task struct {
	id   string
	name string
	done chan struct{}
	err  error
}

func (t *task) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Err is valid once Done is closed.
func (t *task) Err() error { return t.err }

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *task) failed() bool {
	select {
	case <-t.done:
		return t.err != nil
	default:
		return false
	}
}

// taskGroup tracks machine-owned goroutines and provides a shutdown boundary
// so Add never races Wait. Failures of detached tasks, which nobody awaits,
// go to onFailure.
type taskGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool

	ctx       context.Context
	cancel    context.CancelFunc
	onFailure func(*task, error)
}

func newTaskGroup(onFailure func(*task, error)) *taskGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskGroup{ctx: ctx, cancel: cancel, onFailure: onFailure}
}

// Go starts fn as a named task running under the group's context.
func (g *taskGroup) Go(name string, detached bool, fn func(context.Context) error) *task {
	t := &task{id: uuid.NewString(), name: name, done: make(chan struct{})}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		t.err = errStopping
		close(t.done)
		return t
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		slog.Debug("Task started", logfields.Task(name), logfields.TaskID(t.id))
		err := g.run(t, fn)
		t.err = err
		close(t.done)
		if err == nil {
			slog.Debug("Task finished", logfields.Task(name), logfields.TaskID(t.id))
			return
		}
		if detached && g.ctx.Err() == nil && g.onFailure != nil {
			g.onFailure(t, err)
		}
	}()
	return t
}

func (g *taskGroup) run(t *task, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.InternalError(fmt.Sprintf("task %s panicked", t.name)).
				WithContext("panic", fmt.Sprint(r)).
				Build()
		}
	}()
	return fn(g.ctx)
}

// StopAndWait cancels running tasks, refuses new ones and waits for all to
// exit, bounded by ctx.
func (g *taskGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
