package sidecar

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
)

// recordWatcher signals when the status record is (re)written. The watch is
// on the directory because the record is replaced by rename.
type recordWatcher struct {
	w    *fsnotify.Watcher
	wake chan struct{}
	done chan struct{}
}

// watchRecord returns nil when watching is unavailable; the poll then relies
// on its timer alone.
func watchRecord(path string) *recordWatcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("Status record watch unavailable", logfields.Error(err))
		return nil
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		slog.Debug("Status record watch unavailable", logfields.Path(path), logfields.Error(err))
		return nil
	}
	rw := &recordWatcher{w: w, wake: make(chan struct{}, 1), done: make(chan struct{})}
	name := filepath.Base(path)
	go func() {
		defer close(rw.done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
					continue
				}
				select {
				case rw.wake <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return rw
}

// C returns the wake channel; nil-safe so callers can select on it unconditionally.
func (rw *recordWatcher) C() <-chan struct{} {
	if rw == nil {
		return nil
	}
	return rw.wake
}

func (rw *recordWatcher) Close() {
	if rw == nil {
		return
	}
	_ = rw.w.Close()
	<-rw.done
}
