package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyChannel    = "channel"
	KeyAppState   = "app_state"
	KeyInitState  = "init_state"
	KeyStatus     = "status"
	KeyResource   = "resource"
	KeyVersion    = "version"
	KeyAttempt    = "attempt"
	KeyLeaseID    = "lease_id"
	KeyPID        = "pid"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyTask       = "task"
	KeyTaskID     = "task_id"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Channel(c string) slog.Attr     { return slog.String(KeyChannel, c) }
func AppState(s string) slog.Attr    { return slog.String(KeyAppState, s) }
func InitState(s string) slog.Attr   { return slog.String(KeyInitState, s) }
func Status(s string) slog.Attr      { return slog.String(KeyStatus, s) }
func Resource(kind string) slog.Attr { return slog.String(KeyResource, kind) }
func Version(v string) slog.Attr     { return slog.String(KeyVersion, v) }
func Attempt(n int) slog.Attr        { return slog.Int(KeyAttempt, n) }
func LeaseID(id string) slog.Attr    { return slog.String(KeyLeaseID, id) }
func PID(pid int) slog.Attr          { return slog.Int(KeyPID, pid) }
func URL(u string) slog.Attr         { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr        { return slog.String(KeyPath, p) }
func Task(name string) slog.Attr     { return slog.String(KeyTask, name) }
func TaskID(id string) slog.Attr     { return slog.String(KeyTaskID, id) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
