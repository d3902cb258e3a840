// Package sidecarapi holds the wire contract between the supervisor and the
// sidecar process: launch flags, the status record file and the HTTP routes.
package sidecarapi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Launch flags understood by every sidecar build.
const (
	FlagChannel = "--channel"
	FlagDataDir = "--data-dir"
	FlagDebug   = "--debug"
)

// HTTP routes. All of them require "Authorization: Bearer <token>".
const (
	PathHealth   = "/health"
	PathInit     = "/init"
	PathLifetime = "/lifetime"
)

// StatusRecordFile is written by the sidecar into the channel directory once
// its listener is ready, or when startup failed.
const StatusRecordFile = "server-status.json"

// Args returns the sidecar command line for a channel.
func Args(channel, dataDir string, debug bool) []string {
	args := []string{FlagChannel, channel, FlagDataDir, dataDir}
	if debug {
		args = append(args, FlagDebug)
	}
	return args
}

// StatusRecordPath returns the record location for a channel.
func StatusRecordPath(dataDir, channel string) string {
	return filepath.Join(dataDir, channel, StatusRecordFile)
}

// StatusRecord is either the ready variant {pid, port, token} or the error
// variant {errors}.
type StatusRecord struct {
	PID    int      `json:"pid,omitempty"`
	Port   int      `json:"port,omitempty"`
	Token  string   `json:"token,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Failed reports whether this is the error variant.
func (r StatusRecord) Failed() bool { return len(r.Errors) > 0 }

// Ready reports whether the record carries enough to reach the sidecar.
func (r StatusRecord) Ready() bool { return !r.Failed() && r.Port > 0 && r.Token != "" }

// URL is the base URL of a ready sidecar.
func (r StatusRecord) URL() string { return fmt.Sprintf("http://127.0.0.1:%d", r.Port) }

// ReadStatusRecord parses the record at path.
func ReadStatusRecord(path string) (StatusRecord, error) {
	var rec StatusRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse status record: %w", err)
	}
	return rec, nil
}

// WriteStatusRecord replaces the record at path atomically, so readers never
// observe a partial write.
func WriteStatusRecord(path string, rec StatusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// InitRequest is the body of POST /init. 409 Conflict means the storage was
// already initialized.
type InitRequest struct {
	DBPath string `json:"dbPath"`
}

// LifetimeRequest is the body of POST /lifetime; Interval is the renewal
// period the client commits to, in seconds.
type LifetimeRequest struct {
	Interval int `json:"interval"`
}

// NewLifetimeRequest rounds d up to whole seconds, so a sub-second renewal
// period is announced as 1 rather than the invalid 0.
func NewLifetimeRequest(d time.Duration) LifetimeRequest {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return LifetimeRequest{Interval: secs}
}

// LifetimeResponse is the body of POST /lifetime.
type LifetimeResponse struct {
	ID string `json:"id"`
}
