package resources

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/versioning"
)

// LockFile is the version lock name inside a channel directory.
const LockFile = "version-lock.json"

// ErrLockNotFound is returned by ReadLock when nothing has been installed yet.
var ErrLockNotFound = ferrors.NewError(ferrors.CategoryNotFound, "version lock not found").Build()

// LockEntry records one installed resource.
type LockEntry struct {
	Version    string    `json:"version"`
	UpdateTime time.Time `json:"updateTime"`
	// Digest is the BLAKE3 hex digest of the archive the server payload was
	// extracted from.
	Digest string `json:"digest,omitempty"`
}

// VersionLock is the on-disk record of installed resource versions.
type VersionLock struct {
	Server   *LockEntry `json:"server,omitempty"`
	Frontend *LockEntry `json:"frontend,omitempty"`
	Cli      *LockEntry `json:"cli,omitempty"`
}

// Entry returns the entry for kind, or nil.
func (l *VersionLock) Entry(kind Kind) *LockEntry {
	switch kind {
	case KindServer:
		return l.Server
	case KindFrontend:
		return l.Frontend
	case KindCli:
		return l.Cli
	}
	return nil
}

func (l *VersionLock) clone() *VersionLock {
	cp := func(e *LockEntry) *LockEntry {
		if e == nil {
			return nil
		}
		c := *e
		return &c
	}
	return &VersionLock{Server: cp(l.Server), Frontend: cp(l.Frontend), Cli: cp(l.Cli)}
}

// ReadLock reads the lock at path and validates every recorded version.
func ReadLock(path string) (*VersionLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrLockNotFound.WithContext("path", path)
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read version lock").
			WithContext("path", path).
			Build()
	}
	var lock VersionLock
	if err := json.Unmarshal(jsonc.ToJSON(data), &lock); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "malformed version lock").
			WithContext("path", path).
			Build()
	}
	for _, kind := range []Kind{KindServer, KindFrontend, KindCli} {
		e := lock.Entry(kind)
		if e == nil {
			continue
		}
		if _, err := versioning.Parse(e.Version); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid version in lock").
				WithContext("path", path).
				WithContext("resource", string(kind)).
				Build()
		}
	}
	return &lock, nil
}

// WriteLock persists lock atomically.
func WriteLock(path string, lock *VersionLock) error {
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal version lock").Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create lock directory").
			WithContext("path", path).
			Build()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write version lock").
			WithContext("path", tmp).
			Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to replace version lock").
			WithContext("path", path).
			Build()
	}
	return nil
}
