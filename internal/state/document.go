package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/migration"
)

// ErrNotFound is returned when a document has never been created.
var ErrNotFound = ferrors.NewError(ferrors.CategoryNotFound, "document not found").Build()

// ErrNotLoaded is returned by Update before the document was loaded or created.
var ErrNotLoaded = ferrors.StateError("document not loaded").Build()

// documentStore is the shared load/migrate/persist machinery behind
// AppDataStore and ConfigurationStore.
type documentStore[T any] struct {
	path  string
	kind  string
	steps migration.Steps[*T]
	acc   migration.Accessor[*T]
	clone func(T) T

	mu    sync.RWMutex
	value *T
}

func (s *documentStore[T]) exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// target is the version a freshly created or fully migrated document carries.
func (s *documentStore[T]) target() string {
	v, err := migration.Latest(s.steps)
	if err != nil {
		// Step keys are compile-time constants covered by tests.
		panic(err)
	}
	return v
}

func (s *documentStore[T]) load(ctx context.Context) (T, error) {
	var zero T
	doc, err := readDocument[T](s.path)
	if err != nil {
		return zero, err
	}

	before := s.acc.Get(doc)
	pending, err := migration.Pending(before, s.steps)
	if err != nil {
		return zero, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid document version").
			WithContext("document", s.kind).
			WithContext("path", s.path).
			Build()
	}
	if len(pending) > 0 {
		slog.Info("Migrating document",
			slog.String("document", s.kind),
			slog.String("from", before),
			logfields.Version(pending[len(pending)-1]))
		if err := migration.Run(ctx, doc, s.steps, s.acc); err != nil {
			return zero, err
		}
		if err := writeDocument(s.path, doc); err != nil {
			return zero, err
		}
	}

	s.mu.Lock()
	s.value = doc
	s.mu.Unlock()
	return s.clone(*doc), nil
}

func (s *documentStore[T]) create(v T) error {
	doc := s.clone(v)
	s.acc.Set(&doc, s.target())
	if err := writeDocument(s.path, &doc); err != nil {
		return err
	}
	s.mu.Lock()
	s.value = &doc
	s.mu.Unlock()
	return nil
}

func (s *documentStore[T]) snapshot() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.value == nil {
		var zero T
		return zero, false
	}
	return s.clone(*s.value), true
}

// update applies fn to a copy and persists it; the cached value only changes
// when both fn and the write succeed.
func (s *documentStore[T]) update(ctx context.Context, fn func(*T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		return ErrNotLoaded.WithContext("document", s.kind)
	}
	next := s.clone(*s.value)
	if err := fn(&next); err != nil {
		return err
	}
	if err := writeDocument(s.path, &next); err != nil {
		return err
	}
	s.value = &next
	return nil
}

func readDocument[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound.WithContext("path", path)
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read document").
			WithContext("path", path).
			Build()
	}
	doc := new(T)
	if err := json.Unmarshal(jsonc.ToJSON(data), doc); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "malformed document").
			WithContext("path", path).
			Build()
	}
	return doc, nil
}

// writeDocument persists v atomically using a temporary file.
func writeDocument(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal document").Build()
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create document directory").
			WithContext("path", path).
			Build()
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write temporary document").
			WithContext("path", tempPath).
			Build()
	}
	if err := os.Rename(tempPath, path); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to replace document").
			WithContext("path", path).
			Build()
	}
	return nil
}
