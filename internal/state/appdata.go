package state

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/migration"
)

// AppDataFile is the AppData document name inside a channel directory.
const AppDataFile = "appdata.json"

// DefaultWebPort is the port the bundled frontend is served on unless the
// user picked another one.
const DefaultWebPort = 7860

// LoginOption controls how the user unlocks the application. A nil Password
// means no password is configured; otherwise it holds a bcrypt hash.
type LoginOption struct {
	Password *string `json:"password"`
	TouchID  bool    `json:"touchID"`
	Fastboot bool    `json:"fastboot"`
}

// Database is one database known to the application.
type Database struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// WebOption configures the browser-facing frontend.
type WebOption struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	OpenBrowser bool   `json:"openBrowser"`
}

// AppData is the per-channel application document.
type AppData struct {
	Version     string      `json:"version"`
	LoginOption LoginOption `json:"loginOption"`
	Databases   []Database  `json:"databases"`
	WebOption   WebOption   `json:"webOption"`
}

// Clone returns a deep copy.
func (a AppData) Clone() AppData {
	out := a
	if a.LoginOption.Password != nil {
		p := *a.LoginOption.Password
		out.LoginOption.Password = &p
	}
	out.Databases = slices.Clone(a.Databases)
	return out
}

// HasPassword reports whether a password is configured.
func (a AppData) HasPassword() bool {
	return a.LoginOption.Password != nil
}

// HashPassword returns the stored form of a plaintext password.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryInternal, "failed to hash password").Build()
	}
	return string(h), nil
}

// CheckPassword reports whether input matches the stored hash. A nil stored
// password accepts any input.
func CheckPassword(stored *string, input string) bool {
	if stored == nil {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(*stored), []byte(input)) == nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// appDataSteps upgrade older AppData documents. The highest key is the
// version new documents are written with.
var appDataSteps = migration.Steps[*AppData]{
	"0.1.0": func(_ context.Context, a *AppData) error {
		if a.Databases == nil {
			a.Databases = []Database{}
		}
		return nil
	},
	"0.2.0": func(_ context.Context, a *AppData) error {
		if a.WebOption.Host == "" {
			a.WebOption.Host = "127.0.0.1"
		}
		if a.WebOption.Port == 0 {
			a.WebOption.Port = DefaultWebPort
		}
		return nil
	},
	// Documents before 0.3.0 kept the password in plaintext; an empty one
	// meant "no password".
	"0.3.0": func(_ context.Context, a *AppData) error {
		p := a.LoginOption.Password
		if p == nil || isBcryptHash(*p) {
			return nil
		}
		if *p == "" {
			a.LoginOption.Password = nil
			return nil
		}
		h, err := HashPassword(*p)
		if err != nil {
			return err
		}
		a.LoginOption.Password = &h
		return nil
	},
}

var appDataVersion = migration.Accessor[*AppData]{
	Get: func(a *AppData) string { return a.Version },
	Set: func(a *AppData, v string) { a.Version = v },
}

// AppDataStore owns the AppData document of one channel.
type AppDataStore struct {
	doc documentStore[AppData]
}

// NewAppDataStore returns a store for the document at path. Nothing is read
// until Load.
func NewAppDataStore(path string) *AppDataStore {
	return &AppDataStore{doc: documentStore[AppData]{
		path:  path,
		kind:  "appdata",
		steps: appDataSteps,
		acc:   appDataVersion,
		clone: AppData.Clone,
	}}
}

// Path returns the document location.
func (s *AppDataStore) Path() string { return s.doc.path }

// Exists reports whether the document is present on disk.
func (s *AppDataStore) Exists() bool { return s.doc.exists() }

// Load reads and, when behind, migrates and re-persists the document.
// A missing document yields ErrNotFound.
func (s *AppDataStore) Load(ctx context.Context) (AppData, error) {
	return s.doc.load(ctx)
}

// Peek reads the document as stored, without migrating or caching it.
func (s *AppDataStore) Peek() (AppData, error) {
	doc, err := readDocument[AppData](s.doc.path)
	if err != nil {
		return AppData{}, err
	}
	return *doc, nil
}

// Create writes a new document at the current version, replacing any
// existing one.
func (s *AppDataStore) Create(data AppData) error {
	return s.doc.create(data)
}

// Get returns a copy of the loaded document.
func (s *AppDataStore) Get() (AppData, bool) {
	return s.doc.snapshot()
}

// Loaded reports whether Load or Create has succeeded.
func (s *AppDataStore) Loaded() bool {
	_, ok := s.doc.snapshot()
	return ok
}

// Update mutates the loaded document with fn and persists the result. The
// cached copy is unchanged if fn or the write fails.
func (s *AppDataStore) Update(ctx context.Context, fn func(*AppData) error) error {
	return s.doc.update(ctx, fn)
}

// TargetVersion is the version new documents are written with.
func (s *AppDataStore) TargetVersion() string { return s.doc.target() }

// PendingAppDataMigrations lists the steps a document at version would need.
func PendingAppDataMigrations(version string) ([]string, error) {
	return migration.Pending(version, appDataSteps)
}
