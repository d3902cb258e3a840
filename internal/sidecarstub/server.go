// Package sidecarstub implements the sidecar contract for local development
// and tests: bearer-authenticated health, storage init and lifetime leases,
// plus the status record handshake.
package sidecarstub

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarapi"
)

// DefaultLeaseWindow is how long a lease survives without renewal.
const DefaultLeaseWindow = 120 * time.Second

var (
	errUnauthorized     = ferrors.AuthError("invalid bearer token").Build()
	errLeaseNotFound    = ferrors.NewError(ferrors.CategoryNotFound, "lease not found").Build()
	errAlreadyInit      = ferrors.NewError(ferrors.CategoryAlreadyExists, "storage already initialized").Build()
	errInvalidInitBody  = ferrors.ValidationError("dbPath is required").Build()
	errInvalidLeaseBody = ferrors.ValidationError("interval must be positive").Build()
)

// Options configures a stub server.
type Options struct {
	// Token is the bearer credential; generated when empty.
	Token       string
	Version     string
	LeaseWindow time.Duration
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

// Stats is a snapshot of the requests a Server handled.
type Stats struct {
	Health       int
	Creates      int
	Renewals     int
	Deletes      int
	ActiveLeases int
	DBPath       string
}

// Server is the in-process sidecar.
type Server struct {
	token   string
	version string
	window  time.Duration
	clock   clockwork.Clock
	errs    *ferrors.HTTPErrorAdapter
	log     *slog.Logger

	mu     sync.Mutex
	leases map[string]time.Time // id -> expiry
	stats  Stats
	// hadLease becomes true with the first lease, so Idle only fires after a
	// client has come and gone.
	hadLease bool
}

func New(opts Options) *Server {
	if opts.Token == "" {
		opts.Token = uuid.NewString()
	}
	if opts.LeaseWindow <= 0 {
		opts.LeaseWindow = DefaultLeaseWindow
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		token:   opts.Token,
		version: opts.Version,
		window:  opts.LeaseWindow,
		clock:   opts.Clock,
		errs:    ferrors.NewHTTPErrorAdapter(opts.Logger),
		log:     opts.Logger,
		leases:  make(map[string]time.Time),
	}
}

// Token returns the bearer credential clients must present.
func (s *Server) Token() string { return s.token }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Get(sidecarapi.PathHealth, s.handleHealth)
	r.Post(sidecarapi.PathInit, s.handleInit)
	r.Route(sidecarapi.PathLifetime, func(r chi.Router) {
		r.Post("/", s.handleLeaseCreate)
		r.Put("/{id}", s.handleLeaseRenew)
		r.Delete("/{id}", s.handleLeaseDelete)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.errs.WriteErrorResponse(w, r, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.stats.Health++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, sidecarapi.HealthResponse{Status: "ok", Version: s.version})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req sidecarapi.InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DBPath == "" {
		s.errs.WriteErrorResponse(w, r, errInvalidInitBody)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.DBPath != "" {
		s.errs.WriteErrorResponse(w, r, errAlreadyInit.WithContext("dbPath", s.stats.DBPath))
		return
	}
	s.stats.DBPath = req.DBPath
	s.log.Info("Storage initialized", logfields.Path(req.DBPath))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaseCreate(w http.ResponseWriter, r *http.Request) {
	var req sidecarapi.LifetimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Interval <= 0 {
		s.errs.WriteErrorResponse(w, r, errInvalidLeaseBody)
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.leases[id] = s.clock.Now().Add(s.window)
	s.hadLease = true
	s.stats.Creates++
	s.mu.Unlock()
	s.log.Debug("Lease created", logfields.LeaseID(id), slog.Int("interval_s", req.Interval))
	writeJSON(w, http.StatusCreated, sidecarapi.LifetimeResponse{ID: id})
}

func (s *Server) handleLeaseRenew(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[id]; !ok {
		s.errs.WriteErrorResponse(w, r, errLeaseNotFound.WithContext("id", id))
		return
	}
	s.leases[id] = s.clock.Now().Add(s.window)
	s.stats.Renewals++
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaseDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[id]; !ok {
		s.errs.WriteErrorResponse(w, r, errLeaseNotFound.WithContext("id", id))
		return
	}
	delete(s.leases, id)
	s.stats.Deletes++
	w.WriteHeader(http.StatusNoContent)
}

// Sweep drops expired leases and reports whether the server is idle: it
// has served a lease before and none is left.
func (s *Server) Sweep() bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, expiry := range s.leases {
		if now.After(expiry) {
			delete(s.leases, id)
			s.log.Info("Lease expired", logfields.LeaseID(id))
		}
	}
	return s.hadLease && len(s.leases) == 0
}

// Stats returns a snapshot of handled requests.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.ActiveLeases = len(s.leases)
	return st
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
