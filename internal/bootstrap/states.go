// Package bootstrap drives the application from cold start to a usable
// state. It composes the AppData store, the resource synchronizer and the
// sidecar supervisor into the single AppState a UI observes, plus the nested
// first-run Init sequence.
//
// Background work (fastboot pre-start, post-login open, init) runs as named
// tasks; outcomes are delivered through SubscribeState and SubscribeInit.
package bootstrap

import (
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
)

// AppState is the outer state gating the UI.
type AppState string

const (
	AppStateNotInit         AppState = "NOT_INIT"
	AppStateLoading         AppState = "LOADING"
	AppStateLoadingResource AppState = "LOADING_RESOURCE"
	AppStateLoadingServer   AppState = "LOADING_SERVER"
	AppStateNotLogin        AppState = "NOT_LOGIN"
	AppStateLoaded          AppState = "LOADED"
)

// InitState tracks the nested first-run sequence.
type InitState string

const (
	// InitStateIdle means Init has not been requested.
	InitStateIdle                       InitState = ""
	InitStateInitializing               InitState = "INITIALIZING"
	InitStateInitializingAppData        InitState = "INITIALIZING_APPDATA"
	InitStateInitializingResource       InitState = "INITIALIZING_RESOURCE"
	InitStateInitializingServer         InitState = "INITIALIZING_SERVER"
	InitStateInitializingServerDatabase InitState = "INITIALIZING_SERVER_DATABASE"
	InitStateFinish                     InitState = "FINISH"
	InitStateError                      InitState = "ERROR"
)

// Running reports whether an Init sequence is in flight.
func (s InitState) Running() bool {
	switch s {
	case InitStateIdle, InitStateFinish, InitStateError:
		return false
	default:
		return true
	}
}

// StateEvent announces an AppState change, or a failure reported while in
// State when Err is set.
type StateEvent struct {
	State AppState
	Err   error
}

// InitEvent announces an InitState change. Err is set with InitStateError.
type InitEvent struct {
	State InitState
	Err   error
}

// LoginResult is the immediate answer to a login attempt. OK with State
// LOADING_SERVER is provisional; LOADED arrives through SubscribeState.
type LoginResult struct {
	OK    bool
	State AppState
	Err   error
}

// InitConfig carries the choices made on the first-run screen.
type InitConfig struct {
	// Password is plaintext; nil configures no password.
	Password     *string
	TouchID      bool
	Fastboot     bool
	DBPath       string
	DatabaseName string
}

// DefaultDatabaseName names the database created by Init.
const DefaultDatabaseName = "main"

var (
	// ErrInvalidState is returned by calls made from a state that does not
	// allow them.
	ErrInvalidState = ferrors.StateError("operation not valid in current state").Build()
	// ErrNotLoaded is returned by Load before AppData has been read.
	ErrNotLoaded = ferrors.StateError("appdata not loaded").Build()
	// ErrServerStopped means the start task ended without the sidecar
	// reaching the awaited status.
	ErrServerStopped = ferrors.SidecarError("sidecar start ended before reaching status").Build()
)
