// Package biometric abstracts the platform biometric prompt used for login.
//
// The orchestrator only needs a yes/no answer: Prompt returns nil when the
// user was verified, ErrCanceled when they dismissed the prompt, and
// ErrUnavailable when the platform cannot prompt at all.
package biometric

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
)

var (
	ErrUnavailable = ferrors.AuthError("biometric authentication unavailable").Build()
	ErrCanceled    = ferrors.AuthError("biometric prompt canceled").UserAction().Build()
	ErrRejected    = ferrors.AuthError("biometric verification failed").UserAction().Build()
)

// Prompter asks the platform to verify the user.
type Prompter interface {
	Available() bool
	Prompt(ctx context.Context, reason string) error
}

// Unsupported is the prompter for platforms without biometric hardware.
type Unsupported struct{}

func (Unsupported) Available() bool                      { return false }
func (Unsupported) Prompt(context.Context, string) error { return ErrUnavailable }

// Command verifies by running an external helper such as fprintd-verify.
// Exit status 0 verifies; any other exit is a rejection; a canceled ctx is a
// cancellation.
type Command struct {
	Argv []string
}

// New returns a Command prompter for argv, or Unsupported when argv is empty.
func New(argv []string) Prompter {
	if len(argv) == 0 {
		return Unsupported{}
	}
	return Command{Argv: argv}
}

func (c Command) Available() bool {
	if len(c.Argv) == 0 {
		return false
	}
	_, err := exec.LookPath(c.Argv[0])
	return err == nil
}

func (c Command) Prompt(ctx context.Context, reason string) error {
	if !c.Available() {
		return ErrUnavailable
	}
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	slog.Debug("Requesting biometric verification", logfields.Task(reason))
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ErrCanceled.WithContext("reason", ctx.Err().Error())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ErrRejected.WithContext("exit_code", exitErr.ExitCode())
	}
	return ferrors.WrapError(err, ferrors.CategoryAuth, "biometric helper failed").
		WithContext("command", c.Argv[0]).
		Build()
}
