//go:build !unix

package sidecar

import (
	"context"
	"errors"
)

func (ProcessSpawner) Spawn(context.Context, []string, string) (int, error) {
	return 0, errors.ErrUnsupported
}

// pidAlive cannot probe here; records are trusted until the poll proves otherwise.
func pidAlive(pid int) bool { return pid > 0 }
