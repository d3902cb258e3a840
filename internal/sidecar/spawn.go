package sidecar

import "context"

// Spawner starts the sidecar detached from the calling process.
type Spawner interface {
	// Spawn starts command with its output appended to logPath and returns
	// the child pid.
	Spawn(ctx context.Context, command []string, logPath string) (int, error)
}

// ProcessSpawner is the Spawner used outside tests.
type ProcessSpawner struct{}
