//go:build unix

package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spawn starts the child in its own session so it outlives this process and
// is not hit by terminal signals aimed at us.
func (ProcessSpawner) Spawn(_ context.Context, command []string, logPath string) (int, error) {
	if len(command) == 0 {
		return 0, errors.New("empty sidecar command")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", command[0], err)
	}
	// Reap the child if it exits while we are alive; an unreaped zombie
	// would still pass the liveness probe.
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}

// pidAlive probes pid with signal 0. EPERM means it exists under another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
