package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/aulachat/aulachat/internal/logger"
)

// ErrLocked is returned when another server process owns the data directory.
var ErrLocked = errors.New("another aulachat process is already running")

// lockfile enforces the single-process authority over the data directory.
type lockfile struct {
	path   string
	locked bool
}

func newLockfile(path string) *lockfile {
	return &lockfile{path: path}
}

// TryAcquire creates the lock file exclusively, writing this process's PID.
// A leftover lock from a dead process is treated as stale and replaced.
func (l *lockfile) TryAcquire() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if os.IsExist(err) {
		if !l.isStale() {
			return ErrLocked
		}
		logger.Warn("Removing stale lockfile %s", l.path)
		if err := os.Remove(l.path); err != nil {
			return fmt.Errorf("failed to remove stale lockfile: %w", err)
		}
		file, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	}
	if err != nil {
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	_, writeErr := fmt.Fprintf(file, "%d", os.Getpid())
	if closeErr := file.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lockfile: %w", writeErr)
	}

	l.locked = true
	return nil
}

// isStale reports whether the lock belongs to a process that no longer runs.
func (l *lockfile) isStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// Release removes the lock file if this process holds it.
func (l *lockfile) Release() {
	if !l.locked {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove lockfile %s: %v", l.path, err)
	}
	l.locked = false
}
