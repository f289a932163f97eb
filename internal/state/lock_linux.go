// SPDX-License-Identifier: MPL-2.0

//go:build linux

package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLockContention is returned by TryAcquire when another vellum
// invocation holds the lock.
var ErrLockContention = errors.New("another vellum invocation is running")

// lockFileName guards the drift-check, resync, and operate sequence
// against concurrent invocations. The zero-byte file is harmless if
// orphaned — the kernel releases the flock when the fd closes,
// including on process crash.
const lockFileName = "lock"

// Lock holds an exclusive flock on a well-known file under the state
// directory, serializing invocations across processes.
type Lock struct {
	file *os.File
}

// Acquire blocks until the exclusive lock is available. Interactive
// commands use this: waiting briefly for a background invocation to
// finish beats failing.
func (s *Store) Acquire() (*Lock, error) {
	return s.lock(0)
}

// TryAcquire acquires the lock or fails immediately with
// ErrLockContention. Automated triggers use this so they never pile up
// behind a long-running operation.
func (s *Store) TryAcquire() (*Lock, error) {
	return s.lock(unix.LOCK_NB)
}

func (s *Store) lock(flags int) (*Lock, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|flags); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLockContention
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file. Safe to call multiple
// times; subsequent calls are no-ops.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	// LOCK_UN before Close for explicitness; Close also releases the flock.
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		slog.Debug("flock unlock failed", "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Debug("lock file close failed", "error", err)
	}
	l.file = nil
}
