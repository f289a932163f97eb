// SPDX-License-Identifier: MPL-2.0

//go:build linux

package state

import (
	"errors"
	"testing"
)

func TestTryAcquireFailsWhileHeld(t *testing.T) {
	store := NewStore(t.TempDir())

	held, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	// flock is per-fd, so a second open descriptor in the same process
	// observes the contention exactly like a second process would.
	if _, err := store.TryAcquire(); !errors.Is(err, ErrLockContention) {
		t.Errorf("TryAcquire while held = %v, want ErrLockContention", err)
	}

	held.Release()
	second, err := store.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	second.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	lock, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	lock.Release()
	lock.Release() // must not panic or error

	var nilLock *Lock
	nilLock.Release() // nil receiver is a no-op
}
