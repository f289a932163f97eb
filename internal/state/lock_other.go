// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package state

import "errors"

// ErrLockContention is returned by TryAcquire when another vellum
// invocation holds the lock.
var ErrLockContention = errors.New("another vellum invocation is running")

// Lock is a no-op on non-Linux platforms. The device is always Linux;
// this stub only keeps development builds working.
type Lock struct{}

// Acquire is a no-op on non-Linux platforms.
func (s *Store) Acquire() (*Lock, error) { return &Lock{}, nil }

// TryAcquire is a no-op on non-Linux platforms.
func (s *Store) TryAcquire() (*Lock, error) { return &Lock{}, nil }

// Release is a no-op.
func (l *Lock) Release() {}
