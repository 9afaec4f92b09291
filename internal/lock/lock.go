// Package lock implements the named advisory lock provider (C5): a scoped
// acquire/try-acquire contract with two adapters, in-process and
// PostgreSQL-backed, sharing the same sorted-acquisition-order discipline
// the teacher's ExecuteCommandWithLocks already applies.
package lock

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrTimeout is returned by TryAcquire when a lock could not be obtained
// within the given timeout.
var ErrTimeout = errors.New("lock: acquire timed out")

// Guard represents ownership of one or more acquired locks. Release is
// idempotent and must be safe to call on every exit path (including via
// defer after a partial failure).
type Guard interface {
	Release(ctx context.Context) error
}

// Provider acquires named advisory locks. Implementations must support
// both an in-process mode (single binary, no external coordination) and
// an out-of-process/distributed mode behind this same contract.
type Provider interface {
	// Acquire blocks until every name is held, in sorted order, or ctx is
	// done.
	Acquire(ctx context.Context, names []string) (Guard, error)

	// TryAcquire behaves like Acquire but gives up after timeout,
	// returning ErrTimeout.
	TryAcquire(ctx context.Context, names []string, timeout time.Duration) (Guard, error)
}

// SortedNames returns names sorted ascending, the acquisition order every
// Provider must use to prevent deadlock between commands that declare
// overlapping lock sets (spec.md §4.5).
func SortedNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}
