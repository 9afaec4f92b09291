package chronicle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chronicle/internal/hlc"
	"go-chronicle/internal/index"
	"go-chronicle/internal/journal"
	"go-chronicle/internal/lock"
)

// seededJournal wraps an in-memory journal but reports a fixed
// HighestTimestamp, standing in for a journal recovered from a prior
// process's writes (spec.md S4: restart must never regress the clock).
type seededJournal struct {
	*journal.Memory
	floor hlc.Timestamp
}

func (j *seededJournal) HighestTimestamp(ctx context.Context) (hlc.Timestamp, error) {
	return j.floor, nil
}

// S4 — Build must seed the clock's floor from the journal's highest
// recorded timestamp when no clock is explicitly supplied, so a restart
// against the same journal never issues a timestamp below what was
// already durably recorded.
func TestBuilder_BuildSeedsClockFloorFromJournal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	floor := hlc.Timestamp{WallMillis: 9_999_999_999_999, Logical: 7}
	j := &seededJournal{Memory: journal.NewMemory(), floor: floor}

	repo, err := NewBuilder().
		WithJournal(j).
		WithLockProvider(lock.NewMemory()).
		WithIndexEngine(index.NewMemory()).
		Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, floor, repo.GetTimestamp(), "clock must start at the journal's highest recorded timestamp, not zero")
}

// With an explicit Clock supplied, Build must not override it with the
// journal's floor.
func TestBuilder_BuildDoesNotOverrideExplicitClock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	floor := hlc.Timestamp{WallMillis: 9_999_999_999_999, Logical: 7}
	j := &seededJournal{Memory: journal.NewMemory(), floor: floor}
	explicit := hlc.New(hlc.Timestamp{})

	repo, err := NewBuilder().
		WithJournal(j).
		WithLockProvider(lock.NewMemory()).
		WithIndexEngine(index.NewMemory()).
		WithClock(explicit).
		Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, hlc.Timestamp{}, repo.GetTimestamp())
}
