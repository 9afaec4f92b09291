// Package journal defines the durable, transactional append contract (C4)
// that the command consumer drives, plus two concrete adapters: an
// in-memory one for tests and embedding, and a PostgreSQL one grounded on
// the teacher event store's pgx transaction and batch-insert machinery.
package journal

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"go-chronicle/internal/hlc"
	"go-chronicle/internal/layout"
)

// EntityMeta is the header every persisted entity carries: identity,
// causal timestamp, and schema fingerprint.
type EntityMeta struct {
	ID          uuid.UUID
	Timestamp   hlc.Timestamp
	Fingerprint layout.Fingerprint
}

// CommandRecord is a command entity as the journal persists it.
type CommandRecord struct {
	Meta    EntityMeta
	Type    string
	Payload []byte
}

// EventRecord is an event entity as the journal persists it.
type EventRecord struct {
	Meta    EntityMeta
	Type    string
	Payload []byte
	CauseID uuid.UUID // zero value means "no causing command/event"
}

// LayoutIntroduction is the durable record of an EntityLayoutIntroduced
// event: it lets the journal reject entities whose fingerprint it has
// never seen without replaying the whole log (spec.md §4.4).
type LayoutIntroduction struct {
	Fingerprint layout.Fingerprint
	Schema      []byte
}

// ErrUnknownFingerprint is wrapped by a Tx when an append references a
// fingerprint with no preceding LayoutIntroduction.
var ErrUnknownFingerprint = errors.New("journal: fingerprint not introduced")

// ErrAborted is returned by operations attempted on a Tx that has already
// been committed or aborted.
var ErrAborted = errors.New("journal: transaction already aborted")

// Tx is a single journal transaction. Every entity appended through it
// becomes visible atomically on Commit, or not at all on Abort. In the
// in-memory adapter an un-committed Tx is simply never applied; in the
// Postgres adapter Abort issues a real ROLLBACK.
type Tx interface {
	AppendLayoutIntroduction(ctx context.Context, intro LayoutIntroduction) error
	AppendCommand(ctx context.Context, cmd CommandRecord) error
	AppendEvent(ctx context.Context, ev EventRecord) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Filter selects events for IterEvents.
type Filter struct {
	Types []string        // empty = all types
	From  *hlc.Timestamp  // nil = from the beginning
}

// EventIterator is a lazy pull-based stream of events matching a Filter.
// The Postgres adapter yields events ordered by HLC timestamp; the Memory
// adapter yields them in commit order and does not re-sort them.
type EventIterator interface {
	Next() bool
	Event() EventRecord
	Err() error
	Close() error
}

// Journal is the durable, transactional append contract (spec.md §4.4).
type Journal interface {
	Begin(ctx context.Context) (Tx, error)

	// KnownFingerprint reports whether fingerprint has a durable
	// LayoutIntroduction, so the consumer can decide whether it needs to
	// synthesize one before appending an entity of that type.
	KnownFingerprint(ctx context.Context, fp layout.Fingerprint) (bool, error)

	// IterEvents streams committed events matching filter.
	IterEvents(ctx context.Context, filter Filter) (EventIterator, error)

	// HighestTimestamp returns the greatest HLC timestamp durably
	// recorded, used to seed the clock's floor on restart (spec.md S4).
	HighestTimestamp(ctx context.Context) (hlc.Timestamp, error)

	// InstalledEventTypes returns the distinct event types ever
	// committed, backing Repository.InstalledEvents().
	InstalledEventTypes(ctx context.Context) ([]string, error)

	// InstalledCommandTypes returns the distinct command types ever
	// committed, backing Repository.InstalledCommands().
	InstalledCommandTypes(ctx context.Context) ([]string, error)

	Close(ctx context.Context) error
}
