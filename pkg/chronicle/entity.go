// Package chronicle is the public API of the event-sourcing repository:
// entities, commands, built-in events, configuration, and the repository
// facade that ties the HLC, layout engine, codec, journal, lock provider,
// index engine and command consumer together.
package chronicle

import (
	"github.com/google/uuid"

	"go-chronicle/internal/hlc"
	"go-chronicle/internal/layout"
)

// Entity is the common identity every Command and Event carries.
type Entity struct {
	ID          uuid.UUID
	Timestamp   hlc.Timestamp
	Fingerprint layout.Fingerprint
}

// EventCausalityEstablished declares a causal edge from an event back to
// the command that produced it.
type EventCausalityEstablished struct {
	EventID uuid.UUID `layout:"event_id"`
	CauseID uuid.UUID `layout:"cause_id"`
}

// CommandTerminatedExceptionally is recorded when an in-progress command
// fails partway through execution.
type CommandTerminatedExceptionally struct {
	Message string `layout:"message"`
}

// EntityLayoutIntroduced is recorded once per newly observed entity type,
// before the first entity bearing that fingerprint.
type EntityLayoutIntroduced struct {
	Fingerprint []byte `layout:"fingerprint"`
	Schema      []byte `layout:"schema"`
}

// HostErrorOccurred captures an opaque host-side failure raised by a
// command's execute function. Named per the rename noted in spec.md §3
// (formerly JavaExceptionOccurred).
type HostErrorOccurred struct {
	Detail string `layout:"detail"`
}
