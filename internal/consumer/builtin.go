package consumer

import "github.com/google/uuid"

// The built-in entity kinds the pipeline itself emits (spec.md §3). They
// are re-declared here, rather than imported from pkg/chronicle, so this
// package has no dependency on the public API it is wired into — only
// the wire shape matters for layout derivation and encoding.

const (
	typeEventCausalityEstablished = "EventCausalityEstablished"
	typeCommandTerminated         = "CommandTerminatedExceptionally"
	typeHostErrorOccurred         = "HostErrorOccurred"
)

type eventCausalityEstablished struct {
	EventID uuid.UUID `layout:"event_id"`
	CauseID uuid.UUID `layout:"cause_id"`
}

type commandTerminatedExceptionally struct {
	Message string `layout:"message"`
}

type hostErrorOccurred struct {
	Detail string `layout:"detail"`
}
