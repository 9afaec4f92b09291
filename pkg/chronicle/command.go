package chronicle

import "context"

// EventDraft is one event yielded by a command's Execute before it has
// been stamped, causally linked, or serialized.
type EventDraft struct {
	Type    string
	Payload any
}

// EventIterator is the pull-based replacement for the source's lazy
// event stream (spec.md §9 design note): the consumer drives it one
// event at a time, then calls Result once the iterator is exhausted.
type EventIterator interface {
	// Next returns the next event to append, or ok=false once the
	// stream is finished. A non-nil error is a host-side failure and
	// aborts the remaining stream.
	Next(ctx context.Context) (draft EventDraft, ok bool, err error)

	// Result returns the terminal accumulator, valid only after Next
	// has returned ok=false with a nil error.
	Result() (accumulator any, err error)
}

// Command describes an intent: a named lock set, a lazy event-producing
// Execute, and an OnCompletion mapping the terminal accumulator to the
// command's result value R. Once published, a Command is immutable —
// nothing here mutates after Publish is called.
type Command[R any] struct {
	// Type names the command for layout derivation and registration.
	Type string

	// Payload is the command's own typed data, used to derive its
	// layout and to serialize it into the journal.
	Payload any

	// Locks lists the advisory lock names this command must hold for
	// the duration of Execute.
	Locks []string

	// Execute runs the user's command logic, returning an iterator over
	// the events it produces.
	Execute func(ctx context.Context) (EventIterator, error)

	// OnCompletion maps the iterator's terminal accumulator to the
	// command's result. If nil, R must be the zero value and the
	// accumulator is ignored.
	OnCompletion func(accumulator any) (R, error)
}

// Outcome is the kind of terminal state a published command resolved
// to, used by Failed results to classify the failure (spec.md §7).
type Outcome int

const (
	// Succeeded means the command's events were appended and its
	// result is valid.
	Succeeded Outcome = iota
	Failed
)

// Result is what a published command's future resolves to.
type Result[R any] struct {
	Outcome Outcome
	Value   R
	Err     error
}
