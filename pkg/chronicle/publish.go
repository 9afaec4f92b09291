package chronicle

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"go-chronicle/internal/consumer"
)

// iteratorAdapter lets a chronicle.EventIterator satisfy the type-erased
// consumer.Iterator contract, since Go forbids a generic method on
// Repository (publish needs its own type parameter R, which only a
// package-level function can carry).
type iteratorAdapter struct {
	inner EventIterator
}

func (a iteratorAdapter) Next(ctx context.Context) (consumer.EventDraft, bool, error) {
	d, ok, err := a.inner.Next(ctx)
	return consumer.EventDraft{Type: d.Type, Payload: d.Payload}, ok, err
}

func (a iteratorAdapter) Result() (any, error) {
	return a.inner.Result()
}

// Publish submits cmd to the repository's command consumer and returns a
// Future that resolves once the full eight-step protocol has run to
// completion (spec.md §4.7). Cancelling ctx only has an effect while the
// command is still queued; once a worker starts executing it, the
// pipeline runs to completion regardless (spec.md §5).
func Publish[R any](ctx context.Context, r *Repository, cmd Command[R]) (*Future[R], error) {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state != StateRunning && state != StateStarting {
		return nil, &IllegalStateError{RepositoryError: RepositoryError{Op: "Publish"}, State: state.String()}
	}

	future := newFuture[R]()

	sub := consumer.NewSubmission(ctx, uuid.New(), cmd.Type, cmd.Payload, cmd.Locks,
		func(ctx context.Context) (consumer.Iterator, error) {
			it, err := cmd.Execute(ctx)
			if err != nil {
				return nil, err
			}
			return iteratorAdapter{inner: it}, nil
		},
		func(outcome consumer.Outcome, accumulator any, err error) {
			var result Result[R]
			switch outcome {
			case consumer.Succeeded:
				if cmd.OnCompletion != nil {
					v, cerr := cmd.OnCompletion(accumulator)
					if cerr != nil {
						result = Result[R]{Outcome: Failed, Err: cerr}
					} else {
						result = Result[R]{Outcome: Succeeded, Value: v}
					}
				} else {
					result = Result[R]{Outcome: Succeeded}
				}
			default:
				result = Result[R]{Outcome: Failed, Err: classifyFailure(err)}
			}
			future.resolve(result)
		},
	)

	if err := r.consumer.Submit(ctx, sub); err != nil {
		return nil, err
	}
	return future, nil
}

// classifyFailure wraps a raw pipeline error into the typed
// RepositoryError family (spec.md §7) so callers can distinguish
// failure kinds with errors.As instead of string matching.
func classifyFailure(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, consumer.ErrLockTimeout):
		return &LockTimeoutError{RepositoryError: RepositoryError{Op: "Publish", Err: err}}
	case errors.Is(err, consumer.ErrJournalFailure):
		return &JournalErrorKind{RepositoryError: RepositoryError{Op: "Publish", Err: err}}
	case errors.Is(err, consumer.ErrSerialization):
		return &SerializationErrorKind{RepositoryError: RepositoryError{Op: "Publish", Err: err}}
	default:
		return &HostErrorKind{RepositoryError: RepositoryError{Op: "Publish", Err: err}, Detail: err.Error()}
	}
}
