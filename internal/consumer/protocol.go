package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go-chronicle/internal/journal"
	"go-chronicle/internal/layout"
	"go-chronicle/internal/lock"
)

// ErrLockTimeout is returned (wrapped) when a submission could not
// acquire its declared locks before its timeout.
var ErrLockTimeout = errors.New("consumer: lock acquisition timed out")

// ErrJournalFailure is returned (wrapped) when the journal transaction
// could not be begun, appended to, or committed.
var ErrJournalFailure = errors.New("consumer: journal append failed")

// ErrSerialization is returned (wrapped) when the codec could not derive a
// layout for, encode, or decode a command/event payload. Distinct from a
// host (user execute) failure: the error comes from the layout engine or
// codec, not from the user's code.
var ErrSerialization = errors.New("consumer: serialization failed")

type introEntry struct {
	fp     layout.Fingerprint
	schema []byte
}

type appendedRecord struct {
	event  journal.EventRecord
	notify NotifiedEntity
}

// process runs the full eight-step protocol for one submission. It never
// returns a value; the terminal outcome is delivered through
// sub.Complete.
func (c *Consumer) process(sub *Submission) {
	// Cancellation is honored only up to this point (spec.md §5): once a
	// worker has dequeued the submission, the pipeline runs to
	// completion regardless of the caller's context.
	if err := sub.queuedCtx.Err(); err != nil {
		sub.Complete(Failed, nil, err)
		return
	}
	ctx := context.Background()

	var guard lock.Guard
	finish := func(outcome Outcome, accumulator any, err error) {
		if guard != nil {
			_ = guard.Release(context.Background())
			guard = nil
		}
		sub.Complete(outcome, accumulator, err)
	}

	var pending []introEntry

	// 1. Timestamping
	cmdTS := c.clock.Tick()

	// 2. LayoutCheck for the command itself.
	cmdLayout, err := c.layouts.Describe(sub.Payload)
	if err != nil {
		finish(Failed, nil, fmt.Errorf("%w: describe command payload: %v", ErrSerialization, err))
		return
	}
	if err := c.ensureIntroduced(ctx, cmdLayout, &pending); err != nil {
		finish(Failed, nil, err)
		return
	}
	cmdPayloadBytes, err := c.encode(cmdLayout, sub.Payload)
	if err != nil {
		finish(Failed, nil, fmt.Errorf("%w: encode command payload: %v", ErrSerialization, err))
		return
	}

	// 3. Locking
	if len(sub.Locks) > 0 {
		g, err := c.locks.TryAcquire(ctx, sub.Locks, c.cfg.LockTimeout)
		if err != nil {
			finish(Failed, nil, fmt.Errorf("%w: %v", ErrLockTimeout, err))
			return
		}
		guard = g
	}

	// 4. Executing
	var records []appendedRecord
	var hostErr error

	iter, err := sub.NewIterator(ctx)
	if err != nil {
		hostErr = err
	} else {
		for {
			draft, ok, nerr := iter.Next(ctx)
			if nerr != nil {
				hostErr = nerr
				break
			}
			if !ok {
				break
			}

			rec, ierr := c.stampEvent(ctx, sub.ID, draft, &pending)
			if ierr != nil {
				hostErr = ierr
				break
			}
			records = append(records, rec...)
		}
	}

	var accumulator any
	if hostErr == nil {
		accumulator, err = iter.Result()
		if err != nil {
			hostErr = err
		}
	}

	if hostErr != nil {
		// Abandon any user events already buffered for this command and
		// replace them with the failure record pair (spec.md §4.7 step 4).
		records = nil
		failRecs, ferr := c.stampFailure(ctx, sub.ID, hostErr, &pending)
		if ferr != nil {
			finish(Failed, nil, ferr)
			return
		}
		records = failRecs
	}

	// 5. Appending
	appendStarted := time.Now()
	tx, err := c.journal.Begin(ctx)
	if err != nil {
		finish(Failed, nil, fmt.Errorf("%w: begin tx: %v", ErrJournalFailure, err))
		return
	}
	for _, intro := range pending {
		if err := tx.AppendLayoutIntroduction(ctx, journal.LayoutIntroduction{Fingerprint: intro.fp, Schema: intro.schema}); err != nil {
			_ = tx.Abort(ctx)
			finish(Failed, nil, fmt.Errorf("%w: append layout introduction: %v", ErrJournalFailure, err))
			return
		}
	}
	if err := tx.AppendCommand(ctx, journal.CommandRecord{
		Meta:    journal.EntityMeta{ID: sub.ID, Timestamp: cmdTS, Fingerprint: cmdLayout.Fingerprint},
		Type:    sub.Type,
		Payload: cmdPayloadBytes,
	}); err != nil {
		_ = tx.Abort(ctx)
		finish(Failed, nil, fmt.Errorf("%w: append command: %v", ErrJournalFailure, err))
		return
	}
	for _, r := range records {
		if err := tx.AppendEvent(ctx, r.event); err != nil {
			_ = tx.Abort(ctx)
			finish(Failed, nil, fmt.Errorf("%w: append event: %v", ErrJournalFailure, err))
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		finish(Failed, nil, fmt.Errorf("%w: commit: %v", ErrJournalFailure, err))
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveAppendLatency(ctx, time.Since(appendStarted))
	}

	c.introducedMu.Lock()
	for _, intro := range pending {
		c.introduced[intro.fp] = true
	}
	c.introducedMu.Unlock()

	// 6. Indexing — while locks are still held, per spec.md §4.7 step 6.
	_ = c.indices.AddToCollection(sub.Type, sub.Payload)
	for _, r := range records {
		_ = c.indices.AddToCollection(r.notify.Type, r.notify.Payload)
	}

	// 7. Notifying
	notified := make([]NotifiedEntity, 0, len(records)+1)
	notified = append(notified, NotifiedEntity{ID: sub.ID, Type: sub.Type, Timestamp: cmdTS, Payload: sub.Payload})
	for _, r := range records {
		notified = append(notified, r.notify)
	}
	c.notifySubscribers(ctx, notified)

	// 8. Release + resolve
	if hostErr != nil {
		finish(Failed, nil, hostErr)
		return
	}
	finish(Succeeded, accumulator, nil)
}

// stampEvent ticks the HLC for a user event and its synthetic
// EventCausalityEstablished companion, in an order that keeps the
// causality edge's timestamp no later than the event's own (spec.md
// invariant 4), and returns both as journal records in append order.
func (c *Consumer) stampEvent(ctx context.Context, causeID uuid.UUID, draft EventDraft, pending *[]introEntry) ([]appendedRecord, error) {
	evLayout, err := c.layouts.Describe(draft.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: describe event payload: %v", ErrSerialization, err)
	}
	if err := c.ensureIntroduced(ctx, evLayout, pending); err != nil {
		return nil, err
	}
	payloadBytes, err := c.encode(evLayout, draft.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode event payload: %v", ErrSerialization, err)
	}

	eventID := uuid.New()
	causality := eventCausalityEstablished{EventID: eventID, CauseID: causeID}
	causalityLayout, err := c.layouts.Describe(causality)
	if err != nil {
		return nil, fmt.Errorf("%w: describe causality payload: %v", ErrSerialization, err)
	}
	if err := c.ensureIntroduced(ctx, causalityLayout, pending); err != nil {
		return nil, err
	}
	causalityBytes, err := c.encode(causalityLayout, causality)
	if err != nil {
		return nil, fmt.Errorf("%w: encode causality payload: %v", ErrSerialization, err)
	}

	causalityTS := c.clock.Tick()
	eventTS := c.clock.Tick()

	return []appendedRecord{
		{
			event: journal.EventRecord{
				Meta:    journal.EntityMeta{ID: uuid.New(), Timestamp: causalityTS, Fingerprint: causalityLayout.Fingerprint},
				Type:    typeEventCausalityEstablished,
				Payload: causalityBytes,
				CauseID: causeID,
			},
			notify: NotifiedEntity{Type: typeEventCausalityEstablished, Timestamp: causalityTS, Payload: causality, CauseID: causeID},
		},
		{
			event: journal.EventRecord{
				Meta:    journal.EntityMeta{ID: eventID, Timestamp: eventTS, Fingerprint: evLayout.Fingerprint},
				Type:    draft.Type,
				Payload: payloadBytes,
				CauseID: causeID,
			},
			notify: NotifiedEntity{ID: eventID, Type: draft.Type, Timestamp: eventTS, Payload: draft.Payload, CauseID: causeID},
		},
	}, nil
}

// stampFailure builds the CommandTerminatedExceptionally + HostErrorOccurred
// pair recorded in place of a command's user events when execute fails.
func (c *Consumer) stampFailure(ctx context.Context, causeID uuid.UUID, hostErr error, pending *[]introEntry) ([]appendedRecord, error) {
	termPayload := commandTerminatedExceptionally{Message: hostErr.Error()}
	termLayout, err := c.layouts.Describe(termPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: describe termination payload: %v", ErrSerialization, err)
	}
	if err := c.ensureIntroduced(ctx, termLayout, pending); err != nil {
		return nil, err
	}
	termBytes, err := c.encode(termLayout, termPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode termination payload: %v", ErrSerialization, err)
	}

	hostPayload := hostErrorOccurred{Detail: hostErr.Error()}
	hostLayout, err := c.layouts.Describe(hostPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: describe host-error payload: %v", ErrSerialization, err)
	}
	if err := c.ensureIntroduced(ctx, hostLayout, pending); err != nil {
		return nil, err
	}
	hostBytes, err := c.encode(hostLayout, hostPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode host-error payload: %v", ErrSerialization, err)
	}

	termTS := c.clock.Tick()
	hostTS := c.clock.Tick()

	return []appendedRecord{
		{
			event: journal.EventRecord{
				Meta:    journal.EntityMeta{ID: uuid.New(), Timestamp: termTS, Fingerprint: termLayout.Fingerprint},
				Type:    typeCommandTerminated,
				Payload: termBytes,
				CauseID: causeID,
			},
			notify: NotifiedEntity{Type: typeCommandTerminated, Timestamp: termTS, Payload: termPayload, CauseID: causeID},
		},
		{
			event: journal.EventRecord{
				Meta:    journal.EntityMeta{ID: uuid.New(), Timestamp: hostTS, Fingerprint: hostLayout.Fingerprint},
				Type:    typeHostErrorOccurred,
				Payload: hostBytes,
				CauseID: causeID,
			},
			notify: NotifiedEntity{Type: typeHostErrorOccurred, Timestamp: hostTS, Payload: hostPayload, CauseID: causeID},
		},
	}, nil
}

// ensureIntroduced records l's fingerprint in pending (an
// EntityLayoutIntroduced to append before any entity of this type) unless
// it is already known in-process or durably in the journal.
func (c *Consumer) ensureIntroduced(ctx context.Context, l *layout.Layout, pending *[]introEntry) error {
	c.introducedMu.Lock()
	known := c.introduced[l.Fingerprint]
	c.introducedMu.Unlock()
	if known {
		return nil
	}

	durablyKnown, err := c.journal.KnownFingerprint(ctx, l.Fingerprint)
	if err != nil {
		return fmt.Errorf("check known fingerprint: %w", err)
	}
	if durablyKnown {
		c.introducedMu.Lock()
		c.introduced[l.Fingerprint] = true
		c.introducedMu.Unlock()
		return nil
	}

	for _, e := range *pending {
		if e.fp == l.Fingerprint {
			return nil
		}
	}
	*pending = append(*pending, introEntry{fp: l.Fingerprint, schema: l.Schema()})
	return nil
}

func (c *Consumer) notifySubscribers(ctx context.Context, entities []NotifiedEntity) {
	c.subMu.RLock()
	subs := make([]Subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.subMu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil && c.logger != nil {
					c.logger.Printf("subscriber panicked: %v", r)
				}
			}()
			notifyCtx := ctx
			var cancel context.CancelFunc
			if c.cfg.SubscriberTimeout > 0 {
				notifyCtx, cancel = context.WithTimeout(ctx, c.cfg.SubscriberTimeout)
				defer cancel()
			}
			if err := s.Notify(notifyCtx, entities); err != nil {
				if c.logger != nil {
					c.logger.Printf("subscriber error: %v", err)
				}
				if c.metrics != nil {
					c.metrics.SubscriberFailed(ctx)
				}
			}
		}()
	}
}
