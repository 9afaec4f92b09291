package chronicle

import (
	"context"
	"fmt"
	"sync"

	"go-chronicle/internal/consumer"
	"go-chronicle/internal/hlc"
	"go-chronicle/internal/index"
	"go-chronicle/internal/journal"
	"go-chronicle/internal/layout"
	"go-chronicle/internal/lock"
)

// State is a Repository lifecycle state. Transitions are one-way: New →
// Starting → Running → Stopping → Terminated (spec.md §4.8).
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// CommandSetProvider supplies zero-value samples of command payload
// types this repository should know about, for layout pre-registration.
type CommandSetProvider interface {
	CommandTypes() []any
}

// EventSetProvider supplies zero-value samples of event payload types.
type EventSetProvider interface {
	EventTypes() []any
}

type introduceEntityLayouts struct {
	Types []string `layout:"types"`
}

// Repository is the command pipeline's facade: lifecycle, command/event
// registration, and the publish entry point (spec.md §4.8, §6).
type Repository struct {
	journal  journal.Journal
	clock    *hlc.Clock
	locks    lock.Provider
	indices  index.Engine
	layouts  *layout.Cache
	consumer *consumer.Consumer

	mu    sync.Mutex
	state State

	pendingProviders []any // queued CommandSetProvider/EventSetProvider while not Running
}

// Start validates the lifecycle transition, starts the command consumer,
// applies any queued command/event set provider registrations, publishes
// an initial IntroduceEntityLayouts command and joins on it, then reports
// Running (spec.md §4.8).
func (r *Repository) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateNew {
		state := r.state
		r.mu.Unlock()
		return &IllegalStateError{RepositoryError: RepositoryError{Op: "Start", Err: fmt.Errorf("cannot start from state %s", state)}, State: state.String()}
	}
	r.state = StateStarting
	pending := r.pendingProviders
	r.pendingProviders = nil
	r.mu.Unlock()

	r.consumer.Start()

	for _, p := range pending {
		if err := r.registerProviderTypes(ctx, p, false); err != nil {
			return &IllegalStateError{RepositoryError: RepositoryError{Op: "Start", Err: err}, State: StateStarting.String()}
		}
	}

	types, err := r.InstalledEvents(ctx)
	if err != nil {
		return &IllegalStateError{RepositoryError: RepositoryError{Op: "Start", Err: err}, State: StateStarting.String()}
	}

	future, err := Publish(ctx, r, Command[struct{}]{
		Type:    "IntroduceEntityLayouts",
		Payload: introduceEntityLayouts{Types: types},
		Execute: func(ctx context.Context) (EventIterator, error) {
			return &emptyIterator{}, nil
		},
		OnCompletion: func(accumulator any) (struct{}, error) {
			return struct{}{}, nil
		},
	})
	if err != nil {
		return err
	}
	if _, err := future.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()
	return nil
}

// Stop transitions Running → Stopping → Terminated, draining the
// consumer's intake queue before returning.
func (r *Repository) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		state := r.state
		r.mu.Unlock()
		return &IllegalStateError{RepositoryError: RepositoryError{Op: "Stop", Err: fmt.Errorf("cannot stop from state %s", state)}, State: state.String()}
	}
	r.state = StateStopping
	r.mu.Unlock()

	r.consumer.Stop()

	r.mu.Lock()
	r.state = StateTerminated
	r.mu.Unlock()
	return nil
}

// GetTimestamp returns the repository's current HLC reading without
// advancing it.
func (r *Repository) GetTimestamp() hlc.Timestamp {
	return r.clock.Snapshot()
}

// InstalledCommands returns the distinct command types ever committed.
func (r *Repository) InstalledCommands(ctx context.Context) ([]string, error) {
	return r.journal.InstalledCommandTypes(ctx)
}

// InstalledEvents returns the distinct event types ever committed.
func (r *Repository) InstalledEvents(ctx context.Context) ([]string, error) {
	return r.journal.InstalledEventTypes(ctx)
}

// AddEntitySubscriber registers s to observe every successfully appended
// batch of entities.
func (r *Repository) AddEntitySubscriber(s EntitySubscriber) {
	r.consumer.AddSubscriber(subscriberAdapter{inner: s})
}

// RemoveEntitySubscriber unregisters a previously added subscriber.
func (r *Repository) RemoveEntitySubscriber(s EntitySubscriber) {
	r.consumer.RemoveSubscriber(subscriberAdapter{inner: s})
}

// AddCommandSetProvider registers p's command payload samples for layout
// pre-registration: immediately (triggering an incremental
// IntroduceEntityLayouts publish) if Running, queued if not (spec.md §4.8).
func (r *Repository) AddCommandSetProvider(ctx context.Context, p CommandSetProvider) error {
	return r.addProvider(ctx, p)
}

// AddEventSetProvider registers p's event payload samples for layout
// pre-registration, with the same queued/immediate behavior.
func (r *Repository) AddEventSetProvider(ctx context.Context, p EventSetProvider) error {
	return r.addProvider(ctx, p)
}

func (r *Repository) addProvider(ctx context.Context, p any) error {
	r.mu.Lock()
	running := r.state == StateRunning
	if !running {
		r.pendingProviders = append(r.pendingProviders, p)
	}
	r.mu.Unlock()

	return r.registerProviderTypes(ctx, p, running)
}

// registerProviderTypes warms the layout cache for every sample p exposes.
// When publishIncremental is true (the provider was registered while
// Running), it also publishes an incremental IntroduceEntityLayouts
// command and joins on it, mirroring Start's bootstrap publish (spec.md
// §4.8: "if issued while Running, triggers an incremental
// IntroduceEntityLayouts publish").
func (r *Repository) registerProviderTypes(ctx context.Context, p any, publishIncremental bool) error {
	var samples []any
	switch provider := p.(type) {
	case CommandSetProvider:
		samples = provider.CommandTypes()
	case EventSetProvider:
		samples = provider.EventTypes()
	}

	names := make([]string, 0, len(samples))
	for _, sample := range samples {
		l, err := r.layouts.Describe(sample)
		if err != nil {
			return fmt.Errorf("describe provider sample: %w", err)
		}
		names = append(names, l.GoType.Name())
	}

	if !publishIncremental || len(names) == 0 {
		return nil
	}

	future, err := Publish(ctx, r, Command[struct{}]{
		Type:    "IntroduceEntityLayouts",
		Payload: introduceEntityLayouts{Types: names},
		Execute: func(ctx context.Context) (EventIterator, error) {
			return &emptyIterator{}, nil
		},
		OnCompletion: func(accumulator any) (struct{}, error) {
			return struct{}{}, nil
		},
	})
	if err != nil {
		return err
	}
	_, err = future.Wait(ctx)
	return err
}

type emptyIterator struct{ done bool }

func (it *emptyIterator) Next(ctx context.Context) (EventDraft, bool, error) {
	return EventDraft{}, false, nil
}

func (it *emptyIterator) Result() (any, error) {
	return nil, nil
}
