package chronicle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chronicle/internal/index"
	"go-chronicle/internal/journal"
	"go-chronicle/internal/layout"
	"go-chronicle/internal/lock"
)

type orderPlaced struct {
	OrderID string `layout:"order_id"`
}

type placeOrder struct {
	OrderID string `layout:"order_id"`
}

type sliceIterator struct {
	drafts []EventDraft
	pos    int
	failAt int
}

func (it *sliceIterator) Next(ctx context.Context) (EventDraft, bool, error) {
	if it.failAt >= 0 && it.pos == it.failAt {
		return EventDraft{}, false, errors.New("handler exploded")
	}
	if it.pos >= len(it.drafts) {
		return EventDraft{}, false, nil
	}
	d := it.drafts[it.pos]
	it.pos++
	return d, true, nil
}

func (it *sliceIterator) Result() (any, error) {
	return it.pos, nil
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	repo, err := NewBuilder().
		WithJournal(journal.NewMemory()).
		WithLockProvider(lock.NewMemory()).
		WithIndexEngine(index.NewMemory()).
		WithConfig(Config{WorkerCount: 4, QueueDepth: 64, LockTimeoutMillis: 50, SubscriberTimeoutMillis: 1000, NTPServers: []string{"localhost"}}).
		Build(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Start(ctx))
	t.Cleanup(func() {
		_ = repo.Stop(context.Background())
	})
	return repo
}

func TestRepository_LifecycleRejectsDoubleStart(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.Start(context.Background())
	assert.True(t, IsIllegalStateError(err))
}

func TestRepository_PublishAppendsCommandAndEvent(t *testing.T) {
	repo := newTestRepository(t)

	future, err := Publish(context.Background(), repo, Command[int]{
		Type:    "PlaceOrder",
		Payload: placeOrder{OrderID: "o-1"},
		Execute: func(ctx context.Context) (EventIterator, error) {
			return &sliceIterator{drafts: []EventDraft{{Type: "OrderPlaced", Payload: orderPlaced{OrderID: "o-1"}}}, failAt: -1}, nil
		},
		OnCompletion: func(accumulator any) (int, error) {
			return accumulator.(int), nil
		},
	})
	require.NoError(t, err)

	result, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, Succeeded, result.Outcome)
	assert.Equal(t, 1, result.Value)

	events, err := repo.InstalledEvents(context.Background())
	require.NoError(t, err)
	assert.Contains(t, events, "OrderPlaced")

	commands, err := repo.InstalledCommands(context.Background())
	require.NoError(t, err)
	assert.Contains(t, commands, "PlaceOrder")
}

// S2 — Host failure capture, at the facade level.
func TestRepository_HostFailureResolvesFailedWithHostError(t *testing.T) {
	repo := newTestRepository(t)

	future, err := Publish(context.Background(), repo, Command[int]{
		Type:    "PlaceOrder",
		Payload: placeOrder{OrderID: "o-2"},
		Execute: func(ctx context.Context) (EventIterator, error) {
			return &sliceIterator{drafts: []EventDraft{{Type: "OrderPlaced", Payload: orderPlaced{OrderID: "o-2"}}}, failAt: 0}, nil
		},
	})
	require.NoError(t, err)

	result, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, result.Outcome)
	assert.True(t, IsHostError(result.Err))

	events, err := repo.InstalledEvents(context.Background())
	require.NoError(t, err)
	assert.Contains(t, events, "CommandTerminatedExceptionally")
	assert.Contains(t, events, "HostErrorOccurred")
}

// S3 — Lock contention, at the facade level.
func TestRepository_LockContentionResolvesLockTimeout(t *testing.T) {
	repo := newTestRepository(t)

	started := make(chan struct{})
	release := make(chan struct{})

	future1, err := Publish(context.Background(), repo, Command[int]{
		Type:    "PlaceOrder",
		Payload: placeOrder{OrderID: "locked"},
		Locks:   []string{"order:locked"},
		Execute: func(ctx context.Context) (EventIterator, error) {
			close(started)
			<-release
			return &sliceIterator{drafts: nil, failAt: -1}, nil
		},
	})
	require.NoError(t, err)
	<-started

	future2, err := Publish(context.Background(), repo, Command[int]{
		Type:    "PlaceOrder",
		Payload: placeOrder{OrderID: "locked"},
		Locks:   []string{"order:locked"},
		Execute: func(ctx context.Context) (EventIterator, error) {
			return &sliceIterator{drafts: nil, failAt: -1}, nil
		},
	})
	require.NoError(t, err)

	result2, err := future2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, result2.Outcome)
	assert.True(t, IsLockTimeoutError(result2.Err))

	close(release)
	result1, err := future1.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Succeeded, result1.Outcome)
}

type recordingSubscriber struct {
	mu   sync.Mutex
	seen int
}

func (s *recordingSubscriber) Notify(ctx context.Context, entities []NotifiedEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen += len(entities)
	return nil
}

type faultySubscriber struct{}

func (faultySubscriber) Notify(ctx context.Context, entities []NotifiedEntity) error {
	return errors.New("subscriber always fails")
}

// S6 — Subscriber isolation, at the facade level.
func TestRepository_FaultySubscriberDoesNotBlockGoodOnes(t *testing.T) {
	repo := newTestRepository(t)
	good := &recordingSubscriber{}
	repo.AddEntitySubscriber(good)
	repo.AddEntitySubscriber(faultySubscriber{})

	future, err := Publish(context.Background(), repo, Command[int]{
		Type:    "PlaceOrder",
		Payload: placeOrder{OrderID: "o-3"},
		Execute: func(ctx context.Context) (EventIterator, error) {
			return &sliceIterator{drafts: []EventDraft{{Type: "OrderPlaced", Payload: orderPlaced{OrderID: "o-3"}}}, failAt: -1}, nil
		},
	})
	require.NoError(t, err)

	result, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Succeeded, result.Outcome)

	good.mu.Lock()
	defer good.mu.Unlock()
	assert.Greater(t, good.seen, 0)
}

// A payload with a field kind the layout engine rejects (func is not in
// the closed TypeTag set), so LayoutCheck fails before Locking/Executing
// ever run.
type unencodable struct {
	Handler func() `layout:"handler"`
}

func TestRepository_UnencodablePayloadResolvesSerializationError(t *testing.T) {
	repo := newTestRepository(t)

	future, err := Publish(context.Background(), repo, Command[int]{
		Type:    "DoUnencodable",
		Payload: unencodable{Handler: func() {}},
		Execute: func(ctx context.Context) (EventIterator, error) {
			return &sliceIterator{drafts: nil, failAt: -1}, nil
		},
	})
	require.NoError(t, err)

	result, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, result.Outcome)
	assert.True(t, IsSerializationError(result.Err))
	assert.False(t, IsHostError(result.Err))
}

type shipmentCreated struct {
	ShipmentID string `layout:"shipment_id"`
}

type shipmentProvider struct{}

func (shipmentProvider) EventTypes() []any {
	return []any{shipmentCreated{}}
}

// Registering a provider while Running must publish an incremental
// IntroduceEntityLayouts command that durably introduces the sample's
// layout, not just warm the in-process cache (spec.md §4.8).
func TestRepository_EventSetProviderRegisteredWhileRunningPublishesIncrementally(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j := journal.NewMemory()
	repo, err := NewBuilder().
		WithJournal(j).
		WithLockProvider(lock.NewMemory()).
		WithIndexEngine(index.NewMemory()).
		WithConfig(Config{WorkerCount: 4, QueueDepth: 64, LockTimeoutMillis: 50, SubscriberTimeoutMillis: 1000, NTPServers: []string{"localhost"}}).
		Build(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Start(ctx))
	t.Cleanup(func() { _ = repo.Stop(context.Background()) })

	fp := shipmentLayoutFingerprint(t, repo)
	known, err := j.KnownFingerprint(ctx, fp)
	require.NoError(t, err)
	assert.False(t, known, "layout must not be durably known before registration")

	require.NoError(t, repo.AddEventSetProvider(ctx, shipmentProvider{}))

	known, err = j.KnownFingerprint(ctx, fp)
	require.NoError(t, err)
	assert.True(t, known, "registering while Running must durably introduce the layout")
}

func shipmentLayoutFingerprint(t *testing.T, repo *Repository) layout.Fingerprint {
	t.Helper()
	l, err := repo.layouts.Describe(shipmentCreated{})
	require.NoError(t, err)
	return l.Fingerprint
}

// S1 — Monotonicity under concurrency, at the facade level.
func TestRepository_ConcurrentPublishesProduceMonotonicTimestamp(t *testing.T) {
	repo := newTestRepository(t)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			future, err := Publish(context.Background(), repo, Command[int]{
				Type:    "PlaceOrder",
				Payload: placeOrder{OrderID: "concurrent"},
				Execute: func(ctx context.Context) (EventIterator, error) {
					return &sliceIterator{drafts: []EventDraft{{Type: "OrderPlaced", Payload: orderPlaced{OrderID: "concurrent"}}}, failAt: -1}, nil
				},
			})
			require.NoError(t, err)
			result, err := future.Wait(context.Background())
			require.NoError(t, err)
			assert.Equal(t, Succeeded, result.Outcome)
		}(i)
	}
	wg.Wait()

	final := repo.GetTimestamp()
	assert.Greater(t, final.WallMillis+int64(final.Logical), int64(0))
}
