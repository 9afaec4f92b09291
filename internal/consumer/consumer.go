// Package consumer implements the command consumer (C7): a bounded
// worker pool that runs the eight-step per-command protocol (Queued →
// Timestamping → LayoutCheck → Locking → Executing → Appending →
// Indexing → Notifying → Succeeded/Failed), generalized from the
// teacher's single-reader EventStream goroutine (streaming_channel.go)
// into a pool of workers draining one bounded intake channel.
package consumer

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-chronicle/internal/hlc"
	"go-chronicle/internal/index"
	"go-chronicle/internal/journal"
	"go-chronicle/internal/layout"
	"go-chronicle/internal/lock"
	"go-chronicle/internal/metrics"
)

// Outcome classifies how a submission's pipeline ended.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
)

// EventDraft is one event a command's Iterator yields, prior to
// stamping, causal linking and serialization.
type EventDraft struct {
	Type    string
	Payload any
}

// Iterator is the type-erased, pull-based event stream a submission's
// NewIterator produces. The public Command[R]'s EventIterator is adapted
// to this shape by pkg/chronicle so this package stays free of the
// generic result type.
type Iterator interface {
	Next(ctx context.Context) (EventDraft, bool, error)
	Result() (any, error)
}

// NotifiedEntity is what subscribers observe for each entity appended by
// a successful publish, in journal order.
type NotifiedEntity struct {
	ID        uuid.UUID
	Type      string
	Timestamp hlc.Timestamp
	Payload   any
	CauseID   uuid.UUID
}

// Subscriber observes every successfully appended batch of entities. A
// returned error is isolated: logged, and does not affect other
// subscribers or the command's result (spec.md S6).
type Subscriber interface {
	Notify(ctx context.Context, entities []NotifiedEntity) error
}

// Submission is a type-erased, queued command. pkg/chronicle builds one
// of these per Command[R] published, closing over the generic result
// type inside Complete.
type Submission struct {
	ID          uuid.UUID
	Type        string
	Payload     any
	Locks       []string
	NewIterator func(ctx context.Context) (Iterator, error)

	// Complete delivers the pipeline's terminal outcome. accumulator is
	// the iterator's Result() value on Succeeded; err is the failure
	// cause on Failed.
	Complete func(outcome Outcome, accumulator any, err error)

	// queuedCtx is cancellable only while the submission sits in the
	// intake channel; once a worker dequeues it, cancellation of this
	// context is ignored and the pipeline runs to completion (spec.md
	// §5).
	queuedCtx context.Context
}

// NewSubmission wraps the fields above with the context under which
// Queued-phase cancellation is honored.
func NewSubmission(ctx context.Context, id uuid.UUID, typ string, payload any, locks []string,
	newIterator func(ctx context.Context) (Iterator, error),
	complete func(outcome Outcome, accumulator any, err error)) *Submission {
	return &Submission{
		ID:          id,
		Type:        typ,
		Payload:     payload,
		Locks:       locks,
		NewIterator: newIterator,
		Complete:    complete,
		queuedCtx:   ctx,
	}
}

// Config tunes the worker pool and per-step timeouts (spec.md §6).
type Config struct {
	WorkerCount       int
	QueueDepth        int
	LockTimeout       time.Duration
	SubscriberTimeout time.Duration
}

// DefaultConfig mirrors spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:       runtime.NumCPU(),
		QueueDepth:        1024,
		LockTimeout:       30 * time.Second,
		SubscriberTimeout: 5 * time.Second,
	}
}

// Logger is the minimal structured-logging surface the consumer uses for
// isolated subscriber failures and host errors, matching the teacher's
// preference for the standard library's log.Logger over a third-party
// logging facade.
type Logger interface {
	Printf(format string, args ...any)
}

// Consumer orchestrates the eight-step command pipeline over a bounded
// intake queue drained by a fixed worker pool.
type Consumer struct {
	cfg     Config
	clock   *hlc.Clock
	layouts *layout.Cache
	journal journal.Journal
	locks   lock.Provider
	indices index.Engine
	logger  Logger
	metrics *metrics.Pipeline

	encode func(l *layout.Layout, payload any) ([]byte, error)

	queue chan *Submission
	wg    sync.WaitGroup

	subMu       sync.RWMutex
	subscribers []Subscriber

	introducedMu sync.Mutex
	introduced   map[layout.Fingerprint]bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// EncodeFunc serializes payload against its layout into journal bytes.
// Exposed so New can be wired to internal/codec without this package
// importing reflect-heavy encode details itself.
type EncodeFunc func(l *layout.Layout, payload any) ([]byte, error)

// New builds a Consumer. Callers must call Start before Submit.
func New(cfg Config, clock *hlc.Clock, layouts *layout.Cache, j journal.Journal, locks lock.Provider, indices index.Engine, encode EncodeFunc, logger Logger) *Consumer {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	if cfg.SubscriberTimeout <= 0 {
		cfg.SubscriberTimeout = DefaultConfig().SubscriberTimeout
	}
	return &Consumer{
		cfg:        cfg,
		clock:      clock,
		layouts:    layouts,
		journal:    j,
		locks:      locks,
		indices:    indices,
		logger:     logger,
		encode:     encode,
		queue:      make(chan *Submission, cfg.QueueDepth),
		introduced: make(map[layout.Fingerprint]bool),
		stopped:    make(chan struct{}),
	}
}

// WithMetrics attaches an otel-backed Pipeline the worker loop and
// append step report through. Optional; a nil Consumer.metrics is a
// valid no-observability configuration.
func (c *Consumer) WithMetrics(p *metrics.Pipeline) *Consumer {
	c.metrics = p
	return c
}

// AddSubscriber registers an entity subscriber.
func (c *Consumer) AddSubscriber(s Subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, s)
}

// RemoveSubscriber unregisters a previously added subscriber (identity
// comparison).
func (c *Consumer) RemoveSubscriber(s Subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for i, existing := range c.subscribers {
		if existing == s {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// Start launches the worker pool.
func (c *Consumer) Start() {
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker()
	}
}

// Stop closes the intake queue and waits for in-flight workers to drain
// it. Submissions already queued are still processed to completion.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.queue)
	})
	c.wg.Wait()
}

// Submit enqueues a submission, blocking if the intake queue is full
// until there is room or ctx is done.
func (c *Consumer) Submit(ctx context.Context, sub *Submission) error {
	select {
	case c.queue <- sub:
		if c.metrics != nil {
			c.metrics.QueueEnqueued(ctx)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) worker() {
	defer c.wg.Done()
	for sub := range c.queue {
		if c.metrics != nil {
			c.metrics.QueueDequeued(context.Background())
		}
		c.process(sub)
	}
}
