// Package metrics wires the command pipeline's observable counters and
// histograms to an OpenTelemetry Meter: HLC degraded-mode transitions,
// consumer queue depth, journal append latency, and subscriber errors
// (SPEC_FULL.md's ambient-stack addition over spec.md's otherwise
// unobserved core).
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Pipeline holds the instruments the command consumer and clock report
// through.
type Pipeline struct {
	clockDegraded   metric.Int64Counter
	queueDepth      metric.Int64UpDownCounter
	appendLatency   metric.Float64Histogram
	subscriberFails metric.Int64Counter
}

// NewPipeline creates every instrument under meter, prefixed
// "chronicle.".
func NewPipeline(meter metric.Meter) (*Pipeline, error) {
	clockDegraded, err := meter.Int64Counter("chronicle.hlc.degraded",
		metric.WithDescription("count of HLC ticks/updates that advanced without a physical time reading"))
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64UpDownCounter("chronicle.consumer.queue_depth",
		metric.WithDescription("current number of submissions waiting in the consumer's intake queue"))
	if err != nil {
		return nil, err
	}

	appendLatency, err := meter.Float64Histogram("chronicle.journal.append_latency_ms",
		metric.WithDescription("wall-clock duration of a journal append transaction"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	subscriberFails, err := meter.Int64Counter("chronicle.consumer.subscriber_errors",
		metric.WithDescription("count of isolated entity subscriber errors"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		clockDegraded:   clockDegraded,
		queueDepth:      queueDepth,
		appendLatency:   appendLatency,
		subscriberFails: subscriberFails,
	}, nil
}

// ClockDegradedObserver returns a func() suitable for hlc.WithDegradedObserver.
func (p *Pipeline) ClockDegradedObserver() func() {
	return func() {
		p.clockDegraded.Add(context.Background(), 1)
	}
}

// QueueEnqueued records one submission entering the intake queue.
func (p *Pipeline) QueueEnqueued(ctx context.Context) {
	p.queueDepth.Add(ctx, 1)
}

// QueueDequeued records one submission leaving the intake queue for a
// worker.
func (p *Pipeline) QueueDequeued(ctx context.Context) {
	p.queueDepth.Add(ctx, -1)
}

// ObserveAppendLatency records the duration of one journal append
// transaction.
func (p *Pipeline) ObserveAppendLatency(ctx context.Context, d time.Duration) {
	p.appendLatency.Record(ctx, float64(d.Milliseconds()))
}

// SubscriberFailed records one isolated subscriber error.
func (p *Pipeline) SubscriberFailed(ctx context.Context) {
	p.subscriberFails.Add(ctx, 1)
}
