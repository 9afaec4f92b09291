package chronicle

import (
	"context"

	"github.com/google/uuid"

	"go-chronicle/internal/consumer"
	"go-chronicle/internal/hlc"
)

// NotifiedEntity is what an EntitySubscriber observes for each entity
// appended by a successful publish, in journal order.
type NotifiedEntity struct {
	ID        uuid.UUID
	Type      string
	Timestamp hlc.Timestamp
	Payload   any
	CauseID   uuid.UUID
}

// EntitySubscriber observes every successfully appended batch of
// entities. A returned error is isolated: logged, and does not affect
// other subscribers or the command's result (spec.md S6).
type EntitySubscriber interface {
	Notify(ctx context.Context, entities []NotifiedEntity) error
}

// subscriberAdapter lets an EntitySubscriber satisfy the type-erased
// consumer.Subscriber contract.
type subscriberAdapter struct {
	inner EntitySubscriber
}

func (a subscriberAdapter) Notify(ctx context.Context, entities []consumer.NotifiedEntity) error {
	out := make([]NotifiedEntity, len(entities))
	for i, e := range entities {
		out[i] = NotifiedEntity{ID: e.ID, Type: e.Type, Timestamp: e.Timestamp, Payload: e.Payload, CauseID: e.CauseID}
	}
	return a.inner.Notify(ctx, out)
}
