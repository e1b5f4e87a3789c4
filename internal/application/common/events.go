package common

import (
	"context"

	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// EventSource is an aggregate that records domain events.
type EventSource interface {
	PullEvents() []events.DomainEvent
}

// EventBuffer holds the events raised during one unit of work until it commits.
type EventBuffer struct {
	pending []events.DomainEvent
}

type eventBufferKey struct{}

// WithEventBuffer attaches a fresh buffer to ctx.
func WithEventBuffer(ctx context.Context) (context.Context, *EventBuffer) {
	buf := &EventBuffer{}
	return context.WithValue(ctx, eventBufferKey{}, buf), buf
}

// RecordEvents drains the sources into the buffer carried by ctx. Without a
// buffer the events are dropped.
func RecordEvents(ctx context.Context, sources ...EventSource) {
	buf, _ := ctx.Value(eventBufferKey{}).(*EventBuffer)
	for _, s := range sources {
		if s == nil {
			continue
		}
		evs := s.PullEvents()
		if buf != nil {
			buf.pending = append(buf.pending, evs...)
		}
	}
}

// Add appends events that were not raised by an aggregate.
func (b *EventBuffer) Add(evs ...events.DomainEvent) {
	b.pending = append(b.pending, evs...)
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	return len(b.pending)
}

// Discard drops everything buffered, used when the unit of work rolled back.
func (b *EventBuffer) Discard() {
	b.pending = nil
}

// Flush publishes the buffered events. Publishing failures are logged, the
// state change they describe is already committed.
func (b *EventBuffer) Flush(publisher events.EventPublisher, log logger.Interface) {
	if len(b.pending) == 0 {
		return
	}
	evs := b.pending
	b.pending = nil
	if err := publisher.PublishAll(evs); err != nil {
		log.Warnw("failed to publish domain events",
			"count", len(evs),
			"error", err,
		)
	}
}

// RunAndPublish runs fn in a transaction and publishes the events it
// recorded once the transaction has committed.
func RunAndPublish(ctx context.Context, txMgr db.Transactor, publisher events.EventPublisher, log logger.Interface, fn func(ctx context.Context) error) error {
	ctx, buf := WithEventBuffer(ctx)
	if err := txMgr.RunInTransaction(ctx, fn); err != nil {
		buf.Discard()
		return err
	}
	buf.Flush(publisher, log)
	return nil
}
