package audit

import (
	"context"
	"time"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily. An optional
// secondary sink (e.g. Kafka) receives every event best-effort.
type Publisher struct {
	store Store
	sink  Sink
}

// Sink receives a copy of every event after it is persisted. Sink failures
// are reported to the caller only through the error return of Emit when the
// primary store also failed; a sink alone never fails an emit.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

func NewPublisher(store Store, sink Sink) *Publisher {
	return &Publisher{store: store, sink: sink}
}

func (p *Publisher) Emit(ctx context.Context, base Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now().UTC()
	}
	if err := p.store.Append(ctx, base); err != nil {
		return err
	}
	if p.sink != nil {
		// Best effort: the audit log row is the source of truth.
		_ = p.sink.Send(ctx, base)
	}
	return nil
}

func (p *Publisher) List(ctx context.Context, limit int) ([]Event, error) {
	return p.store.ListRecent(ctx, limit)
}
