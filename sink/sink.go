package sink

import (
	"context"

	"pgmetrics/metrics"
)

// Sink delivers a sequence of canonical records to one consumer.
// Sinks never mutate records. A returned error is fatal to the caller;
// best-effort sinks handle their own failures and return nil.
type Sink interface {
	Deliver(ctx context.Context, records []metrics.Record) error
}

// Multi fans records out to several sinks, each receiving the same
// sequence. The first fatal error stops the fan-out.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, records []metrics.Record) error {
	for _, s := range m {
		if err := s.Deliver(ctx, records); err != nil {
			return err
		}
	}
	return nil
}
