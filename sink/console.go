package sink

import (
	"context"
	"fmt"
	"io"

	"pgmetrics/metrics"
)

// Console writes one canonical JSON line per record. Used by the
// one-shot and diagnostic invocations. Write failures propagate: with
// stdout gone there is nowhere left to report.
type Console struct {
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Deliver(_ context.Context, records []metrics.Record) error {
	for _, record := range records {
		line, err := record.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode record '%s': %w", record.Key, err)
		}
		if _, err := c.out.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed writing record to console: %w", err)
		}
	}
	return nil
}
