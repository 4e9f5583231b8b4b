package transport

import (
	"context"
	"log/slog"
	"sync"
)

// LogTransport writes batch summaries to the logger
type LogTransport struct {
	logger *slog.Logger

	mu      sync.Mutex
	batches uint64
	frames  uint64
	closed  bool
}

// NewLogTransport creates a log transport
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Send logs the batch
func (t *LogTransport) Send(ctx context.Context, batch *Batch) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.batches++
	t.frames += uint64(len(batch.Frames))
	t.mu.Unlock()

	t.logger.Debug("Published stream batch",
		slog.String("batch_id", batch.ID.String()),
		slog.Uint64("tick", batch.Tick),
		slog.Int("frames", len(batch.Frames)),
		slog.Int("missing", len(batch.Missing)),
	)

	for _, frame := range batch.Frames {
		t.logger.Debug("Stream frame",
			slog.String("batch_id", batch.ID.String()),
			slog.Int("uid", int(frame.UID)),
			slog.String("name", frame.Name),
			slog.String("kind", frame.Kind),
			slog.Uint64("sequence", uint64(frame.Sequence)),
		)
	}

	return nil
}

// Counts returns the number of batches and frames written
func (t *LogTransport) Counts() (batches, frames uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batches, t.frames
}

// Close stops accepting batches
func (t *LogTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
