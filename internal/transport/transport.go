package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/livelink-stream-service/internal/scene"
)

const (
	KindLog  = "log"
	KindHTTP = "http"
)

// ErrClosed is returned by Send after Close
var ErrClosed = errors.New("transport is closed")

// Frame is the published state of one stream object for one tick
type Frame struct {
	UID       int32           `json:"uid"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Sequence  uint32          `json:"sequence"`
	Transform scene.Transform `json:"transform"`
}

// Batch is everything published on one tick
type Batch struct {
	ID        uuid.UUID `json:"id"`
	Tick      uint64    `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
	Frames    []Frame   `json:"frames"`
	Missing   []string  `json:"missing,omitempty"`
}

// Transport hands batches to a downstream consumer
type Transport interface {
	Send(ctx context.Context, batch *Batch) error
	Close() error
}

// Observer receives transport events for metrics
type Observer interface {
	RecordTransportRetry()
	RecordBreakerState(state string)
}

type nopObserver struct{}

func (nopObserver) RecordTransportRetry() {}
func (nopObserver) RecordBreakerState(string) {}

// New builds the transport selected by kind
func New(kind string, config HTTPConfig, logger *slog.Logger, observer Observer) (Transport, error) {
	switch kind {
	case "", KindLog:
		return NewLogTransport(logger), nil
	case KindHTTP:
		return NewHTTPTransport(config, logger, observer)
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
