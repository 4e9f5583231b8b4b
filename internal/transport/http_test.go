package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/livelink-stream-service/internal/config"
	"github.com/skypro1111/livelink-stream-service/internal/scene"
)

type recordingObserver struct {
	mu      sync.Mutex
	retries int
	states  []string
}

func (o *recordingObserver) RecordTransportRetry() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *recordingObserver) RecordBreakerState(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBatch() *Batch {
	return &Batch{
		ID:        uuid.New(),
		Tick:      3,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Frames: []Frame{{
			UID:      1,
			Name:     "Camera001",
			Kind:     "camera",
			Sequence: 12,
			Transform: scene.Transform{
				Location: [3]float32{1, 2, 3},
				Rotation: [4]float32{0, 0, 0, 1},
				Scale:    [3]float32{1, 1, 1},
			},
		}},
	}
}

func newTestTransport(t *testing.T, endpoint string, observer Observer) *HTTPTransport {
	t.Helper()

	tr, err := NewHTTPTransport(HTTPConfig{
		Endpoint:        endpoint,
		APIKey:          "secret",
		Timeout:         time.Second,
		MaxRetries:      2,
		MaxConcurrent:   2,
		BaseBackoff:     time.Millisecond,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, testLogger(), observer)
	require.NoError(t, err)

	return tr
}

func TestNewHTTPTransportRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPTransport(HTTPConfig{}, testLogger(), nil)
	assert.Error(t, err)
}

func TestHTTPTransportSend(t *testing.T) {
	batch := testBatch()

	var received Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, batch.ID.String(), r.Header.Get("X-Batch-ID"))

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, nil)
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), batch))

	assert.Equal(t, batch.ID, received.ID)
	assert.Equal(t, batch.Frames, received.Frames)

	stats := tr.GetStats()
	assert.Equal(t, uint64(1), stats.TotalBatches)
	assert.Equal(t, uint64(1), stats.SentBatches)
	assert.Equal(t, float64(100), stats.SuccessRate)
	assert.Equal(t, "closed", stats.BreakerState)
}

func TestHTTPTransportRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	tr := newTestTransport(t, srv.URL, observer)
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), testBatch()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(2), tr.GetStats().TotalRetries)
	assert.Equal(t, 2, observer.retries)
}

func TestHTTPTransportRetriesWithinShippedSendTimeout(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(HTTPConfig{
		Endpoint:        srv.URL,
		APIKey:          cfg.Transport.APIKey,
		Timeout:         cfg.Transport.GetTimeoutDuration(),
		MaxRetries:      cfg.Transport.MaxRetries,
		MaxConcurrent:   cfg.Transport.MaxConcurrent,
		BaseBackoff:     cfg.Transport.GetBaseBackoffDuration(),
		MaxBackoff:      cfg.Transport.GetMaxBackoffDuration(),
		BreakerFailures: uint32(cfg.Transport.BreakerFailures),
		BreakerTimeout:  cfg.Transport.GetBreakerTimeoutDuration(),
	}, testLogger(), nil)
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Publisher.GetEffectiveSendTimeout())
	defer cancel()

	require.NoError(t, tr.Send(ctx, testBatch()))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(1), tr.GetStats().TotalRetries)
}

func TestHTTPTransportDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad batch", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, nil)
	defer tr.Close()

	err := tr.Send(context.Background(), testBatch())
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), tr.GetStats().FailedBatches)
}

func TestHTTPTransportRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, nil)
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), testBatch()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPTransportBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	tr := newTestTransport(t, srv.URL, observer)
	defer tr.Close()

	for i := 0; i < 2; i++ {
		assert.Error(t, tr.Send(context.Background(), testBatch()))
	}
	assert.Equal(t, gobreaker.StateOpen, tr.breaker.State())

	before := calls.Load()
	err := tr.Send(context.Background(), testBatch())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, calls.Load())

	stats := tr.GetStats()
	assert.Equal(t, uint64(1), stats.RejectedBatches)
	assert.Equal(t, uint64(2), stats.FailedBatches)
	assert.Equal(t, "open", stats.BreakerState)
	assert.Contains(t, observer.states, "open")
}

func TestHTTPTransportClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, nil)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), testBatch()), ErrClosed)
}

func TestBackoffIsCapped(t *testing.T) {
	tr := &HTTPTransport{config: HTTPConfig{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}}

	assert.Equal(t, time.Second, tr.backoff(1))
	assert.Equal(t, 2*time.Second, tr.backoff(2))
	assert.Equal(t, 4*time.Second, tr.backoff(3))
	assert.Equal(t, 5*time.Second, tr.backoff(4))
}

func TestNewSelectsTransport(t *testing.T) {
	tr, err := New("", HTTPConfig{}, testLogger(), nil)
	require.NoError(t, err)
	assert.IsType(t, &LogTransport{}, tr)

	tr, err = New(KindHTTP, HTTPConfig{Endpoint: "http://127.0.0.1:1/batches"}, testLogger(), nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPTransport{}, tr)
	require.NoError(t, tr.Close())

	_, err = New("carrier-pigeon", HTTPConfig{}, testLogger(), nil)
	assert.Error(t, err)
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(testLogger())

	require.NoError(t, tr.Send(context.Background(), testBatch()))
	require.NoError(t, tr.Send(context.Background(), &Batch{ID: uuid.New(), Tick: 4}))

	batches, frames := tr.Counts()
	assert.Equal(t, uint64(2), batches)
	assert.Equal(t, uint64(1), frames)

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), testBatch()), ErrClosed)
}
