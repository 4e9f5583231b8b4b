package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPConfig contains relay transport configuration
type HTTPConfig struct {
	Endpoint        string
	APIKey          string
	Timeout         time.Duration
	MaxRetries      int
	MaxConcurrent   int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// StatusError is a non-2xx relay response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// HTTPStats represents relay transport statistics
type HTTPStats struct {
	TotalBatches    uint64        `json:"total_batches"`
	SentBatches     uint64        `json:"sent_batches"`
	FailedBatches   uint64        `json:"failed_batches"`
	RejectedBatches uint64        `json:"rejected_batches"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
	BreakerState    string        `json:"breaker_state"`
}

// HTTPTransport posts batches to a JSON relay endpoint
type HTTPTransport struct {
	config     HTTPConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	semaphore  chan struct{}
	logger     *slog.Logger
	observer   Observer

	// Statistics
	totalBatches    uint64
	sentBatches     uint64
	failedBatches   uint64
	rejectedBatches uint64
	totalRetries    uint64
	avgResponseTime time.Duration
	closed          bool

	mu sync.RWMutex
}

// NewHTTPTransport creates a relay transport
func NewHTTPTransport(config HTTPConfig, logger *slog.Logger, observer Observer) (*HTTPTransport, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.BaseBackoff <= 0 {
		config.BaseBackoff = time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}

	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = 30 * time.Second
	}

	if observer == nil {
		observer = nopObserver{}
	}

	t := &HTTPTransport{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
		logger:    logger,
		observer:  observer,
	}

	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "relay",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("component", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			observer.RecordBreakerState(to.String())
		},
	})
	observer.RecordBreakerState(gobreaker.StateClosed.String())

	return t, nil
}

// Send posts the batch, retrying retryable failures. While the breaker is
// open batches are rejected without a request.
func (t *HTTPTransport) Send(ctx context.Context, batch *Batch) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	// Acquire semaphore for concurrency limiting
	select {
	case t.semaphore <- struct{}{}:
		defer func() { <-t.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	startTime := time.Now()
	t.incrementTotalBatches()

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.sendWithRetry(ctx, batch)
	})
	if err == nil {
		t.incrementSentBatches()
		t.updateAvgResponseTime(time.Since(startTime))
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		t.incrementRejectedBatches()
		return fmt.Errorf("relay unavailable: %w", err)
	}

	t.incrementFailedBatches()
	return err
}

// sendWithRetry runs the retry loop with exponential backoff
func (t *HTTPTransport) sendWithRetry(ctx context.Context, batch *Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	var lastErr error

	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		if attempt > 0 {
			t.incrementTotalRetries()
			t.observer.RecordTransportRetry()

			select {
			case <-time.After(t.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = t.doRequest(ctx, batch, body)
		if lastErr == nil {
			return nil
		}

		if !isRetryableError(ctx, lastErr) {
			break
		}

		t.logger.Debug("Relay request failed, retrying",
			slog.String("batch_id", batch.ID.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}

	return fmt.Errorf("relay send failed after %d attempts: %w", t.config.MaxRetries+1, lastErr)
}

// backoff returns the delay before the given retry attempt
func (t *HTTPTransport) backoff(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * t.config.BaseBackoff
	if delay > t.config.MaxBackoff {
		delay = t.config.MaxBackoff
	}
	return delay
}

// doRequest performs a single POST to the relay
func (t *HTTPTransport) doRequest(ctx context.Context, batch *Batch, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "LiveLink-Stream-Service/1.0")
	req.Header.Set("X-Batch-ID", batch.ID.String())
	if t.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return nil
}

// isRetryableError reports whether a failed request should be retried
func isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Remaining client errors are connection level failures
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Statistics methods
func (t *HTTPTransport) incrementTotalBatches() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalBatches++
}

func (t *HTTPTransport) incrementSentBatches() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentBatches++
}

func (t *HTTPTransport) incrementFailedBatches() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failedBatches++
}

func (t *HTTPTransport) incrementRejectedBatches() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectedBatches++
}

func (t *HTTPTransport) incrementTotalRetries() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRetries++
}

func (t *HTTPTransport) updateAvgResponseTime(responseTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Simple moving average
	if t.avgResponseTime == 0 {
		t.avgResponseTime = responseTime
	} else {
		t.avgResponseTime = (t.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current transport statistics
func (t *HTTPTransport) GetStats() HTTPStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	successRate := float64(0)
	if t.totalBatches > 0 {
		successRate = float64(t.sentBatches) / float64(t.totalBatches) * 100
	}

	return HTTPStats{
		TotalBatches:    t.totalBatches,
		SentBatches:     t.sentBatches,
		FailedBatches:   t.failedBatches,
		RejectedBatches: t.rejectedBatches,
		SuccessRate:     successRate,
		TotalRetries:    t.totalRetries,
		AvgResponseTime: t.avgResponseTime,
		ActiveRequests:  len(t.semaphore),
		BreakerState:    t.breaker.State().String(),
	}
}

// Close waits for in-flight requests and stops accepting batches
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	for i := 0; i < t.config.MaxConcurrent; i++ {
		t.semaphore <- struct{}{}
	}

	t.httpClient.CloseIdleConnections()
	return nil
}
