// Package transport delivers published stream batches downstream.
// The log transport writes batch summaries through slog. The HTTP transport
// posts batches as JSON to a relay endpoint with retries, exponential backoff,
// a concurrency limit and a circuit breaker.
package transport
