// Command relaysink is a development relay endpoint for the HTTP transport.
// It accepts published batches, logs a summary of each and can inject
// failures to exercise retries and the circuit breaker.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/skypro1111/livelink-stream-service/internal/transport"
)

type sink struct {
	logger   *slog.Logger
	apiKey   string
	failRate float64

	received atomic.Uint64
	frames   atomic.Uint64
}

func (s *sink) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+s.apiKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if s.failRate > 0 && rand.Float64() < s.failRate {
		s.logger.Warn("Injected relay failure", slog.String("batch_id", r.Header.Get("X-Batch-ID")))
		http.Error(w, "Injected failure", http.StatusServiceUnavailable)
		return
	}

	var batch transport.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid batch", http.StatusBadRequest)
		return
	}

	s.received.Add(1)
	s.frames.Add(uint64(len(batch.Frames)))

	s.logger.Info("Batch received",
		slog.String("batch_id", batch.ID.String()),
		slog.Uint64("tick", batch.Tick),
		slog.Int("frames", len(batch.Frames)),
		slog.Any("missing", batch.Missing),
	)
	for _, frame := range batch.Frames {
		s.logger.Debug("Frame",
			slog.String("name", frame.Name),
			slog.String("kind", frame.Kind),
			slog.Uint64("sequence", uint64(frame.Sequence)),
			slog.Any("location", frame.Transform.Location),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"batch_id":    batch.ID,
		"accepted_at": time.Now().UTC(),
	})
}

func (s *sink) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           "healthy",
		"batches_received": s.received.Load(),
		"frames_received":  s.frames.Load(),
	})
}

func main() {
	addr := flag.String("addr", ":9090", "Listen address")
	apiKey := flag.String("api-key", "", "Required bearer token (empty accepts any)")
	failRate := flag.Float64("fail-rate", 0, "Fraction of batches answered with 503")
	verbose := flag.Bool("v", false, "Log every frame")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	s := &sink{logger: logger, apiKey: *apiKey, failRate: *failRate}

	mux := http.NewServeMux()
	mux.HandleFunc("/batches", s.handleBatches)
	mux.HandleFunc("/health", s.handleHealth)

	logger.Info("Relay sink listening",
		slog.String("addr", *addr),
		slog.String("endpoint", "POST /batches"),
		slog.Float64("fail_rate", *failRate),
	)

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("Relay sink stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
