package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/skypro1111/livelink-stream-service/internal/config"
	"github.com/skypro1111/livelink-stream-service/internal/livelink"
	"github.com/skypro1111/livelink-stream-service/internal/metrics"
	"github.com/skypro1111/livelink-stream-service/internal/publisher"
	"github.com/skypro1111/livelink-stream-service/internal/scene"
)

// StreamDevice is the stream object surface served over HTTP
type StreamDevice interface {
	livelink.StreamRegistry
	Members() []livelink.Member
	IsOpen() bool
}

// SceneView is the read side of the scene mirror
type SceneView interface {
	Objects() []scene.Object
	Lookup(name string) (scene.Object, bool)
	GetStats() scene.Stats
}

// IngestStats reports UDP ingest statistics
type IngestStats interface {
	GetStatistics() ServerStatistics
}

// PublisherView reports publisher statistics
type PublisherView interface {
	Stats() publisher.Stats
}

// HTTPDeps are the components the API reads from and acts on
type HTTPDeps struct {
	Config         *config.Config
	Device         StreamDevice
	Scene          SceneView
	Ingest         IngestStats
	Publisher      PublisherView
	TransportStats func() interface{}
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

// HTTPServer provides the stream object API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	deps     HTTPDeps
	limiter  *rate.Limiter
	listener net.Listener

	startTime time.Time
}

// errorResponse is the body of every failed API call
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps HTTPDeps) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		startTime: time.Now(),
	}

	if cfg.MutationRate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.MutationRate), cfg.MutationBurst)
	}

	if h.deps.Gatherer == nil {
		h.deps.Gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Stream object operations
	mux.HandleFunc("GET /stream-objects", h.withMetrics("/stream-objects", h.handleListStreamObjects))
	mux.HandleFunc("POST /stream-objects", h.withMetrics("/stream-objects", h.withRateLimit(h.handleAddStreamObject)))
	mux.HandleFunc("DELETE /stream-objects/{name}", h.withMetrics("/stream-objects/{name}", h.withRateLimit(h.handleRemoveStreamObject)))

	// Scene mirror
	mux.HandleFunc("GET /scene", h.withMetrics("/scene", h.handleScene))
	mux.HandleFunc("GET /scene/{name}", h.withMetrics("/scene/{name}", h.handleSceneObject))

	// Monitoring
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// withRateLimit rejects mutations above the configured rate
func (h *HTTPServer) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			h.writeError(w, http.StatusTooManyRequests, "rate_limited", "too many stream object changes, retry later")
			return
		}
		handler(w, r)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// statusForError maps registry errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, livelink.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, livelink.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, livelink.ErrAlreadyStreaming):
		return http.StatusConflict
	case errors.Is(err, livelink.ErrNotStreaming):
		return http.StatusNotFound
	case errors.Is(err, livelink.ErrDeviceNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func (h *HTTPServer) writeRegistryError(w http.ResponseWriter, err error) {
	h.writeError(w, statusForError(err), livelink.ErrorCode(err), err.Error())
}

// handleListStreamObjects implements GET /stream-objects
func (h *HTTPServer) handleListStreamObjects(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("detail") != "true" {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"objects": h.deps.Device.GetStreamObjects(),
		})
		return
	}

	// One snapshot so both views describe the same membership state
	members := h.deps.Device.Members()
	if members == nil {
		members = []livelink.Member{}
	}
	objects := make([]string, len(members))
	for i, member := range members {
		objects[i] = member.Name
	}

	response := map[string]interface{}{
		"objects": objects,
		"members": members,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleAddStreamObject implements POST /stream-objects
func (h *HTTPServer) handleAddStreamObject(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name string `json:"name"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a name field")
		return
	}

	err := h.deps.Device.AddStreamObject(request.Name)
	h.recordOperation("add", err)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"name":    request.Name,
		"objects": h.deps.Device.GetStreamObjects(),
	})
}

// handleRemoveStreamObject implements DELETE /stream-objects/{name}
func (h *HTTPServer) handleRemoveStreamObject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := h.deps.Device.RemoveStreamObject(name)
	h.recordOperation("remove", err)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) recordOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = livelink.ErrorCode(err)
	}
	h.deps.Metrics.RecordStreamOperation(operation, result)
}

// handleScene implements GET /scene
func (h *HTTPServer) handleScene(w http.ResponseWriter, r *http.Request) {
	objects := h.deps.Scene.Objects()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_objects": len(objects),
		"timestamp":     time.Now().UTC(),
		"objects":       objects,
	})
}

// handleSceneObject implements GET /scene/{name}
func (h *HTTPServer) handleSceneObject(w http.ResponseWriter, r *http.Request) {
	object, ok := h.deps.Scene.Lookup(r.PathValue("name"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "object not found in scene")
		return
	}

	h.writeJSON(w, http.StatusOK, object)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.deps.Ingest.GetStatistics()
	publishStats := h.deps.Publisher.Stats()

	status := "healthy"
	deviceStatus := "open"
	code := http.StatusOK
	if !h.deps.Device.IsOpen() {
		status = "degraded"
		deviceStatus = "closed"
		code = http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "livelink-stream-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"device": map[string]interface{}{
				"status":         deviceStatus,
				"stream_objects": len(h.deps.Device.GetStreamObjects()),
			},
			"udp_server": map[string]interface{}{
				"status":            "running",
				"packets_received":  udpStats.PacketsReceived,
				"packets_processed": udpStats.PacketsProcessed,
				"parse_errors":      udpStats.ParseErrors,
				"queue_size":        udpStats.QueueSize,
			},
			"scene": map[string]interface{}{
				"status":  "running",
				"objects": udpStats.SceneObjects,
			},
			"publisher": map[string]interface{}{
				"status":    "running",
				"ticks":     publishStats.Ticks,
				"failures":  publishStats.Failures,
				"last_tick": publishStats.LastTick,
			},
		},
	}

	h.writeJSON(w, code, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.deps.Config

	// API key is omitted from the sanitized view
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":     cfg.Server.UDPPort,
			"bind_address": cfg.Server.BindAddress,
			"buffer_size":  cfg.Server.BufferSize,
			"workers":      cfg.Server.Workers,
			"queue_size":   cfg.Server.QueueSize,
		},
		"http": map[string]interface{}{
			"port":           cfg.HTTP.Port,
			"address":        cfg.HTTP.Address,
			"mutation_rate":  cfg.HTTP.MutationRate,
			"mutation_burst": cfg.HTTP.MutationBurst,
		},
		"scene": map[string]interface{}{
			"object_timeout":   cfg.Scene.ObjectTimeout,
			"cleanup_interval": cfg.Scene.CleanupInterval,
		},
		"publisher": map[string]interface{}{
			"interval_ms":     cfg.Publisher.IntervalMs,
			"send_timeout_ms": cfg.Publisher.SendTimeoutMs,
			"transport":       cfg.Publisher.Transport,
		},
		"transport": map[string]interface{}{
			"endpoint":         cfg.Transport.Endpoint,
			"timeout":          cfg.Transport.Timeout,
			"max_retries":      cfg.Transport.MaxRetries,
			"max_concurrent":   cfg.Transport.MaxConcurrent,
			"breaker_failures": cfg.Transport.BreakerFailures,
			"breaker_timeout":  cfg.Transport.BreakerTimeout,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":         time.Since(h.startTime).String(),
		"timestamp":      time.Now().UTC(),
		"udp":            h.deps.Ingest.GetStatistics(),
		"scene":          h.deps.Scene.GetStats(),
		"publisher":      h.deps.Publisher.Stats(),
		"stream_objects": len(h.deps.Device.GetStreamObjects()),
	}

	if h.deps.TransportStats != nil {
		stats["transport"] = h.deps.TransportStats()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "LiveLink Stream Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                         "API documentation",
			"GET /stream-objects":           "List streamed objects in insertion order",
			"POST /stream-objects":          "Add a scene object to the stream",
			"DELETE /stream-objects/{name}": "Remove an object from the stream",
			"GET /scene":                    "List mirrored scene objects",
			"GET /scene/{name}":             "Get a mirrored scene object",
			"GET /health":                   "Service health check",
			"GET /config":                   "Get service configuration",
			"GET /stats":                    "Get service statistics",
			"GET /metrics":                  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
