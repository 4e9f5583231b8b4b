package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/livelink-stream-service/internal/config"
	"github.com/skypro1111/livelink-stream-service/internal/livelink"
	"github.com/skypro1111/livelink-stream-service/internal/metrics"
	"github.com/skypro1111/livelink-stream-service/internal/protocol"
	"github.com/skypro1111/livelink-stream-service/internal/publisher"
	"github.com/skypro1111/livelink-stream-service/internal/scene"
)

type stubIngest struct{}

func (stubIngest) GetStatistics() ServerStatistics {
	return ServerStatistics{PacketsReceived: 10, PacketsProcessed: 9, ParseErrors: 1}
}

type stubPublisher struct{}

func (stubPublisher) Stats() publisher.Stats {
	return publisher.Stats{Ticks: 5}
}

type apiFixture struct {
	graph   *scene.Graph
	device  *livelink.Device
	metrics *metrics.Metrics
	handler http.Handler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAPIFixture(t *testing.T, httpCfg config.HTTPConfig) *apiFixture {
	t.Helper()

	logger := testLogger()
	graph := scene.NewGraph(logger, clockwork.NewFakeClock(), scene.Config{ObjectTimeout: time.Hour})
	t.Cleanup(graph.Stop)

	for id, name := range []string{"MyCharacter", "Camera001", "Light001", "X"} {
		_, _, err := graph.Announce(uint32(id+1), protocol.KindTransform, name)
		require.NoError(t, err)
	}

	device := livelink.NewDevice(logger, graph)
	device.Open()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	srv := NewHTTPServer(httpCfg, logger, HTTPDeps{
		Config:         &config.Config{Publisher: config.PublisherConfig{Transport: "log"}},
		Device:         device,
		Scene:          graph,
		Ingest:         stubIngest{},
		Publisher:      stubPublisher{},
		TransportStats: func() interface{} { return map[string]int{"batches": 2} },
		Metrics:        m,
		Gatherer:       reg,
	})

	return &apiFixture{graph: graph, device: device, metrics: m, handler: srv.Handler()}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func listObjects(t *testing.T, f *apiFixture) []string {
	t.Helper()

	rec := f.do(t, http.MethodGet, "/stream-objects", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Objects []string `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Objects
}

func TestAPI_ListEmpty(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{})

	rec := f.do(t, http.MethodGet, "/stream-objects", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"objects":[]}`, rec.Body.String())
}

func TestAPI_AddAndRemove(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{})

	rec := f.do(t, http.MethodPost, "/stream-objects", `{"name":"Camera001"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/stream-objects", `{"name":"Light001"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, []string{"Camera001", "Light001"}, listObjects(t, f))

	rec = f.do(t, http.MethodDelete, "/stream-objects/Camera001", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, []string{"Light001"}, listObjects(t, f))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.StreamOperations.WithLabelValues("add", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StreamOperations.WithLabelValues("remove", "ok")))
}

func TestAPI_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{})
	require.NoError(t, f.device.AddStreamObject("X"))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"empty name", http.MethodPost, "/stream-objects", `{"name":""}`, http.StatusBadRequest, "empty"},
		{"unknown object", http.MethodPost, "/stream-objects", `{"name":"Ghost"}`, http.StatusNotFound, "not_found"},
		{"duplicate add", http.MethodPost, "/stream-objects", `{"name":"X"}`, http.StatusConflict, "already_present"},
		{"remove absent", http.MethodDelete, "/stream-objects/Ghost", "", http.StatusNotFound, "not_present"},
		{"malformed body", http.MethodPost, "/stream-objects", `{"name":`, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			body := decodeBody(t, rec)
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}

	assert.Equal(t, []string{"X"}, listObjects(t, f))
}

func TestAPI_ClosedDevice(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{})
	require.NoError(t, f.device.Close())

	rec := f.do(t, http.MethodPost, "/stream-objects", `{"name":"Camera001"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "device_not_initialized", decodeBody(t, rec)["error"])

	assert.Empty(t, listObjects(t, f))

	rec = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

func TestAPI_RateLimitsMutations(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{MutationRate: 0.001, MutationBurst: 1})

	rec := f.do(t, http.MethodPost, "/stream-objects", `{"name":"Camera001"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/stream-objects", `{"name":"Light001"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])

	// Reads are never limited
	assert.Equal(t, []string{"Camera001"}, listObjects(t, f))
}

func TestAPI_ListWithDetail(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{})
	require.NoError(t, f.device.AddStreamObject("MyCharacter"))

	rec := f.do(t, http.MethodGet, "/stream-objects?detail=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Objects []string          `json:"objects"`
		Members []livelink.Member `json:"members"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Members, 1)
	assert.Equal(t, int32(1), body.Members[0].UID)
	assert.Equal(t, "MyCharacter", body.Members[0].Name)
}

func TestAPI_ListWithDetailIsOneSnapshot(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{})
	require.NoError(t, f.device.AddStreamObject("MyCharacter"))

	done := make(chan struct{})
	churned := make(chan struct{})
	go func() {
		defer close(churned)
		for {
			select {
			case <-done:
				return
			default:
			}
			_ = f.device.AddStreamObject("Camera001")
			_ = f.device.AddStreamObject("Light001")
			_ = f.device.RemoveStreamObject("Camera001")
			_ = f.device.RemoveStreamObject("Light001")
		}
	}()

	for i := 0; i < 200; i++ {
		rec := f.do(t, http.MethodGet, "/stream-objects?detail=true", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Objects []string          `json:"objects"`
			Members []livelink.Member `json:"members"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

		names := make([]string, len(body.Members))
		for j, member := range body.Members {
			names[j] = member.Name
		}
		assert.Equal(t, names, body.Objects)
	}

	close(done)
	<-churned
}

func TestAPI_Scene(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{})

	rec := f.do(t, http.MethodGet, "/scene", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decodeBody(t, rec)["total_objects"])

	rec = f.do(t, http.MethodGet, "/scene/Camera001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Camera001", decodeBody(t, rec)["name"])

	rec = f.do(t, http.MethodGet, "/scene/Ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_MonitoringEndpoints(t *testing.T) {
	f := newAPIFixture(t, config.HTTPConfig{})

	for _, path := range []string{"/", "/health", "/stats", "/config"} {
		rec := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
	}

	stats := decodeBody(t, f.do(t, http.MethodGet, "/stats", ""))
	assert.Contains(t, stats, "transport")
	assert.Contains(t, stats, "publisher")

	rec := f.do(t, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "livelink_http_requests_total")
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{livelink.ErrEmptyName, http.StatusBadRequest},
		{livelink.ErrObjectNotFound, http.StatusNotFound},
		{livelink.ErrAlreadyStreaming, http.StatusConflict},
		{livelink.ErrNotStreaming, http.StatusNotFound},
		{livelink.ErrDeviceNotInitialized, http.StatusServiceUnavailable},
		{io.EOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, statusForError(tt.err), tt.err.Error())
	}
}
