package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/livelink-stream-service/internal/config"
	"github.com/skypro1111/livelink-stream-service/internal/protocol"
	"github.com/skypro1111/livelink-stream-service/internal/scene"
)

// SceneSink receives decoded scene packets
type SceneSink interface {
	Announce(id uint32, kind uint8, name string) (scene.Object, bool, error)
	UpdateTransform(id uint32, sequence uint32, transform scene.Transform) error
	Retire(id uint32) (scene.Object, bool)
	Count() int
}

// PacketRecorder receives ingest events for metrics
type PacketRecorder interface {
	RecordPacketReceived()
	RecordPacketProcessed(packetType string)
	RecordPacketDropped(reason string)
	RecordParseError()
	SetQueueSize(size int)
}

type nopPacketRecorder struct{}

func (nopPacketRecorder) RecordPacketReceived()        {}
func (nopPacketRecorder) RecordPacketProcessed(string) {}
func (nopPacketRecorder) RecordPacketDropped(string)   {}
func (nopPacketRecorder) RecordParseError()            {}
func (nopPacketRecorder) SetQueueSize(int)             {}

// UDPServer handles incoming scene packets from the host application
type UDPServer struct {
	conn     *net.UDPConn
	config   *config.ServerConfig
	logger   *slog.Logger
	scene    SceneSink
	recorder PacketRecorder

	// Concurrency management
	ctx       context.Context
	cancel    context.CancelFunc
	receiveWg sync.WaitGroup
	workerWg  sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket

	// Statistics
	packetsReceived  uint64
	packetsProcessed uint64
	packetsDropped   uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance. A nil recorder disables ingest metrics.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, sink SceneSink, recorder PacketRecorder) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	if recorder == nil {
		recorder = nopPacketRecorder{}
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		scene:      sink,
		recorder:   recorder,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, queueSize),
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.BindAddress, fmt.Sprintf("%d", s.config.UDPPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	numWorkers := s.config.Workers
	if numWorkers <= 0 {
		numWorkers = 4
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", numWorkers),
	)

	for i := 0; i < numWorkers; i++ {
		s.workerWg.Add(1)
		go s.packetProcessor(i)
	}

	s.receiveWg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	var closeErr error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close UDP connection: %w", err)
		}
	}

	// The receive loop is the only sender on packetChan
	s.receiveWg.Wait()
	close(s.packetChan)
	s.workerWg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	return closeErr
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.receiveWg.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Read deadline lets the loop observe cancellation
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.recorder.RecordPacketReceived()

		// Buffer is reused by the next read
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
			s.recorder.SetQueueSize(len(s.packetChan))
		default:
			s.recordDropped("queue_full")
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor processes packets from the packet channel
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.workerWg.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.packetChan {
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsedPacket, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.recorder.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	var applied bool
	switch parsedPacket.Header.PacketType {
	case protocol.PacketTypeAnnounce:
		applied = s.processAnnouncePacket(parsedPacket.Header, parsedPacket.Announce, workerID)
	case protocol.PacketTypeTransform:
		applied = s.processTransformPacket(parsedPacket.Header, parsedPacket.Transform, workerID)
	case protocol.PacketTypeRetire:
		applied = s.processRetirePacket(parsedPacket.Header, workerID)
	}

	if applied {
		s.mu.Lock()
		s.packetsProcessed++
		s.mu.Unlock()
		s.recorder.RecordPacketProcessed(packetTypeString(parsedPacket.Header.PacketType))
	}
}

// processAnnouncePacket registers or refreshes a scene object
func (s *UDPServer) processAnnouncePacket(header *protocol.Header, payload *protocol.AnnouncePayload, workerID int) bool {
	object, created, err := s.scene.Announce(header.ObjectID, header.Kind, payload.GetName())
	if err != nil {
		s.recordDropped("invalid_announce")
		s.logger.Error("Failed to apply announce packet",
			slog.Uint64("object_id", uint64(header.ObjectID)),
			slog.String("name", payload.GetName()),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return false
	}

	if created {
		s.logger.Info("Scene object announced",
			slog.Uint64("object_id", uint64(object.ID)),
			slog.String("name", object.Name),
			slog.String("kind", object.Kind),
			slog.Int("worker_id", workerID),
		)
	}

	return true
}

// processTransformPacket stores a transform sample
func (s *UDPServer) processTransformPacket(header *protocol.Header, payload *protocol.TransformPayload, workerID int) bool {
	transform := scene.Transform{
		Location: payload.Location,
		Rotation: payload.Rotation,
		Scale:    payload.Scale,
	}

	err := s.scene.UpdateTransform(header.ObjectID, payload.Sequence, transform)
	switch {
	case err == nil:
		return true

	case errors.Is(err, scene.ErrStaleSequence):
		s.recordDropped("stale_sequence")
		s.logger.Debug("Dropped out-of-order transform",
			slog.Uint64("object_id", uint64(header.ObjectID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("worker_id", workerID),
		)

	case errors.Is(err, scene.ErrUnknownObject):
		s.recordDropped("unknown_object")
		s.logger.Warn("Received transform for unknown object",
			slog.Uint64("object_id", uint64(header.ObjectID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("worker_id", workerID),
		)

	default:
		s.recordDropped("error")
		s.logger.Error("Failed to apply transform packet",
			slog.Uint64("object_id", uint64(header.ObjectID)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
	}

	return false
}

// processRetirePacket removes a scene object
func (s *UDPServer) processRetirePacket(header *protocol.Header, workerID int) bool {
	object, ok := s.scene.Retire(header.ObjectID)
	if !ok {
		s.recordDropped("unknown_object")
		s.logger.Debug("Retire for unknown object",
			slog.Uint64("object_id", uint64(header.ObjectID)),
			slog.Int("worker_id", workerID),
		)
		return false
	}

	s.logger.Info("Scene object retired",
		slog.Uint64("object_id", uint64(object.ID)),
		slog.String("name", object.Name),
		slog.Int("worker_id", workerID),
	)
	return true
}

func (s *UDPServer) recordDropped(reason string) {
	s.mu.Lock()
	s.packetsDropped++
	s.mu.Unlock()
	s.recorder.RecordPacketDropped(reason)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		PacketsDropped:   s.packetsDropped,
		ParseErrors:      s.parseErrors,
		SceneObjects:     uint64(s.scene.Count()),
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
}

// ServerStatistics represents ingest performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	SceneObjects     uint64 `json:"scene_objects"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}

// packetTypeString converts a packet type code to a metrics label
func packetTypeString(packetType uint8) string {
	switch packetType {
	case protocol.PacketTypeAnnounce:
		return "announce"
	case protocol.PacketTypeTransform:
		return "transform"
	case protocol.PacketTypeRetire:
		return "retire"
	default:
		return fmt.Sprintf("unknown(0x%02x)", packetType)
	}
}
