package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/skypro1111/livelink-stream-service/internal/config"
	"github.com/skypro1111/livelink-stream-service/internal/livelink"
	"github.com/skypro1111/livelink-stream-service/internal/metrics"
	"github.com/skypro1111/livelink-stream-service/internal/publisher"
	"github.com/skypro1111/livelink-stream-service/internal/scene"
	"github.com/skypro1111/livelink-stream-service/internal/server"
	"github.com/skypro1111/livelink-stream-service/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "livelink-stream-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Configuration summary without the relay API key
	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("workers", cfg.Server.Workers),
		slog.Duration("object_timeout", cfg.Scene.GetObjectTimeoutDuration()),
		slog.Duration("publish_interval", cfg.Publisher.GetIntervalDuration()),
		slog.String("transport", cfg.Publisher.Transport),
		slog.String("transport_endpoint", cfg.Transport.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	clock := clockwork.NewRealClock()

	graph := scene.NewGraph(logger, clock, scene.Config{
		ObjectTimeout:   cfg.Scene.GetObjectTimeoutDuration(),
		CleanupInterval: cfg.Scene.GetCleanupIntervalDuration(),
	})

	// Plugin load
	device := livelink.NewDevice(logger, graph)
	device.Open()

	appMetrics.RegisterSourceGauges(
		func() float64 { return float64(graph.Count()) },
		func() float64 { return float64(device.Len()) },
	)

	tr, err := transport.New(cfg.Publisher.Transport, transport.HTTPConfig{
		Endpoint:        cfg.Transport.Endpoint,
		APIKey:          cfg.Transport.APIKey,
		Timeout:         cfg.Transport.GetTimeoutDuration(),
		MaxRetries:      cfg.Transport.MaxRetries,
		MaxConcurrent:   cfg.Transport.MaxConcurrent,
		BaseBackoff:     cfg.Transport.GetBaseBackoffDuration(),
		MaxBackoff:      cfg.Transport.GetMaxBackoffDuration(),
		BreakerFailures: uint32(cfg.Transport.BreakerFailures),
		BreakerTimeout:  cfg.Transport.GetBreakerTimeoutDuration(),
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create transport", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transport initialized", slog.String("transport", cfg.Publisher.Transport))

	pub := publisher.New(publisher.Config{
		Interval:    cfg.Publisher.GetIntervalDuration(),
		SendTimeout: cfg.Publisher.GetSendTimeoutDuration(),
	}, logger, clock, device, graph, tr, appMetrics)

	udpServer := server.NewUDPServer(&cfg.Server, logger, graph, appMetrics)
	logger.Info("UDP server initialized")

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, server.HTTPDeps{
			Config:         cfg,
			Device:         device,
			Scene:          graph,
			Ingest:         udpServer,
			Publisher:      pub,
			TransportStats: transportStats(tr),
			Metrics:        appMetrics,
			Gatherer:       registry,
		})
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pub.Start(ctx)

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.Addr().String()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	var shutdownErr error

	// Stop HTTP server first (no new stream object changes)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		shutdownErr = multierr.Append(shutdownErr, httpServer.Stop(shutdownCtx))
		shutdownCancel()
	}

	// Stop scene ingest
	shutdownErr = multierr.Append(shutdownErr, udpServer.Stop())

	// Finish the in-flight tick, then release the transport
	pub.Stop()
	shutdownErr = multierr.Append(shutdownErr, tr.Close())

	// Plugin unload tears the stream down
	shutdownErr = multierr.Append(shutdownErr, device.Close())

	graph.Stop()

	stats := udpServer.GetStatistics()
	publishStats := pub.Stats()
	logger.Info("Final service statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("publish_ticks", publishStats.Ticks),
		slog.Uint64("publish_skipped", publishStats.Skipped),
		slog.Uint64("frames_sent", publishStats.FramesSent),
	)

	if shutdownErr != nil {
		for _, err := range multierr.Errors(shutdownErr) {
			logger.Error("Shutdown error", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

// transportStats exposes the selected transport's counters to /stats
func transportStats(tr transport.Transport) func() interface{} {
	switch t := tr.(type) {
	case *transport.HTTPTransport:
		return func() interface{} { return t.GetStats() }
	case *transport.LogTransport:
		return func() interface{} {
			batches, frames := t.Counts()
			return map[string]uint64{"batches": batches, "frames": frames}
		}
	default:
		return nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
