// Command scenefeed plays the host side of the scene protocol for development.
// It announces a small scene and streams synthetic transforms to the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/livelink-stream-service/internal/protocol"
)

type sceneObject struct {
	id   uint32
	kind uint8
	name string
	seq  uint32
}

func main() {
	addr := flag.String("addr", "127.0.0.1:5555", "UDP address of the stream service")
	rate := flag.Int("rate", 30, "Transform samples per second per object")
	duration := flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	announceEvery := flag.Duration("announce-every", time.Second, "Re-announce interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *rate < 1 {
		fmt.Fprintf(os.Stderr, "rate must be at least 1, got %d\n", *rate)
		os.Exit(1)
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		logger.Error("Failed to dial stream service", slog.String("addr", *addr), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	objects := []*sceneObject{
		{id: 1, kind: protocol.KindCharacter, name: "MyCharacter"},
		{id: 2, kind: protocol.KindCamera, name: "Camera001"},
		{id: 3, kind: protocol.KindLight, name: "Light001"},
		{id: 4, kind: protocol.KindTransform, name: "Character_Root"},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	start := time.Now()
	if err := announceAll(conn, objects, start); err != nil {
		logger.Error("Failed to announce objects", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Scene announced",
		slog.String("addr", *addr),
		slog.Int("objects", len(objects)),
		slog.Int("rate", *rate),
	)

	sampleTicker := time.NewTicker(time.Second / time.Duration(*rate))
	defer sampleTicker.Stop()
	announceTicker := time.NewTicker(*announceEvery)
	defer announceTicker.Stop()

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			for _, obj := range objects {
				if _, err := conn.Write(protocol.EncodeRetire(obj.id)); err != nil {
					logger.Warn("Failed to retire object", slog.String("name", obj.name), slog.String("error", err.Error()))
				}
			}
			logger.Info("Scene feed stopped", slog.Uint64("samples_sent", sent))
			return

		case <-announceTicker.C:
			if err := announceAll(conn, objects, start); err != nil {
				logger.Warn("Failed to re-announce objects", slog.String("error", err.Error()))
			}

		case now := <-sampleTicker.C:
			elapsed := now.Sub(start).Seconds()
			for i, obj := range objects {
				obj.seq++
				payload := syntheticTransform(obj.seq, elapsed, float64(i))
				if _, err := conn.Write(protocol.EncodeTransform(obj.id, payload)); err != nil {
					logger.Warn("Failed to send transform", slog.String("name", obj.name), slog.String("error", err.Error()))
					continue
				}
				sent++
			}
		}
	}
}

func announceAll(conn net.Conn, objects []*sceneObject, start time.Time) error {
	timestamp := uint32(time.Since(start).Milliseconds())
	for _, obj := range objects {
		packet, err := protocol.EncodeAnnounce(obj.id, obj.kind, obj.name, timestamp)
		if err != nil {
			return fmt.Errorf("encode announce %s: %w", obj.name, err)
		}
		if _, err := conn.Write(packet); err != nil {
			return fmt.Errorf("send announce %s: %w", obj.name, err)
		}
	}
	return nil
}

// syntheticTransform moves each object on its own circle while yawing
func syntheticTransform(seq uint32, elapsed, phase float64) *protocol.TransformPayload {
	angle := elapsed + phase*math.Pi/2
	radius := 100 + 50*phase
	yaw := angle / 2

	return &protocol.TransformPayload{
		Sequence: seq,
		Location: [3]float32{float32(radius * math.Cos(angle)), float32(radius * math.Sin(angle)), float32(20 * phase)},
		Rotation: [4]float32{0, 0, float32(math.Sin(yaw)), float32(math.Cos(yaw))},
		Scale:    [3]float32{1, 1, 1},
	}
}
