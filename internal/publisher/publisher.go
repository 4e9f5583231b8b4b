package publisher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/skypro1111/livelink-stream-service/internal/livelink"
	"github.com/skypro1111/livelink-stream-service/internal/scene"
	"github.com/skypro1111/livelink-stream-service/internal/transport"
)

// FrameSource resolves the current scene state of an object
type FrameSource interface {
	Lookup(name string) (scene.Object, bool)
}

// Recorder receives publish events for metrics
type Recorder interface {
	RecordPublishTick(frames, missing int, duration time.Duration)
	RecordPublishSkipped()
	RecordPublishFailure()
}

type nopRecorder struct{}

func (nopRecorder) RecordPublishTick(int, int, time.Duration) {}
func (nopRecorder) RecordPublishSkipped()                     {}
func (nopRecorder) RecordPublishFailure()                     {}

// Config contains publisher configuration
type Config struct {
	Interval    time.Duration
	SendTimeout time.Duration
}

// Stats represents publisher statistics.
// Ticks counts completed ticks; failed sends are counted in Failures only.
type Stats struct {
	Ticks      uint64    `json:"ticks"`
	Skipped    uint64    `json:"skipped"`
	FramesSent uint64    `json:"frames_sent"`
	Missing    uint64    `json:"missing"`
	Failures   uint64    `json:"failures"`
	LastTick   time.Time `json:"last_tick"`
	LastBatch  string    `json:"last_batch,omitempty"`
}

// Publisher streams membership snapshots on a fixed interval
type Publisher struct {
	config    Config
	logger    *slog.Logger
	clock     clockwork.Clock
	members   livelink.MemberSource
	frames    FrameSource
	transport transport.Transport
	recorder  Recorder

	busy atomic.Bool
	tick uint64

	stats Stats
	mu    sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a publisher. A nil recorder disables publish metrics.
func New(
	config Config,
	logger *slog.Logger,
	clock clockwork.Clock,
	members livelink.MemberSource,
	frames FrameSource,
	tr transport.Transport,
	recorder Recorder,
) *Publisher {
	if config.Interval <= 0 {
		config.Interval = 33 * time.Millisecond
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = config.Interval
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Publisher{
		config:    config,
		logger:    logger,
		clock:     clock,
		members:   members,
		frames:    frames,
		transport: tr,
		recorder:  recorder,
	}
}

// Start launches the publish loop
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.run()

	p.logger.Info("Stream publisher started",
		slog.Duration("interval", p.config.Interval),
		slog.Duration("send_timeout", p.config.SendTimeout),
	)
}

// Stop stops the loop and waits for an in-flight tick
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	stats := p.Stats()
	p.logger.Info("Stream publisher stopped",
		slog.Uint64("ticks", stats.Ticks),
		slog.Uint64("skipped", stats.Skipped),
		slog.Uint64("failures", stats.Failures),
	)
}

// run is the ticker loop
func (p *Publisher) run() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case now := <-ticker.Chan():
			if !p.busy.CompareAndSwap(false, true) {
				p.recordSkipped()
				continue
			}

			p.tick++
			tick := p.tick

			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.busy.Store(false)
				p.publishTick(p.ctx, tick, now)
			}()
		}
	}
}

// publishTick builds and sends one batch
func (p *Publisher) publishTick(ctx context.Context, tick uint64, now time.Time) {
	started := p.clock.Now()

	members := p.members.Members()
	batch := &transport.Batch{
		ID:        uuid.New(),
		Tick:      tick,
		Timestamp: now,
		Frames:    make([]transport.Frame, 0, len(members)),
	}

	for _, member := range members {
		object, ok := p.frames.Lookup(member.Name)
		if !ok || !object.HasTransform {
			batch.Missing = append(batch.Missing, member.Name)
			continue
		}

		batch.Frames = append(batch.Frames, transport.Frame{
			UID:       member.UID,
			Name:      member.Name,
			Kind:      object.Kind,
			Sequence:  object.Sequence,
			Transform: object.Transform,
		})
	}

	if len(members) == 0 {
		p.recordTick(batch, p.clock.Since(started))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.config.SendTimeout)
	defer cancel()

	if err := p.transport.Send(sendCtx, batch); err != nil {
		p.recordFailure()
		p.logger.Warn("Failed to publish stream batch",
			slog.String("batch_id", batch.ID.String()),
			slog.Uint64("tick", tick),
			slog.Int("frames", len(batch.Frames)),
			slog.String("error", err.Error()),
		)
		return
	}

	p.recordTick(batch, p.clock.Since(started))
}

func (p *Publisher) recordTick(batch *transport.Batch, duration time.Duration) {
	p.mu.Lock()
	p.stats.Ticks++
	p.stats.FramesSent += uint64(len(batch.Frames))
	p.stats.Missing += uint64(len(batch.Missing))
	p.stats.LastTick = batch.Timestamp
	p.stats.LastBatch = batch.ID.String()
	p.mu.Unlock()

	p.recorder.RecordPublishTick(len(batch.Frames), len(batch.Missing), duration)
}

func (p *Publisher) recordSkipped() {
	p.mu.Lock()
	p.stats.Skipped++
	p.mu.Unlock()

	p.recorder.RecordPublishSkipped()
	p.logger.Debug("Publish tick skipped, previous tick still sending")
}

func (p *Publisher) recordFailure() {
	p.mu.Lock()
	p.stats.Failures++
	p.mu.Unlock()

	p.recorder.RecordPublishFailure()
}

// Stats returns current publisher statistics
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}
