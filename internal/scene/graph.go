package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/skypro1111/livelink-stream-service/internal/protocol"
)

var (
	ErrEmptyName     = errors.New("scene object name is empty")
	ErrUnknownObject = errors.New("unknown scene object")
	ErrStaleSequence = errors.New("stale transform sequence")
	ErrInvalidKind   = errors.New("invalid scene object kind")
)

// Transform is a single transform sample of a scene object
type Transform struct {
	Location [3]float32 `json:"location"`
	Rotation [4]float32 `json:"rotation"`
	Scale    [3]float32 `json:"scale"`
}

// Object is a snapshot of a mirrored scene object
type Object struct {
	ID           uint32    `json:"id"`
	Name         string    `json:"name"`
	Kind         string    `json:"kind"`
	Transform    Transform `json:"transform"`
	Sequence     uint32    `json:"sequence"`
	HasTransform bool      `json:"has_transform"`
	FirstSeen    time.Time `json:"first_seen"`
	LastActivity time.Time `json:"last_activity"`
	Updates      uint64    `json:"updates"`
	Dropped      uint64    `json:"dropped"`
}

// Config contains scene mirror configuration
type Config struct {
	ObjectTimeout   time.Duration
	CleanupInterval time.Duration
}

// Stats represents scene mirror statistics
type Stats struct {
	Objects           int    `json:"objects"`
	Announced         uint64 `json:"announced"`
	Retired           uint64 `json:"retired"`
	Expired           uint64 `json:"expired"`
	TransformsApplied uint64 `json:"transforms_applied"`
	TransformsDropped uint64 `json:"transforms_dropped"`
}

// Graph is the concurrent scene mirror
type Graph struct {
	objects map[uint32]*Object
	byName  map[string]uint32
	mu      sync.RWMutex
	logger  *slog.Logger
	clock   clockwork.Clock
	config  Config

	stats Stats

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewGraph creates a scene mirror and starts its expiry routine
func NewGraph(logger *slog.Logger, clock clockwork.Clock, config Config) *Graph {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = config.ObjectTimeout / 2
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Graph{
		objects: make(map[uint32]*Object),
		byName:  make(map[string]uint32),
		logger:  logger,
		clock:   clock,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go g.startCleanupRoutine()

	return g
}

// Announce registers or refreshes an object. A known id announced under a new
// name is renamed; a known name announced under a new id is rebound to it and
// its transform history is reset. It reports whether a new object was created.
func (g *Graph) Announce(id uint32, kind uint8, name string) (Object, bool, error) {
	if strings.TrimSpace(name) == "" {
		return Object{}, false, ErrEmptyName
	}
	if !protocol.IsValidKind(kind) {
		return Object{}, false, fmt.Errorf("%w: 0x%02x", ErrInvalidKind, kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()

	if existing, ok := g.objects[id]; ok {
		if existing.Name != name {
			g.logger.Info("Scene object renamed",
				slog.Uint64("object_id", uint64(id)),
				slog.String("old_name", existing.Name),
				slog.String("new_name", name),
			)
			delete(g.byName, existing.Name)
			g.unbindNameLocked(name)
			g.byName[name] = id
			existing.Name = name
		}
		existing.Kind = protocol.KindString(kind)
		existing.LastActivity = now
		return *existing, false, nil
	}

	if prevID, ok := g.byName[name]; ok {
		g.logger.Info("Scene object rebound to new id",
			slog.String("name", name),
			slog.Uint64("old_object_id", uint64(prevID)),
			slog.Uint64("new_object_id", uint64(id)),
		)
		delete(g.objects, prevID)
	}

	object := &Object{
		ID:           id,
		Name:         name,
		Kind:         protocol.KindString(kind),
		FirstSeen:    now,
		LastActivity: now,
	}
	g.objects[id] = object
	g.byName[name] = id
	g.stats.Announced++

	g.logger.Debug("Scene object announced",
		slog.Uint64("object_id", uint64(id)),
		slog.String("name", name),
		slog.String("kind", object.Kind),
	)

	return *object, true, nil
}

// unbindNameLocked drops the object currently owning name. Caller holds mu.
func (g *Graph) unbindNameLocked(name string) {
	if ownerID, ok := g.byName[name]; ok {
		delete(g.objects, ownerID)
		delete(g.byName, name)
	}
}

// UpdateTransform stores a transform sample. Samples not newer than the last
// applied sequence are dropped with ErrStaleSequence.
func (g *Graph) UpdateTransform(id uint32, sequence uint32, transform Transform) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	object, ok := g.objects[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownObject, id)
	}

	object.LastActivity = g.clock.Now()

	if object.HasTransform && !sequenceNewer(sequence, object.Sequence) {
		object.Dropped++
		g.stats.TransformsDropped++
		return fmt.Errorf("%w: seq=%d, last=%d", ErrStaleSequence, sequence, object.Sequence)
	}

	object.Transform = transform
	object.Sequence = sequence
	object.HasTransform = true
	object.Updates++
	g.stats.TransformsApplied++

	return nil
}

// sequenceNewer compares sequence numbers with wrap-around
func sequenceNewer(seq, last uint32) bool {
	return int32(seq-last) > 0
}

// Retire removes the object with the given id
func (g *Graph) Retire(id uint32) (Object, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	object, ok := g.objects[id]
	if !ok {
		return Object{}, false
	}

	delete(g.objects, id)
	delete(g.byName, object.Name)
	g.stats.Retired++

	return *object, true
}

// HasObject reports whether an object with the given name is in the scene
func (g *Graph) HasObject(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.byName[name]
	return ok
}

// Lookup returns a snapshot of the named object
func (g *Graph) Lookup(name string) (Object, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.byName[name]
	if !ok {
		return Object{}, false
	}
	return *g.objects[id], true
}

// Objects returns snapshots of all objects sorted by name
func (g *Graph) Objects() []Object {
	g.mu.RLock()
	defer g.mu.RUnlock()

	objects := make([]Object, 0, len(g.objects))
	for _, object := range g.objects {
		objects = append(objects, *object)
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Name < objects[j].Name
	})

	return objects
}

// Count returns the number of mirrored objects
func (g *Graph) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// GetStats returns current scene statistics
func (g *Graph) GetStats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := g.stats
	stats.Objects = len(g.objects)
	return stats
}

// Stop stops the expiry routine
func (g *Graph) Stop() {
	g.cancel()
	<-g.cleanup

	g.logger.Info("Scene mirror stopped",
		slog.Int("remaining_objects", g.Count()),
	)
}

// startCleanupRoutine runs in a separate goroutine to expire stale objects
func (g *Graph) startCleanupRoutine() {
	defer close(g.cleanup)

	ticker := g.clock.NewTicker(g.config.CleanupInterval)
	defer ticker.Stop()

	g.logger.Info("Scene cleanup routine started",
		slog.Duration("timeout", g.config.ObjectTimeout),
		slog.Duration("check_interval", g.config.CleanupInterval),
	)

	for {
		select {
		case <-g.ctx.Done():
			return

		case <-ticker.Chan():
			g.cleanupExpiredObjects()
		}
	}
}

// cleanupExpiredObjects removes objects that have been inactive for too long
func (g *Graph) cleanupExpiredObjects() {
	if g.config.ObjectTimeout <= 0 {
		return
	}

	now := g.clock.Now()
	expired := make([]string, 0)

	g.mu.Lock()
	for id, object := range g.objects {
		if now.Sub(object.LastActivity) > g.config.ObjectTimeout {
			expired = append(expired, object.Name)
			delete(g.objects, id)
			delete(g.byName, object.Name)
			g.stats.Expired++
		}
	}
	g.mu.Unlock()

	if len(expired) > 0 {
		sort.Strings(expired)
		g.logger.Info("Expired inactive scene objects",
			slog.Int("expired_count", len(expired)),
			slog.Any("names", expired),
		)
	}
}
