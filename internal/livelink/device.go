package livelink

import (
	"log/slog"
	"sync"
	"time"
)

// Device is the streaming device that owns the registry for a host session.
// Open corresponds to the plugin being loaded and Close to it being unloaded;
// closing tears down the whole membership set.
type Device struct {
	mu       sync.RWMutex
	scene    SceneGraph
	logger   *slog.Logger
	registry *Registry
	openedAt time.Time
}

var (
	_ StreamRegistry = (*Device)(nil)
	_ MemberSource   = (*Device)(nil)
)

// NewDevice creates a closed device bound to the scene graph
func NewDevice(logger *slog.Logger, scene SceneGraph) *Device {
	return &Device{
		scene:  scene,
		logger: logger,
	}
}

// Open initializes a fresh registry. Opening an open device is a no-op.
func (d *Device) Open() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.registry != nil {
		d.logger.Warn("LiveLink device already open")
		return
	}

	d.registry = NewRegistry(d.logger, d.scene)
	d.openedAt = time.Now()

	d.logger.Info("LiveLink device opened")
}

// Close clears the membership set and releases the registry.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.registry == nil {
		return nil
	}

	removed := d.registry.clear()
	d.registry = nil

	d.logger.Info("LiveLink device closed",
		slog.Int("stream_objects_removed", removed),
		slog.Duration("session_duration", time.Since(d.openedAt)),
	)

	return nil
}

// IsOpen reports whether the device is initialized
func (d *Device) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registry != nil
}

// AddStreamObject adds name to the stream of the open device
func (d *Device) AddStreamObject(name string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.registry == nil {
		return ErrDeviceNotInitialized
	}
	return d.registry.AddStreamObject(name)
}

// RemoveStreamObject removes name from the stream of the open device
func (d *Device) RemoveStreamObject(name string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.registry == nil {
		return ErrDeviceNotInitialized
	}
	return d.registry.RemoveStreamObject(name)
}

// GetStreamObjects returns the streamed names, or an empty slice when the
// device is closed.
func (d *Device) GetStreamObjects() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.registry == nil {
		return []string{}
	}
	return d.registry.GetStreamObjects()
}

// Members returns the streamed entries, or nil when the device is closed
func (d *Device) Members() []Member {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.registry == nil {
		return nil
	}
	return d.registry.Members()
}

// Len returns the number of streamed objects
func (d *Device) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.registry == nil {
		return 0
	}
	return d.registry.Len()
}
