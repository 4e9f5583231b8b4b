package livelink

import (
	"log/slog"
)

// StreamRegistry is the scripting surface of the LiveLink stream.
type StreamRegistry interface {
	// AddStreamObject starts streaming the scene object with the given name.
	AddStreamObject(name string) error
	// RemoveStreamObject stops streaming the named object.
	RemoveStreamObject(name string) error
	// GetStreamObjects returns the streamed names in the order they were added.
	GetStreamObjects() []string
}

// MemberSource provides membership snapshots to the publisher
type MemberSource interface {
	Members() []Member
}

// Registry coordinates the validator and the membership set
type Registry struct {
	validator *Validator
	members   *MembershipSet
	logger    *slog.Logger
}

var (
	_ StreamRegistry = (*Registry)(nil)
	_ MemberSource   = (*Registry)(nil)
)

// NewRegistry creates an empty registry validating names against scene
func NewRegistry(logger *slog.Logger, scene SceneGraph) *Registry {
	return &Registry{
		validator: NewValidator(scene),
		members:   NewMembershipSet(),
		logger:    logger,
	}
}

// AddStreamObject validates name and appends it to the stream.
// The object is picked up by the next publish tick.
func (r *Registry) AddStreamObject(name string) error {
	if err := r.validator.Validate(name); err != nil {
		r.logger.Debug("Rejected stream object",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return err
	}

	member, err := r.members.Add(name)
	if err != nil {
		r.logger.Debug("Rejected stream object",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return err
	}

	r.logger.Info("Added object to LiveLink stream",
		slog.String("name", member.Name),
		slog.Int("uid", int(member.UID)),
		slog.Int("stream_objects", r.members.Len()),
	)

	return nil
}

// RemoveStreamObject removes name from the stream. A publish tick that is
// already in flight may still include it.
func (r *Registry) RemoveStreamObject(name string) error {
	member, err := r.members.Remove(name)
	if err != nil {
		r.logger.Debug("Rejected stream object removal",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return err
	}

	r.logger.Info("Removed object from LiveLink stream",
		slog.String("name", member.Name),
		slog.Int("uid", int(member.UID)),
		slog.Int("stream_objects", r.members.Len()),
	)

	return nil
}

// GetStreamObjects returns a snapshot of the streamed names
func (r *Registry) GetStreamObjects() []string {
	return r.members.List()
}

// Members returns a snapshot of the streamed entries
func (r *Registry) Members() []Member {
	return r.members.Members()
}

// Len returns the number of streamed objects
func (r *Registry) Len() int {
	return r.members.Len()
}

// clear tears down the whole membership set
func (r *Registry) clear() int {
	return r.members.Clear()
}
