package livelink

import (
	"fmt"
	"strings"
)

// SceneGraph is the read-only view of the host scene used for name validation.
type SceneGraph interface {
	HasObject(name string) bool
}

// Validator checks object names against the host scene graph.
type Validator struct {
	scene SceneGraph
}

// NewValidator creates a validator backed by the given scene graph
func NewValidator(scene SceneGraph) *Validator {
	return &Validator{scene: scene}
}

// Validate returns ErrEmptyName for blank names and ErrObjectNotFound when
// the scene has no object with that name. It has no side effects.
func (v *Validator) Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}

	if !v.scene.HasObject(name) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}

	return nil
}
