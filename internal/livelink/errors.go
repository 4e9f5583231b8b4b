package livelink

import "errors"

var (
	// ErrEmptyName is returned for blank object names.
	ErrEmptyName = errors.New("object name is empty")
	// ErrObjectNotFound is returned when the host scene has no object with the name.
	ErrObjectNotFound = errors.New("object not found in scene")
	// ErrAlreadyStreaming is returned when adding an object that is already in the stream.
	ErrAlreadyStreaming = errors.New("object is already in the stream")
	// ErrNotStreaming is returned when removing an object that is not in the stream.
	ErrNotStreaming = errors.New("object is not in the stream")
	// ErrDeviceNotInitialized is returned when the streaming device is not open.
	ErrDeviceNotInitialized = errors.New("livelink device is not initialized")
)

// ErrorCode maps a registry error to a stable machine-readable code.
// It returns an empty string for nil and "internal" for unknown errors.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyName):
		return "empty"
	case errors.Is(err, ErrObjectNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyStreaming):
		return "already_present"
	case errors.Is(err, ErrNotStreaming):
		return "not_present"
	case errors.Is(err, ErrDeviceNotInitialized):
		return "device_not_initialized"
	default:
		return "internal"
	}
}
