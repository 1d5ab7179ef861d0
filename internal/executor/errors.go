package executor

import "errors"

// Executor errors.
var (
	// ErrPolicyViolation is returned when a path fails sandbox validation.
	ErrPolicyViolation = errors.New("path not permitted")

	// ErrConflict is returned when an optimistic-concurrency write detects
	// that the file changed after it was read.
	ErrConflict = errors.New("file changed since read")

	// ErrNotFound is returned when a target file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrUnknownTool is returned for tool names outside the surface.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrNoHost is returned when a tool needs the document host and none
	// is attached.
	ErrNoHost = errors.New("document host not available")

	// ErrHostTimeout is returned when the document host does not answer
	// within the guard timeout.
	ErrHostTimeout = errors.New("document host timed out")
)
