package frame

import "errors"

var (
	// ErrNoFrame is returned when an operation needs a baseline frame and
	// none has been forwarded yet. Callers should retry after the first
	// frame arrives.
	ErrNoFrame = errors.New("frame: no frame available")

	// ErrCancelled is returned to every waiter active when the buffer is
	// cleared (session stop or recovery).
	ErrCancelled = errors.New("frame: cancelled")

	// ErrTimeout is returned by WaitForNextFrame when no qualifying frame
	// arrives within the caller-supplied window.
	ErrTimeout = errors.New("frame: wait timed out")
)
