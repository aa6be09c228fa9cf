package world

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreClosed is returned by Store methods called after Close.
	ErrStoreClosed = errors.New("world: store closed")
	// ErrGenerationFailed is matched by every GenerationError.
	ErrGenerationFailed = errors.New("world: chunk generation failed")
	// ErrGenerationTimeout is returned for a generation attempt that did not
	// complete within Config.GenerationTimeout.
	ErrGenerationTimeout = errors.New("world: chunk generation timed out")
	// ErrBlockOutOfRange is returned by Store.SetBlock for a Y coordinate
	// outside the vertical range of a chunk.
	ErrBlockOutOfRange = errors.New("world: block position out of range")
)

// GenerationError is returned when a chunk could not be produced after all
// attempts. The coordinate is Absent again when it is returned, so a later
// request retries generation.
type GenerationError struct {
	Pos      ChunkPos
	Attempts int
	Err      error
}

// Error ...
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate chunk %v: %d attempts: %v", e.Pos, e.Attempts, e.Err)
}

// Unwrap ...
func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}

// Temporary always returns true: the chunk is only unavailable until the next
// request.
func (e *GenerationError) Temporary() bool {
	return true
}
