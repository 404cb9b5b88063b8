package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete indicates the drain finished with fewer completed
	// chunks than planned. The partial file and its sidecar are retained
	// so a later run can resume.
	ErrIncomplete = errors.New("transfer incomplete: one or more chunks failed")

	// ErrChecksumMismatch indicates the downloaded bytes disagree with the
	// expected digest. File and sidecar are kept as evidence.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrInterrupted indicates the transfer was cancelled externally.
	// Progress has been persisted and the run is resumable.
	ErrInterrupted = errors.New("transfer interrupted")
)

// ChunkError reports the permanent failure of a single chunk after retry
// exhaustion. It travels through the result channel as data so sibling
// chunks keep going.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
