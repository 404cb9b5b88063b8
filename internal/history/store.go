package history

import (
	"time"
)

// RunStatus is the recorded terminal state of an accession download.
type RunStatus string

const (
	StatusSucceeded   RunStatus = "succeeded"
	StatusIncomplete  RunStatus = "incomplete"
	StatusMismatch    RunStatus = "checksum_mismatch"
	StatusInterrupted RunStatus = "interrupted"
	StatusFailed      RunStatus = "failed"
)

// RunRecord is one accession's row in the history journal. The journal is
// run-level bookkeeping only; chunk-level resumability lives in the
// per-file sidecar next to the downloaded data.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	MD5       string    `json:"md5"`
	Status    RunStatus `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	Bytes     int64     `json:"bytes"`
	ElapsedMs int64     `json:"elapsed_ms"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for run-history persistence.
type Store interface {
	GetRun(runID string) (*RunRecord, error)
	SaveRun(record *RunRecord) error
	ListFailedRuns() ([]*RunRecord, error)

	Close() error
}
