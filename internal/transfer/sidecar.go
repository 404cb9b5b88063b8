package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// SidecarSuffix is appended to the target path to form the progress file.
const SidecarSuffix = ".meta.json"

type sidecarRecord struct {
	CompletedChunkIndices []int `json:"completed_chunk_indices"`
}

// Sidecar is the durable record of completed chunk indices for one target
// file, stored next to it. It is written only by the orchestrator's
// aggregator goroutine, so calls never race for the same target.
type Sidecar struct {
	path string
}

// NewSidecar returns the sidecar for the given target file.
func NewSidecar(target string) *Sidecar {
	return &Sidecar{path: target + SidecarSuffix}
}

// Path returns the sidecar file path.
func (s *Sidecar) Path() string {
	return s.path
}

// Load reads the completed-index set. A missing, empty, or unparseable
// sidecar degrades to an empty set, never to an error: the worst outcome
// of a corrupt record is re-downloading chunks.
func (s *Sidecar) Load() map[int]struct{} {
	completed := make(map[int]struct{})

	data, err := os.ReadFile(s.path)
	if err != nil {
		return completed
	}

	var record sidecarRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return completed
	}

	for _, idx := range record.CompletedChunkIndices {
		if idx >= 0 {
			completed[idx] = struct{}{}
		}
	}
	return completed
}

// Save overwrites the whole record with the given set. The write goes to a
// temporary file first and is renamed into place, so a crash mid-save
// leaves either the previous record or the new one, never a truncated mix.
func (s *Sidecar) Save(completed map[int]struct{}) error {
	indices := make([]int, 0, len(completed))
	for idx := range completed {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	data, err := json.Marshal(sidecarRecord{CompletedChunkIndices: indices})
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace sidecar: %w", err)
	}
	return nil
}

// Clear removes the sidecar. Called only after verified success; a missing
// file is not an error.
func (s *Sidecar) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove sidecar: %w", err)
	}
	return nil
}
