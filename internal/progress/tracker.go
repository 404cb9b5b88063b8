package progress

import (
	"sync"
	"time"
)

// Status is a point-in-time snapshot of the overall download progress.
type Status struct {
	TotalRuns       int64
	DoneRuns        int64
	FailedRuns      int64
	TotalBytes      int64
	DownloadedBytes int64
	StartTime       time.Time
	CurrentSpeed    float64 // bytes/second over the recent window
	AverageSpeed    float64 // bytes/second since start
	ETA             time.Duration
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// Tracker accumulates progress across all runs and chunk completions. It
// is safe for concurrent use by every chunk worker in every file.
type Tracker struct {
	mu      sync.RWMutex
	status  Status
	samples []speedSample
}

const maxSamples = 60

// NewTracker creates a tracker starting now.
func NewTracker() *Tracker {
	return &Tracker{
		status:  Status{StartTime: time.Now()},
		samples: make([]speedSample, 0, maxSamples),
	}
}

// SetTotalRuns records how many runs this invocation will process.
func (t *Tracker) SetTotalRuns(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalRuns = n
}

// AddTotalBytes grows the expected byte total. Sizes are only known after
// each descriptor resolves, so the total accretes as runs start.
func (t *Tracker) AddTotalBytes(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalBytes += bytes
}

// AddBytes records one completed chunk's bytes.
func (t *Tracker) AddBytes(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.DownloadedBytes += bytes
	now := time.Now()

	t.samples = append(t.samples, speedSample{timestamp: now, bytes: bytes})
	if len(t.samples) > maxSamples {
		t.samples = t.samples[1:]
	}

	t.recalculate(now)
}

// RunDone records one run reaching a terminal state.
func (t *Tracker) RunDone(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.DoneRuns++
	if !success {
		t.status.FailedRuns++
	}
}

// SkipBytes counts an already-complete run's bytes as downloaded so the
// overall percentage stays truthful.
func (t *Tracker) SkipBytes(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.DownloadedBytes += bytes
}

// GetStatus returns a snapshot.
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// recalculate updates speeds and ETA. Must be called with the lock held.
func (t *Tracker) recalculate(now time.Time) {
	// Current speed over the last 5 seconds of samples.
	cutoff := now.Add(-5 * time.Second)
	var recentBytes int64
	var oldest time.Time
	for _, s := range t.samples {
		if s.timestamp.Before(cutoff) {
			continue
		}
		if oldest.IsZero() || s.timestamp.Before(oldest) {
			oldest = s.timestamp
		}
		recentBytes += s.bytes
	}
	if window := now.Sub(oldest); !oldest.IsZero() && window > 0 {
		t.status.CurrentSpeed = float64(recentBytes) / window.Seconds()
	}

	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.DownloadedBytes) / elapsed.Seconds()
	}

	remaining := t.status.TotalBytes - t.status.DownloadedBytes
	if remaining > 0 && t.status.AverageSpeed > 0 {
		t.status.ETA = time.Duration(float64(remaining)/t.status.AverageSpeed) * time.Second
	} else {
		t.status.ETA = 0
	}
}
