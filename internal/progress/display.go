package progress

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// Display periodically renders the tracker's status to the terminal as a
// single rewritten line.
type Display struct {
	tracker  *Tracker
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a display refreshing at the given interval.
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// IsTerminalSupported reports whether stdout is an interactive terminal.
func IsTerminalSupported() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Start begins the display loop.
func (d *Display) Start() {
	go d.loop()
}

// Stop halts the loop and prints a final summary line.
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) loop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Printf("\r\033[K%s", d.render(d.tracker.GetStatus()))
		case <-d.stopCh:
			fmt.Printf("\r\033[K%s\n", d.renderFinal(d.tracker.GetStatus()))
			return
		}
	}
}

func (d *Display) render(s Status) string {
	percent := 0.0
	if s.TotalBytes > 0 {
		percent = float64(s.DownloadedBytes) / float64(s.TotalBytes) * 100
	}

	line := fmt.Sprintf("runs %d/%d | %s / %s (%.1f%%) | %s/s",
		s.DoneRuns, s.TotalRuns,
		humanize.IBytes(uint64(s.DownloadedBytes)),
		humanize.IBytes(uint64(s.TotalBytes)),
		percent,
		humanize.IBytes(uint64(s.CurrentSpeed)),
	)

	if s.ETA > 0 {
		line += fmt.Sprintf(" | ETA %s", s.ETA.Round(time.Second))
	}
	return line
}

func (d *Display) renderFinal(s Status) string {
	elapsed := time.Since(s.StartTime).Round(time.Second)
	return fmt.Sprintf("done: %d/%d runs (%d failed) | %s in %s | avg %s/s",
		s.DoneRuns, s.TotalRuns, s.FailedRuns,
		humanize.IBytes(uint64(s.DownloadedBytes)),
		elapsed,
		humanize.IBytes(uint64(s.AverageSpeed)),
	)
}
