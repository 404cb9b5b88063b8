package app

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xsx123123/EBIDownload/internal/history"
	"github.com/xsx123123/EBIDownload/internal/metrics"
	"github.com/xsx123123/EBIDownload/internal/progress"
	"github.com/xsx123123/EBIDownload/internal/resolver"
	"github.com/xsx123123/EBIDownload/internal/transfer"
)

// Scheduler fans accessions out across the outer worker pool. Each worker
// resolves one accession and hands it to the transfer orchestrator; one
// accession's failure never aborts the others.
type Scheduler struct {
	resolver      resolver.Resolver
	orch          *transfer.Orchestrator
	history       history.Store
	metrics       *metrics.Collector
	tracker       *progress.Tracker
	logger        *zap.Logger
	outDir        string
	parallel      int
	skipCompleted bool
}

// NewScheduler creates a scheduler. history, metrics and tracker may be
// nil.
func NewScheduler(
	res resolver.Resolver,
	orch *transfer.Orchestrator,
	hist history.Store,
	collector *metrics.Collector,
	tracker *progress.Tracker,
	logger *zap.Logger,
	outDir string,
	parallel int,
	skipCompleted bool,
) *Scheduler {
	if parallel <= 0 {
		parallel = 1
	}
	return &Scheduler{
		resolver:      res,
		orch:          orch,
		history:       hist,
		metrics:       collector,
		tracker:       tracker,
		logger:        logger,
		outDir:        outDir,
		parallel:      parallel,
		skipCompleted: skipCompleted,
	}
}

// Run processes every accession and returns one outcome per accession, in
// input order. Both worker pools are fully drained before it returns.
func (s *Scheduler) Run(ctx context.Context, runIDs []string) []transfer.Outcome {
	if s.tracker != nil {
		s.tracker.SetTotalRuns(int64(len(runIDs)))
	}

	outcomes := make([]transfer.Outcome, len(runIDs))

	if s.parallel == 1 || len(runIDs) == 1 {
		for i, runID := range runIDs {
			outcomes[i] = s.processRun(ctx, runID)
		}
		return outcomes
	}

	type job struct {
		pos   int
		runID string
	}

	jobs := make(chan job)
	var wg sync.WaitGroup

	for i := 0; i < s.parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				outcomes[j.pos] = s.processRun(ctx, j.runID)
			}
		}()
	}

	for i, runID := range runIDs {
		jobs <- job{pos: i, runID: runID}
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (s *Scheduler) processRun(ctx context.Context, runID string) transfer.Outcome {
	log := s.logger.With(zap.String("run_id", runID))

	// Work queued behind an interrupt is never started.
	if ctx.Err() != nil {
		if s.tracker != nil {
			s.tracker.RunDone(false)
		}
		return transfer.Outcome{
			RunID: runID,
			State: transfer.StateInterrupted,
			Err:   transfer.ErrInterrupted,
		}
	}

	desc, err := s.resolver.Resolve(ctx, runID)
	if err != nil {
		log.Error("Failed to resolve accession", zap.Error(err))
		s.recordRun(&history.RunRecord{
			RunID:     runID,
			Status:    history.StatusFailed,
			LastError: err.Error(),
		}, log)
		if s.metrics != nil {
			s.metrics.IncRun(transfer.StateFailed.String())
		}
		if s.tracker != nil {
			s.tracker.RunDone(false)
		}
		return transfer.Outcome{RunID: runID, State: transfer.StateFailed, Err: err}
	}

	target := s.targetPath(desc)

	if s.skipCompleted && s.alreadyCompleted(runID, desc, target, log) {
		log.Info("Skipping verified download", zap.String("path", target))
		if s.metrics != nil {
			s.metrics.IncRun(transfer.StateSkipped.String())
		}
		if s.tracker != nil {
			s.tracker.AddTotalBytes(desc.Size)
			s.tracker.SkipBytes(desc.Size)
			s.tracker.RunDone(true)
		}
		return transfer.Outcome{RunID: runID, State: transfer.StateSkipped}
	}

	if s.tracker != nil {
		s.tracker.AddTotalBytes(desc.Size)
	}

	outcome := s.orch.Transfer(ctx, transfer.Request{
		RunID: runID,
		Obj:   desc.Object(),
		Path:  target,
		Size:  desc.Size,
		MD5:   desc.MD5,
	})

	record := &history.RunRecord{
		RunID:     runID,
		Bucket:    desc.Bucket,
		Key:       desc.Key,
		Size:      desc.Size,
		MD5:       desc.MD5,
		Status:    runStatus(outcome.State),
		Bytes:     outcome.Bytes,
		ElapsedMs: outcome.Elapsed.Milliseconds(),
	}
	if outcome.Err != nil {
		record.LastError = outcome.Err.Error()
	}
	s.recordRun(record, log)

	return outcome
}

// alreadyCompleted reports whether a previous invocation finished and
// verified this accession and the file still looks intact.
func (s *Scheduler) alreadyCompleted(runID string, desc *resolver.Descriptor, target string, log *zap.Logger) bool {
	if s.history == nil {
		return false
	}

	record, err := s.history.GetRun(runID)
	if err != nil {
		log.Warn("Failed to read history", zap.Error(err))
		return false
	}
	if record == nil || record.Status != history.StatusSucceeded {
		return false
	}

	info, err := os.Stat(target)
	return err == nil && info.Size() == desc.Size
}

func (s *Scheduler) recordRun(record *history.RunRecord, log *zap.Logger) {
	if s.history == nil {
		return
	}
	if err := s.history.SaveRun(record); err != nil {
		log.Error("Failed to save run history", zap.Error(err))
	}
}

// targetPath derives the local filename from the object key, keeping the
// archive's .sra naming even when the key has no extension.
func (s *Scheduler) targetPath(desc *resolver.Descriptor) string {
	name := path.Base(desc.Key)
	if name == "" || name == "." || name == "/" {
		name = desc.RunID
	}
	if !strings.HasSuffix(name, ".sra") {
		name += ".sra"
	}
	return filepath.Join(s.outDir, name)
}

func runStatus(state transfer.State) history.RunStatus {
	switch state {
	case transfer.StateSucceeded, transfer.StateSkipped:
		return history.StatusSucceeded
	case transfer.StateIncomplete:
		return history.StatusIncomplete
	case transfer.StateChecksumMismatch:
		return history.StatusMismatch
	case transfer.StateInterrupted:
		return history.StatusInterrupted
	default:
		return history.StatusFailed
	}
}

// FailedIDs extracts the accessions whose outcome was not a success.
func FailedIDs(outcomes []transfer.Outcome) []string {
	var failed []string
	for _, o := range outcomes {
		if !o.State.Success() {
			failed = append(failed, o.RunID)
		}
	}
	return failed
}

// Summarize renders a short per-run report for the final log line.
func Summarize(outcomes []transfer.Outcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("%s=%s", o.RunID, o.State))
	}
	return strings.Join(parts, ", ")
}
