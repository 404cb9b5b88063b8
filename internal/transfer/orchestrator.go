package transfer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xsx123123/EBIDownload/internal/metrics"
	"github.com/xsx123123/EBIDownload/internal/progress"
	"github.com/xsx123123/EBIDownload/internal/storage"
)

// State is the terminal state of one file transfer.
type State int

const (
	StateSucceeded State = iota
	StateSkipped
	StateIncomplete
	StateChecksumMismatch
	StateInterrupted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSucceeded:
		return "succeeded"
	case StateSkipped:
		return "skipped"
	case StateIncomplete:
		return "incomplete"
	case StateChecksumMismatch:
		return "checksum_mismatch"
	case StateInterrupted:
		return "interrupted"
	default:
		return "failed"
	}
}

// Success reports whether the state counts as a successful run.
func (s State) Success() bool {
	return s == StateSucceeded || s == StateSkipped
}

// Request describes one file transfer: where the object lives, where it
// goes locally, and what to verify against. MD5 may be empty, in which
// case verification is skipped with a warning.
type Request struct {
	RunID string
	Obj   storage.Object
	Path  string
	Size  int64
	MD5   string
}

// Outcome is the per-file result reported back to the scheduler. Failures
// travel here as data, never as panics or aborted siblings.
type Outcome struct {
	RunID   string
	State   State
	Bytes   int64
	Elapsed time.Duration
	Err     error
}

// Config contains transfer tuning knobs.
type Config struct {
	ChunkSize  int64       // bytes per chunk
	Workers    int         // concurrent chunk fetchers per file
	FlushEvery int         // persist progress every N completed chunks
	Retry      RetryPolicy // per-chunk retry policy
}

// Orchestrator drives single-file transfers: plan, resume, concurrent
// fetch, periodic progress persistence, and final verification.
type Orchestrator struct {
	cfg     Config
	reader  storage.RangeReader
	metrics *metrics.Collector
	tracker *progress.Tracker
	logger  *zap.Logger
}

// NewOrchestrator creates an orchestrator. metrics and tracker may be nil.
func NewOrchestrator(cfg Config, reader storage.RangeReader, collector *metrics.Collector, tracker *progress.Tracker, logger *zap.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10
	}
	return &Orchestrator{
		cfg:     cfg,
		reader:  reader,
		metrics: collector,
		tracker: tracker,
		logger:  logger,
	}
}

type chunkResult struct {
	index int
	bytes int64
	err   error
}

// Transfer runs the full state machine for one file and returns its
// outcome. It never returns before both the chunk workers and the
// aggregator have drained.
func (o *Orchestrator) Transfer(ctx context.Context, req Request) Outcome {
	start := time.Now()
	log := o.logger.With(zap.String("run_id", req.RunID))

	outcome := func(state State, bytes int64, err error) Outcome {
		if o.metrics != nil {
			o.metrics.IncRun(state.String())
			o.metrics.ObserveRunDuration(time.Since(start))
		}
		if o.tracker != nil {
			o.tracker.RunDone(state.Success())
		}
		return Outcome{
			RunID:   req.RunID,
			State:   state,
			Bytes:   bytes,
			Elapsed: time.Since(start),
			Err:     err,
		}
	}

	// Planning: size the local file, compute the chunk set and subtract
	// what a previous run already finished.
	file, err := preallocate(req.Path, req.Size)
	if err != nil {
		return outcome(StateFailed, 0, fmt.Errorf("failed to preallocate %s: %w", req.Path, err))
	}

	plan := Plan(req.Size, o.cfg.ChunkSize)
	sidecar := NewSidecar(req.Path)
	completed := sidecar.Load()

	// Sidecar indices are only ever interpreted against the current plan.
	// Any out-of-range index means the recorded progress belongs to a
	// different (size, chunk size) pair, so the whole record is stale.
	for idx := range completed {
		if idx >= len(plan) {
			log.Warn("Stale sidecar: index outside current plan, restarting from scratch",
				zap.Int("index", idx),
				zap.Int("planned_chunks", len(plan)),
			)
			completed = make(map[int]struct{})
			break
		}
	}

	pending := make([]Chunk, 0, len(plan))
	for _, c := range plan {
		if _, done := completed[c.Index]; !done {
			pending = append(pending, c)
		}
	}

	log.Info("Transfer planned",
		zap.Int64("size", req.Size),
		zap.Int("chunks", len(plan)),
		zap.Int("resumed", len(completed)),
		zap.Int("pending", len(pending)),
	)

	var transferred int64
	var failed int
	var firstErr error

	if len(pending) > 0 {
		transferred, failed, firstErr = o.download(ctx, req, file, sidecar, completed, pending, log)
	}

	if err := file.Close(); err != nil {
		return outcome(StateFailed, transferred, fmt.Errorf("failed to close %s: %w", req.Path, err))
	}

	// An external interrupt is not a failure: progress has been saved and
	// the next invocation resumes.
	if ctx.Err() != nil && len(completed) < len(plan) {
		log.Info("Transfer interrupted", zap.Int("completed", len(completed)), zap.Int("chunks", len(plan)))
		return outcome(StateInterrupted, transferred, fmt.Errorf("%w: %d/%d chunks done", ErrInterrupted, len(completed), len(plan)))
	}

	if len(completed) < len(plan) {
		log.Error("Transfer incomplete",
			zap.Int("completed", len(completed)),
			zap.Int("chunks", len(plan)),
			zap.Int("failed", failed),
			zap.Error(firstErr),
		)
		return outcome(StateIncomplete, transferred, fmt.Errorf("%w (%d/%d chunks, first failure: %v)", ErrIncomplete, len(completed), len(plan), firstErr))
	}

	// Verifying. No expected digest means nothing to compare: warn and
	// treat as success, the sidecar still goes away.
	if req.MD5 == "" {
		log.Warn("No expected checksum in descriptor, skipping verification")
		if err := sidecar.Clear(); err != nil {
			log.Error("Failed to remove sidecar", zap.Error(err))
		}
		return outcome(StateSucceeded, transferred, nil)
	}

	log.Info("Verifying checksum")
	actual, ok, err := Verify(req.Path, req.MD5)
	if err != nil {
		return outcome(StateFailed, transferred, fmt.Errorf("verification failed: %w", err))
	}
	if !ok {
		// File and sidecar stay on disk: they are evidence, and a later
		// run may re-verify after the descriptor is re-resolved.
		log.Error("Checksum mismatch",
			zap.String("expected", req.MD5),
			zap.String("actual", actual),
		)
		return outcome(StateChecksumMismatch, transferred, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, req.MD5, actual))
	}

	if err := sidecar.Clear(); err != nil {
		log.Error("Failed to remove sidecar", zap.Error(err))
	}
	log.Info("Transfer verified",
		zap.Int64("size", req.Size),
		zap.Duration("elapsed", time.Since(start)),
	)
	return outcome(StateSucceeded, transferred, nil)
}

// download dispatches pending chunks across the inner worker pool and
// aggregates results. The caller's completed set is mutated in place by
// the single aggregator loop; chunk workers only fetch and report.
func (o *Orchestrator) download(
	ctx context.Context,
	req Request,
	file *os.File,
	sidecar *Sidecar,
	completed map[int]struct{},
	pending []Chunk,
	log *zap.Logger,
) (transferred int64, failed int, firstErr error) {
	fetcher := NewFetcher(o.reader, req.Obj, file, o.cfg.Retry, log)

	tasks := make(chan Chunk)
	results := make(chan chunkResult, o.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range tasks {
				chunkStart := time.Now()
				err := fetcher.Fetch(ctx, chunk)
				if o.metrics != nil {
					o.metrics.ObserveChunkDuration(time.Since(chunkStart))
				}
				results <- chunkResult{index: chunk.Index, bytes: chunk.Len(), err: err}
			}
		}()
	}

	// Feeder: stops submitting on cancellation, in-flight chunks are
	// allowed to finish so no partially fetched range is ever recorded.
	go func() {
		defer close(tasks)
		for _, chunk := range pending {
			select {
			case tasks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single-writer aggregation: the completed set and the sidecar write
	// path are touched only here, in completion order.
	flushed := len(completed)
	for res := range results {
		if res.err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.err
			}
			if o.metrics != nil {
				o.metrics.IncChunk("failed")
			}
			continue
		}

		completed[res.index] = struct{}{}
		transferred += res.bytes
		if o.metrics != nil {
			o.metrics.IncChunk("success")
			o.metrics.AddBytes(res.bytes)
		}
		if o.tracker != nil {
			o.tracker.AddBytes(res.bytes)
		}

		if len(completed)-flushed >= o.cfg.FlushEvery {
			if err := sidecar.Save(completed); err != nil {
				log.Error("Failed to persist progress", zap.Error(err))
			} else {
				flushed = len(completed)
			}
		}
	}

	// Final flush after the drain, regardless of how it ended.
	if err := sidecar.Save(completed); err != nil {
		log.Error("Failed to persist progress", zap.Error(err))
	}

	return transferred, failed, firstErr
}

// preallocate opens the target file and sizes it to exactly size bytes so
// concurrent positional writes never grow it. An existing file of the
// right length is left as is, which is what makes resume work.
func preallocate(path string, size int64) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() != size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, err
		}
	}

	return file, nil
}
