package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xsx123123/EBIDownload/internal/config"
	"github.com/xsx123123/EBIDownload/internal/history"
	"github.com/xsx123123/EBIDownload/internal/metrics"
	"github.com/xsx123123/EBIDownload/internal/progress"
	"github.com/xsx123123/EBIDownload/internal/resolver"
	"github.com/xsx123123/EBIDownload/internal/storage"
	"github.com/xsx123123/EBIDownload/internal/transfer"
)

// App wires the resolver, transports, history journal, metrics and the
// two-level scheduler together for one invocation.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	scheduler *Scheduler
	history   history.Store
	metrics   *metrics.Collector
	tracker   *progress.Tracker
}

// New creates the application from configuration.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.Download.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var reader storage.RangeReader
	var err error
	switch cfg.Download.Transport {
	case "http":
		reader = storage.NewHTTPClient(cfg.Download.Threads)
	default:
		reader, err = storage.NewS3Client(storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Secure:    cfg.Storage.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
	}

	historyPath := cfg.Download.History
	if historyPath == "" {
		historyPath = filepath.Join(cfg.Download.OutDir, "ebidownload.db")
	}
	hist, err := history.NewSQLiteStore(historyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	collector := metrics.New()
	tracker := progress.NewTracker()

	retry := transfer.RetryPolicy{
		MaxAttempts: cfg.Download.Retries,
		BaseBackoff: time.Duration(cfg.Download.RetryBackoffMs) * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		Retryable:   storage.IsTransient,
	}

	orch := transfer.NewOrchestrator(transfer.Config{
		ChunkSize:  cfg.Download.ChunkSize(),
		Workers:    cfg.Download.Threads,
		FlushEvery: cfg.Download.FlushEvery,
		Retry:      retry,
	}, reader, collector, tracker, log)

	res := resolver.NewNCBIResolver(cfg.Resolver.APIKey, log)

	sched := NewScheduler(
		res,
		orch,
		hist,
		collector,
		tracker,
		log,
		cfg.Download.OutDir,
		cfg.Download.ParallelFiles,
		cfg.Download.SkipCompleted,
	)

	return &App{
		cfg:       cfg,
		logger:    log,
		scheduler: sched,
		history:   hist,
		metrics:   collector,
		tracker:   tracker,
	}, nil
}

// Run downloads every accession and returns an error when any of them did
// not succeed. An external interrupt surfaces as transfer.ErrInterrupted
// so the caller can exit with a distinct status.
func (a *App) Run(ctx context.Context, runIDs []string) error {
	runIDs = DedupIDs(runIDs)
	a.logger.Info("Starting downloads",
		zap.Int("runs", len(runIDs)),
		zap.String("outdir", a.cfg.Download.OutDir),
		zap.Int("parallel_files", a.cfg.Download.ParallelFiles),
		zap.Int("threads", a.cfg.Download.Threads),
		zap.Int64("chunk_size_mb", a.cfg.Download.ChunkSizeMB),
		zap.String("transport", a.cfg.Download.Transport),
	)

	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := a.metrics.StartServer(a.cfg.MetricsAddr); err != nil {
				a.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	var display *progress.Display
	if a.cfg.Download.ShowProgress && progress.IsTerminalSupported() {
		display = progress.NewDisplay(a.tracker, 2*time.Second)
		display.Start()
	}

	outcomes := a.scheduler.Run(ctx, runIDs)

	if display != nil {
		display.Stop()
	}

	a.logger.Info("All downloads finished", zap.String("outcomes", Summarize(outcomes)))

	failed := FailedIDs(outcomes)
	if len(failed) == 0 {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: unfinished runs: %s", transfer.ErrInterrupted, strings.Join(failed, ", "))
	}
	return fmt.Errorf("%d of %d downloads failed: %s", len(failed), len(runIDs), strings.Join(failed, ", "))
}

// Close releases held resources.
func (a *App) Close() error {
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}
