package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xsx123123/EBIDownload/internal/app"
	"github.com/xsx123123/EBIDownload/internal/config"
	"github.com/xsx123123/EBIDownload/internal/logger"
	"github.com/xsx123123/EBIDownload/internal/transfer"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ebidownload [accessions...]",
	Short: "Download sequencing-archive runs from their public AWS mirrors",
	Long: `A concurrent, resumable downloader for SRA accessions. Each accession is
resolved to its AWS S3 mirror, downloaded in parallel byte-range chunks
with durable progress tracking, and verified against the published MD5.
Interrupted or failed runs resume on the next invocation.`,
	Args: cobra.ArbitraryArgs,
	RunE: runDownload,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Resolver flags
	rootCmd.Flags().String("api-key", "", "NCBI API key (raises the rate limit)")

	// Storage flags
	rootCmd.Flags().String("endpoint", "s3.amazonaws.com", "S3 endpoint")
	rootCmd.Flags().String("access-key", "", "S3 access key (empty for anonymous)")
	rootCmd.Flags().String("secret-key", "", "S3 secret key (empty for anonymous)")
	rootCmd.Flags().Bool("secure", true, "Use HTTPS for S3")

	// Download flags
	rootCmd.Flags().StringP("outdir", "o", ".", "Output directory")
	rootCmd.Flags().IntP("parallel-files", "p", 1, "Number of files downloaded concurrently")
	rootCmd.Flags().IntP("threads", "t", 8, "Chunk download workers per file")
	rootCmd.Flags().Int64("chunk-size", 20, "Chunk size in MB")
	rootCmd.Flags().Int("flush-every", 10, "Persist progress every N completed chunks")
	rootCmd.Flags().Int("retries", 5, "Maximum retry attempts per chunk")
	rootCmd.Flags().Int("retry-backoff-ms", 1000, "Initial retry backoff in milliseconds")
	rootCmd.Flags().String("transport", "s3", "Ranged-read transport (s3/http)")
	rootCmd.Flags().Bool("skip-completed", true, "Skip runs already downloaded and verified")
	rootCmd.Flags().String("history", "", "Run history database file (default <outdir>/ebidownload.db)")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display")
	rootCmd.Flags().String("id-file", "", "File with accessions, one per line")

	// Observability flags
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().String("log-file", "", "Also write logs to this file")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus /metrics listen address (empty to disable)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	runIDs := args
	if cfg.Download.IDFile != "" {
		fromFile, err := app.ReadIDFile(cfg.Download.IDFile)
		if err != nil {
			return err
		}
		runIDs = append(runIDs, fromFile...)
	}
	if len(runIDs) == 0 {
		return fmt.Errorf("no accessions given: pass them as arguments or via --id-file")
	}

	downloader, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create downloader: %w", err)
	}

	// Graceful shutdown: stop submitting new work, let in-flight chunk
	// writes finish, persist progress, then exit as interrupted.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, finishing in-flight chunks...")
		cancel()
	}()

	err = downloader.Run(ctx, runIDs)

	if closeErr := downloader.Close(); closeErr != nil {
		log.Error("Error closing downloader", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, transfer.ErrInterrupted) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
