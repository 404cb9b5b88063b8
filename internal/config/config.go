package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Resolver    Resolver `yaml:"resolver"`
	Storage     Storage  `yaml:"storage"`
	Download    Download `yaml:"download"`
	LogLevel    string   `yaml:"log_level"`
	LogFile     string   `yaml:"log_file"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// Resolver configures descriptor resolution against the NCBI API.
type Resolver struct {
	APIKey string `yaml:"api_key"`
}

// Storage configures the S3 transport. The defaults target the public
// archive mirrors with anonymous access.
type Storage struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// Download configures the transfer engine.
type Download struct {
	OutDir         string `yaml:"outdir"`
	ParallelFiles  int    `yaml:"parallel_files"`
	Threads        int    `yaml:"threads"`
	ChunkSizeMB    int64  `yaml:"chunk_size_mb"`
	FlushEvery     int    `yaml:"flush_every"`
	Retries        int    `yaml:"retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
	Transport      string `yaml:"transport"`
	SkipCompleted  bool   `yaml:"skip_completed"`
	History        string `yaml:"history"`
	ShowProgress   bool   `yaml:"show_progress"`
	IDFile         string `yaml:"id_file"`
}

// ChunkSize returns the chunk size in bytes.
func (d Download) ChunkSize() int64 {
	return d.ChunkSizeMB * 1024 * 1024
}

// Load loads configuration from file and command line flags.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Storage: Storage{
			Endpoint: "s3.amazonaws.com",
			Secure:   true,
		},
		Download: Download{
			OutDir:         ".",
			ParallelFiles:  1,
			Threads:        8,
			ChunkSizeMB:    20,
			FlushEvery:     10,
			Retries:        5,
			RetryBackoffMs: 1000,
			Transport:      "s3",
			SkipCompleted:  true,
			ShowProgress:   true,
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("api-key") {
		cfg.Resolver.APIKey, _ = flags.GetString("api-key")
	}

	if flags.Changed("endpoint") {
		cfg.Storage.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("access-key") {
		cfg.Storage.AccessKey, _ = flags.GetString("access-key")
	}
	if flags.Changed("secret-key") {
		cfg.Storage.SecretKey, _ = flags.GetString("secret-key")
	}
	if flags.Changed("secure") {
		cfg.Storage.Secure, _ = flags.GetBool("secure")
	}

	if flags.Changed("outdir") {
		cfg.Download.OutDir, _ = flags.GetString("outdir")
	}
	if flags.Changed("parallel-files") {
		cfg.Download.ParallelFiles, _ = flags.GetInt("parallel-files")
	}
	if flags.Changed("threads") {
		cfg.Download.Threads, _ = flags.GetInt("threads")
	}
	if flags.Changed("chunk-size") {
		cfg.Download.ChunkSizeMB, _ = flags.GetInt64("chunk-size")
	}
	if flags.Changed("flush-every") {
		cfg.Download.FlushEvery, _ = flags.GetInt("flush-every")
	}
	if flags.Changed("retries") {
		cfg.Download.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Download.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("transport") {
		cfg.Download.Transport, _ = flags.GetString("transport")
	}
	if flags.Changed("skip-completed") {
		cfg.Download.SkipCompleted, _ = flags.GetBool("skip-completed")
	}
	if flags.Changed("history") {
		cfg.Download.History, _ = flags.GetString("history")
	}
	if flags.Changed("show-progress") {
		cfg.Download.ShowProgress, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("id-file") {
		cfg.Download.IDFile, _ = flags.GetString("id-file")
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		cfg.LogFile, _ = flags.GetString("log-file")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Download.OutDir == "" {
		return fmt.Errorf("output directory is required")
	}

	if c.Download.ParallelFiles <= 0 {
		return fmt.Errorf("parallel-files must be positive")
	}

	if c.Download.Threads <= 0 {
		return fmt.Errorf("threads must be positive")
	}

	if c.Download.ChunkSizeMB < 1 {
		return fmt.Errorf("chunk size must be at least 1MB")
	}

	if c.Download.Retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}

	if c.Download.Transport != "s3" && c.Download.Transport != "http" {
		return fmt.Errorf("transport must be s3 or http (got %q)", c.Download.Transport)
	}

	if c.Download.Transport == "s3" && c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required for the s3 transport")
	}

	return nil
}
