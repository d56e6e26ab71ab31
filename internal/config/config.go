// Package config loads, validates, and atomically persists the engine's
// TOML configuration file, mirroring the teacher's internal/config
// (load.go/holder.go/write.go/paths.go) shape: a flat defaults-then-decode
// load path, a concurrent-safe Holder for SIGHUP-style reload, and
// atomic (temp file + fsync + rename) writes.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/chunkuploader/engine/internal/provider"
)

// Upload holds the per-session tuning knobs a caller can default from
// config instead of specifying on every invocation (§3, §6).
type Upload struct {
	ChunkSizeBytes    int64  `toml:"chunk_size_bytes"`
	Concurrency       int    `toml:"concurrency"`
	AutoTune          bool   `toml:"auto_tune"`
	Provider          string `toml:"provider"`
	BandwidthLimitBps int64  `toml:"bandwidth_limit_bps"` // 0 means unlimited
}

// Retry holds the chunk retry budget. The scheduler's backoff ladder
// (base delay, cap, jitter) is fixed by §4.6/§7 and not config-exposed;
// only the attempt ceiling is, since operators reasonably differ on how
// many times to hammer a flaky link before giving up.
type Retry struct {
	MaxAttemptsPerChunk int `toml:"max_attempts_per_chunk"`
}

// Log holds structured-logging output settings.
type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// Data holds filesystem locations for state the engine keeps around
// between invocations (the history log; never in-flight session state,
// which is never persisted).
type Data struct {
	HistoryDBPath string `toml:"history_db_path"`
}

// Config is the root of the TOML document.
type Config struct {
	Upload Upload `toml:"upload"`
	Retry  Retry  `toml:"retry"`
	Log    Log    `toml:"log"`
	Data   Data   `toml:"data"`
}

// Default tuning values, chosen to sit inside the tuner's own clamp range
// (internal/tuner: [256 KiB, 16 MiB]) and the dispatch loop's sane
// concurrency band.
const (
	DefaultChunkSizeBytes      = 8 << 20 // 8 MiB
	DefaultConcurrency         = 4
	DefaultMaxAttemptsPerChunk = 5
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

// DefaultConfig returns a Config populated entirely with defaults. Callers
// that find no config file on disk use this directly (zero-config first run).
func DefaultConfig() *Config {
	return &Config{
		Upload: Upload{
			ChunkSizeBytes: DefaultChunkSizeBytes,
			Concurrency:    DefaultConcurrency,
			AutoTune:       true,
			Provider:       string(provider.KindS3),
		},
		Retry: Retry{
			MaxAttemptsPerChunk: DefaultMaxAttemptsPerChunk,
		},
		Log: Log{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Data: Data{
			HistoryDBPath: DefaultHistoryPath(),
		},
	}
}

// Load reads and parses a TOML config file on top of DefaultConfig, so any
// key absent from the file keeps its default value, then validates the
// result.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("config: loading", slog.String("path", path))

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists, otherwise returns DefaultConfig
// unchanged — the zero-config experience: a caller can run the engine
// without ever creating a config file.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("config: no file found, using defaults", slog.String("path", path))

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg *Config) error {
	if cfg.Upload.ChunkSizeBytes <= 0 {
		return fmt.Errorf("config: upload.chunk_size_bytes must be positive, got %d", cfg.Upload.ChunkSizeBytes)
	}

	if cfg.Upload.Concurrency < 1 {
		return fmt.Errorf("config: upload.concurrency must be at least 1, got %d", cfg.Upload.Concurrency)
	}

	if cfg.Upload.BandwidthLimitBps < 0 {
		return fmt.Errorf("config: upload.bandwidth_limit_bps must be non-negative, got %d", cfg.Upload.BandwidthLimitBps)
	}

	switch provider.Kind(cfg.Upload.Provider) {
	case provider.KindS3, provider.KindGoogleDrive, provider.KindGCS:
	default:
		return fmt.Errorf("config: upload.provider %q is not one of s3, google_drive, gcs", cfg.Upload.Provider)
	}

	if cfg.Retry.MaxAttemptsPerChunk < 1 {
		return fmt.Errorf("config: retry.max_attempts_per_chunk must be at least 1, got %d", cfg.Retry.MaxAttemptsPerChunk)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q is not one of text, json", cfg.Log.Format)
	}

	return nil
}
