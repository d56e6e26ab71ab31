package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chunkuploader/engine/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that do not require config to be
// loaded before running.
const skipConfigAnnotation = "skipConfig"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIContext bundles the resolved config holder and logger every subcommand
// needs, built once in PersistentPreRunE (mirrors the teacher's root.go
// CLIContext/mustCLIContext pattern).
type CLIContext struct {
	Holder *config.Holder
	Logger *slog.Logger
	JSON   bool
	Quiet  bool
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext extracts the CLIContext or panics — a programmer error if
// it fires, since PersistentPreRunE guarantees it is populated for every
// command without skipConfigAnnotation.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command must not skip config loading")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chunkuploader",
		Short:         "Chunked, resumable, multi-provider file upload engine",
		Long:          "Uploads large files to S3, Google Drive, or GCS in resumable chunks, with adaptive sizing and automatic retry.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default: platform config dir)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show info-level logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func loadCLIContext(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cfgPath := flagConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(cfg)
	holder := config.NewHolder(cfg, cfgPath)

	cc := &CLIContext{Holder: holder, Logger: finalLogger, JSON: flagJSON, Quiet: flagQuiet}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger builds an slog.Logger honoring config-file log level and
// format, with CLI flags (--verbose/--debug/--quiet, mutually exclusive)
// taking priority. Pass nil cfg for the pre-config bootstrap logger.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	format := "text"

	if cfg != nil {
		format = cfg.Log.Format

		switch cfg.Log.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		case "warn":
			level = slog.LevelWarn
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits 1.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
