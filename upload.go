package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/chunkuploader/engine/internal/config"
	"github.com/chunkuploader/engine/internal/historylog"
	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/retry"
	"github.com/chunkuploader/engine/internal/session"
)

var (
	flagUploadProvider    string
	flagUploadChunkSize   int64
	flagUploadConcurrency int
	flagUploadAutoTune    bool
	flagUploadMimeType    string
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file in resumable chunks",
		Long: `Uploads a file to the configured provider (S3, Google Drive, or GCS) in
resumable chunks, adapting chunk size to observed network conditions.

Runs in the foreground until the upload reaches Completed, Failed, or
Cancelled. Send SIGINT/SIGTERM to cancel, SIGUSR1 to pause, SIGUSR2 to
resume (or use the pause/resume/cancel subcommands from another shell).`,
		Args: cobra.ExactArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().StringVar(&flagUploadProvider, "provider", "", "override the configured provider (s3, google_drive, gcs)")
	cmd.Flags().Int64Var(&flagUploadChunkSize, "chunk-size", 0, "override the configured chunk size in bytes")
	cmd.Flags().IntVar(&flagUploadConcurrency, "concurrency", 0, "override the configured concurrency")
	cmd.Flags().BoolVar(&flagUploadAutoTune, "auto-tune", true, "adapt chunk size to observed network conditions")
	cmd.Flags().StringVar(&flagUploadMimeType, "mime-type", "", "override the detected MIME type")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Holder.Config()

	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating %s: %w", path, err)
	}

	params := buildUploadParams(cfg)

	adapter, err := buildAdapter(params.ProviderKind, cfg.Upload.BandwidthLimitBps, cc.Logger)
	if err != nil {
		return err
	}

	recorder, err := historylog.Open(cmd.Context(), cfg.Data.HistoryDBPath, cc.Logger)
	if err != nil {
		return fmt.Errorf("opening history log: %w", err)
	}
	defer recorder.Close()

	watcher, err := session.NewFSWatcher()
	if err != nil {
		cc.Logger.Warn("could not start filesystem watch", "error", err.Error())
		watcher = nil
	}

	ctrl := session.New(session.Options{
		ID:          uuid.NewString(),
		File:        &normalizedNameFile{File: f, path: path},
		TotalSize:   info.Size(),
		MimeType:    resolveMimeType(path),
		Params:      params,
		Adapter:     adapter,
		Logger:      cc.Logger,
		Recorder:    recorder,
		Watcher:     watcher,
		HashWorkers: params.Concurrency,
		Policy:      retry.NewPolicyWithAttempts(cfg.Retry.MaxAttemptsPerChunk),
	})
	defer ctrl.Close()

	pidPath := filepath.Join(filepath.Dir(cfg.Data.HistoryDBPath), pidFileName)

	cleanupPID, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanupPID()

	stopSignals := installSessionSignalHandlers(ctrl, cc)
	defer stopSignals()

	stopProgress := startProgressReporter(ctrl, cc)
	defer stopProgress()

	err = ctrl.Start(cmd.Context())

	snap := ctrl.Session().Snapshot()
	printFinalStatus(cc, snap)

	return err
}

// buildUploadParams applies CLI overrides on top of config defaults.
func buildUploadParams(cfg *config.Config) session.Params {
	kind := provider.Kind(cfg.Upload.Provider)
	if flagUploadProvider != "" {
		kind = provider.Kind(flagUploadProvider)
	}

	chunkSize := cfg.Upload.ChunkSizeBytes
	if flagUploadChunkSize > 0 {
		chunkSize = flagUploadChunkSize
	}

	concurrency := cfg.Upload.Concurrency
	if flagUploadConcurrency > 0 {
		concurrency = flagUploadConcurrency
	}

	return session.Params{
		ChunkSize:    chunkSize,
		Concurrency:  concurrency,
		AutoTune:     flagUploadAutoTune && cfg.Upload.AutoTune,
		ProviderKind: kind,
	}
}

func resolveMimeType(path string) string {
	if flagUploadMimeType != "" {
		return flagUploadMimeType
	}

	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}

	return "application/octet-stream"
}

// normalizedNameFile wraps an *os.File so Name() returns the NFC-normalized
// base filename rather than the raw path — the same logical filename must
// hash/session-key identically whether typed on a platform that stores
// filenames NFC- or NFD-decomposed.
type normalizedNameFile struct {
	*os.File
	path string
}

func (n *normalizedNameFile) Name() string {
	return norm.NFC.String(filepath.Base(n.path))
}

// installSessionSignalHandlers wires OS signals to Controller methods:
// SIGUSR1/SIGUSR2 pause/resume in place, SIGINT/SIGTERM cancel the session
// cooperatively (unwinding in-flight requests via the controller's own
// cancellation token, rather than yanking the context ctrl.Start was given
// and leaving the session to fail a threshold check instead of reporting
// Cancelled). A second SIGINT/SIGTERM forces immediate exit.
func installSessionSignalHandlers(ctrl *session.Controller, cc *CLIContext) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGUSR1:
					if err := ctrl.Pause(); err != nil {
						cc.Logger.Warn("pause request ignored", "error", err.Error())
					} else {
						cc.Statusf("paused\n")
					}
				case syscall.SIGUSR2:
					if err := ctrl.Resume(); err != nil {
						cc.Logger.Warn("resume request ignored", "error", err.Error())
					} else {
						cc.Statusf("resumed\n")
					}
				case syscall.SIGINT, syscall.SIGTERM:
					cc.Logger.Info("received signal, cancelling upload", "signal", sig.String())
					go func() { _ = ctrl.Cancel(context.Background()) }()
					waitForSecondForceExit(sigCh, cc)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// waitForSecondForceExit force-exits on a second SIGINT/SIGTERM so a hung
// cancellation can't wedge the terminal.
func waitForSecondForceExit(sigCh chan os.Signal, cc *CLIContext) {
	for sig := range sigCh {
		if sig == syscall.SIGINT || sig == syscall.SIGTERM {
			cc.Logger.Warn("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		}
	}
}

// startProgressReporter polls the session snapshot and redraws a live
// progress line on a TTY, or logs one line per tick otherwise (mirrors the
// teacher's go-isatty-conditional output choice — a redraw would scramble
// piped/redirected output).
func startProgressReporter(ctrl *session.Controller, cc *CLIContext) func() {
	if cc.Quiet {
		return func() {}
	}

	stop := make(chan struct{})
	tty := isatty.IsTerminal(os.Stderr.Fd())

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := ctrl.Session().Snapshot()
				line := formatProgressLine(snap.BytesDone, snap.TotalSize, snap.ProgressPct, snap.SpeedBps, snap.ETASeconds)

				if tty {
					fmt.Fprintf(os.Stderr, "\r%s", line)
				} else {
					fmt.Fprintln(os.Stderr, line)
				}
			case <-stop:
				if tty {
					fmt.Fprintln(os.Stderr)
				}

				return
			}
		}
	}()

	return func() { close(stop) }
}

func printFinalStatus(cc *CLIContext, snap session.Snapshot) {
	switch snap.Status {
	case session.StatusCompleted:
		cc.Statusf("upload completed: %s\n", snap.FinalLocation)
	case session.StatusFailed:
		cc.Statusf("upload failed: %v\n", snap.Err)
	case session.StatusCancelled:
		cc.Statusf("upload cancelled\n")
	}
}

// Statusf prints a status message to stderr unless --quiet is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Quiet, format, args...)
}
