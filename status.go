package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chunkuploader/engine/internal/historylog"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether an upload is running and its most recent outcome",
		Long: `Reports whether an upload process currently holds the PID file lock, and
prints the most recently recorded terminal outcome from the history log.

There is no live in-process state to query across a process boundary: a
running upload's own progress is only visible in its own terminal (see
'upload'). This command reports what another process can observe from the
outside: the PID file and the history log.`,
		RunE: runStatus,
	}
}

type statusReport struct {
	Running bool               `json:"running"`
	PID     int                `json:"pid,omitempty"`
	Recent  *historylog.Record `json:"recent,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Holder.Config()

	report := statusReport{}

	pidPath := filepath.Join(filepath.Dir(cfg.Data.HistoryDBPath), pidFileName)
	if pid, err := readPIDFile(pidPath); err == nil {
		if proc, ferr := os.FindProcess(pid); ferr == nil && proc.Signal(syscall.Signal(0)) == nil {
			report.Running = true
			report.PID = pid
		}
	}

	store, err := historylog.Open(cmd.Context(), cfg.Data.HistoryDBPath, cc.Logger)
	if err != nil {
		return fmt.Errorf("opening history log: %w", err)
	}
	defer store.Close()

	records, err := store.Recent(cmd.Context(), 1)
	if err != nil {
		return fmt.Errorf("reading history log: %w", err)
	}

	if len(records) > 0 {
		report.Recent = &records[0]
	}

	if cc.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printStatusText(report)

	return nil
}

func printStatusText(report statusReport) {
	if report.Running {
		fmt.Printf("upload running (PID %d)\n", report.PID)
	} else {
		fmt.Println("no upload running")
	}

	if report.Recent == nil {
		fmt.Println("no recorded history")

		return
	}

	r := report.Recent
	fmt.Printf("most recent: %s  %s  %s  %s\n", r.ID, r.Filename, r.Status, r.RecordedAt)

	if r.Status == "failed" {
		fmt.Printf("  error: %s: %s\n", r.ErrorKind, r.ErrorMessage)
	}

	if r.FinalLocation != "" {
		fmt.Printf("  location: %s\n", r.FinalLocation)
	}
}
