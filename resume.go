package main

import (
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused upload",
		Long:  "Signals a currently running `upload` process, parked by a prior pause, to resume dispatching chunks.",
		RunE:  runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Holder.Config()

	pidPath := filepath.Join(filepath.Dir(cfg.Data.HistoryDBPath), pidFileName)
	if err := sendSignalToRunningUpload(pidPath, syscall.SIGUSR2); err != nil {
		return err
	}

	cc.Statusf("resume requested\n")

	return nil
}
