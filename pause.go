package main

import (
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the running upload",
		Long:  "Signals a currently running `upload` process to stop dispatching new chunks; chunks already in flight run to completion.",
		RunE:  runPause,
	}
}

func runPause(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Holder.Config()

	pidPath := filepath.Join(filepath.Dir(cfg.Data.HistoryDBPath), pidFileName)
	if err := sendSignalToRunningUpload(pidPath, syscall.SIGUSR1); err != nil {
		return err
	}

	cc.Statusf("pause requested\n")

	return nil
}
