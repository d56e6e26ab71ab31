package main

import (
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running upload",
		Long:  "Signals a currently running `upload` process to cancel: it aborts the session with the provider and stops.",
		RunE:  runCancel,
	}
}

func runCancel(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Holder.Config()

	pidPath := filepath.Join(filepath.Dir(cfg.Data.HistoryDBPath), pidFileName)
	if err := sendSignalToRunningUpload(pidPath, syscall.SIGINT); err != nil {
		return err
	}

	cc.Statusf("cancel requested\n")

	return nil
}
