package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chunkuploader/engine/internal/historylog"
)

var flagHistoryLimit int

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently recorded upload outcomes",
		Long:  "Reads terminal session records (Completed, Failed, Cancelled) from the history log.",
		RunE:  runHistory,
	}

	cmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "maximum number of records to show")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Holder.Config()

	store, err := historylog.Open(cmd.Context(), cfg.Data.HistoryDBPath, cc.Logger)
	if err != nil {
		return fmt.Errorf("opening history log: %w", err)
	}
	defer store.Close()

	records, err := store.Recent(cmd.Context(), flagHistoryLimit)
	if err != nil {
		return fmt.Errorf("reading history log: %w", err)
	}

	if cc.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(records)
	}

	printHistoryTable(records)

	return nil
}

func printHistoryTable(records []historylog.Record) {
	if len(records) == 0 {
		fmt.Println("no recorded history")

		return
	}

	fmt.Printf("%-36s  %-10s  %-20s  %s\n", "ID", "STATUS", "RECORDED", "FILENAME")

	for _, r := range records {
		fmt.Printf("%-36s  %-10s  %-20s  %s\n", r.ID, r.Status, r.RecordedAt, r.Filename)

		if r.Status == "failed" {
			fmt.Printf("  error: %s: %s\n", r.ErrorKind, r.ErrorMessage)
		}
	}
}
