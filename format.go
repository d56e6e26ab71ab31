package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/chunkuploader/engine/internal/session"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatProgressLine renders one progress update line: bytes done/total,
// percent, throughput, and ETA, all human-scaled via go-humanize.
func formatProgressLine(bytesDone, totalSize int64, progressPct, speedBps, etaSeconds float64) string {
	return fmt.Sprintf("%s / %s (%.1f%%) at %s/s, ETA %s",
		humanize.Bytes(uint64(bytesDone)),
		humanize.Bytes(uint64(totalSize)),
		progressPct,
		humanize.Bytes(uint64(speedBps)),
		session.FormatETA(speedBps, etaSeconds),
	)
}
