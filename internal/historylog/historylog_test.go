package historylog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/retry"
	"github.com/chunkuploader/engine/internal/session"
)

func TestStore_RecordAndQuery(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, ":memory:", nil)
	require.NoError(t, err)

	defer store.Close()

	snap := session.Snapshot{
		ID:           "sess-abc",
		Filename:     "report.pdf",
		TotalSize:    1024,
		ProviderKind: provider.KindS3,
		Status:       session.StatusCompleted,
		StartTime:    time.Now().Add(-time.Minute),
		EndTime:      time.Now(),
		FinalLocation: "https://s3.example/object",
	}

	require.NoError(t, store.RecordTerminal(ctx, snap))

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "sess-abc", records[0].ID)
	require.Equal(t, "completed", records[0].Status)
	require.Equal(t, "https://s3.example/object", records[0].FinalLocation)

	byID, err := store.ByID(ctx, "sess-abc")
	require.NoError(t, err)
	require.Equal(t, "report.pdf", byID.Filename)
}

func TestStore_RecordsFailureKind(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, ":memory:", nil)
	require.NoError(t, err)

	defer store.Close()

	snap := session.Snapshot{
		ID:        "sess-failed",
		Filename:  "video.mp4",
		TotalSize: 2048,
		Status:    session.StatusFailed,
		Err:       retry.New(retry.KindThreshold, "too many chunk failures", nil),
	}

	require.NoError(t, store.RecordTerminal(ctx, snap))

	rec, err := store.ByID(ctx, "sess-failed")
	require.NoError(t, err)
	require.Equal(t, "threshold", rec.ErrorKind)
}
