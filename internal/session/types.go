// Package session implements the Chunk Scheduler and Session Controller
// (C7+C8): the per-session state machine, bounded-concurrency chunk
// dispatch, progress/ETA computation, pause/resume/cancel, and
// initialize/finalize lifecycle across a pluggable provider adapter.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/chunkuploader/engine/internal/chunker"
	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/retry"
)

// Status is the session-level lifecycle state (§4.7).
type Status int

const (
	StatusPending Status = iota
	StatusUploading
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploading:
		return "uploading"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the three terminal states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ChunkStatus is the per-chunk lifecycle state (§3: Pending -> Uploading ->
// (Completed|Failed), with Failed -> Pending permitted for retry).
type ChunkStatus int

const (
	ChunkPending ChunkStatus = iota
	ChunkUploading
	ChunkCompleted
	ChunkFailed
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkUploading:
		return "uploading"
	case ChunkCompleted:
		return "completed"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// trackedChunk augments a planned chunk with its live dispatch state. The
// ResumeOffset field holds the next byte a provider told us to resume from
// on a 308-incomplete response (§4.7 scenario 5); it is reset to 0 whenever
// a chunk is (re)planned fresh.
type trackedChunk struct {
	chunker.Chunk
	Hash         string
	AttemptCount int
	Status       ChunkStatus
	ResumeOffset int64
	Target       provider.ChunkTarget
	ETag         string
}

// Params are the caller-chosen, per-session tuning knobs (§3, §6).
type Params struct {
	ChunkSize    int64
	Concurrency  int
	AutoTune     bool
	ProviderKind provider.Kind
}

// Session is the owning record for one file upload. Its fields are mutated
// under mu by the controller (Start/Pause/Resume/Cancel/Retry) and by its
// chunk worker goroutines; external readers must go through Snapshot, which
// takes the mutex to publish a consistent copy.
type Session struct {
	ID       string
	Filename string
	MimeType string

	TotalSize int64
	Params    Params
	FileHash  string

	chunks []trackedChunk

	completedIndices map[int]struct{}
	failedIndices    map[int]struct{}

	BytesDone  int64
	StartTime  time.Time
	EndTime    time.Time
	SpeedBps   float64
	ETASeconds float64

	Status        Status
	UploadID      string
	FinalLocation string
	Err           *retry.Error

	mu sync.Mutex
}

// ChunkSnapshot is a read-only view of one chunk's current state.
type ChunkSnapshot struct {
	Index        int
	Start        int64
	EndExclusive int64
	Size         int64
	IsLast       bool
	Status       ChunkStatus
	AttemptCount int
}

// Snapshot is a consistent, read-only view of a Session for the CLI/status
// reporting path. It never aliases internal slices/maps.
type Snapshot struct {
	ID            string
	Filename      string
	TotalSize     int64
	ProviderKind  provider.Kind
	Status        Status
	BytesDone     int64
	SpeedBps      float64
	ETASeconds    float64
	ProgressPct   float64
	Chunks        []ChunkSnapshot
	Completed     int
	Failed        int
	FinalLocation string
	Err           *retry.Error
	StartTime     time.Time
	EndTime       time.Time
}

// Snapshot publishes a consistent read of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := make([]ChunkSnapshot, len(s.chunks))
	for i, c := range s.chunks {
		chunks[i] = ChunkSnapshot{
			Index:        c.Index,
			Start:        c.Start,
			EndExclusive: c.EndExclusive,
			Size:         c.Size,
			IsLast:       c.IsLast,
			Status:       c.Status,
			AttemptCount: c.AttemptCount,
		}
	}

	pct := 0.0
	if s.TotalSize > 0 {
		pct = clamp(100*float64(s.BytesDone)/float64(s.TotalSize), 0, 100)
	}

	return Snapshot{
		ID:            s.ID,
		Filename:      s.Filename,
		TotalSize:     s.TotalSize,
		ProviderKind:  s.Params.ProviderKind,
		Status:        s.Status,
		BytesDone:     s.BytesDone,
		SpeedBps:      s.SpeedBps,
		ETASeconds:    s.ETASeconds,
		ProgressPct:   pct,
		Chunks:        chunks,
		Completed:     len(s.completedIndices),
		Failed:        len(s.failedIndices),
		FinalLocation: s.FinalLocation,
		Err:           s.Err,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// FormatETA renders seconds per §4.7: <60s "Ns", <3600s "Nm", else "Nh";
// "Calculating..." when speed is unknown (0, meaning no throughput yet).
func FormatETA(speedBps, etaSeconds float64) string {
	if speedBps <= 0 {
		return "Calculating..."
	}

	switch {
	case etaSeconds < 60:
		return strconv.FormatInt(int64(etaSeconds), 10) + "s"
	case etaSeconds < 3600:
		return strconv.FormatInt(int64(etaSeconds/60), 10) + "m"
	default:
		return strconv.FormatInt(int64(etaSeconds/3600), 10) + "h"
	}
}
