// Package provider defines the capability set every cloud storage adapter
// implements (§4.5): initialize, upload_chunk, finalize, abort. Concrete
// adapters (s3, drive, gcs) live in subpackages and share no state with
// each other or across sessions.
package provider

import (
	"context"
	"io"
)

// Kind identifies which provider variant a session targets.
type Kind string

const (
	KindS3          Kind = "s3"
	KindGoogleDrive Kind = "google_drive"
	KindGCS         Kind = "gcs"
)

// TokenSource provides OAuth2 bearer tokens for providers that need one
// (Drive, GCS). S3 uses presigned URLs and never calls this. Defined here,
// at the consumer, per "accept interfaces, return structs" — the engine
// does not implement OAuth2 login/refresh itself (out of scope, §1); a
// caller-supplied TokenSource is injected at construction.
type TokenSource interface {
	Token() (string, error)
}

// FileInfo describes the file being uploaded, passed to Initialize.
type FileInfo struct {
	Filename   string
	TotalSize  int64
	FileHash   string // lowercase hex SHA-256, optional
	ChunkCount int
	MimeType   string
	Params     map[string]string // provider_params passthrough
}

// ChunkTarget is where and how one chunk is PUT.
type ChunkTarget struct {
	URL     string
	Method  string
	Headers map[string]string
}

// InitResult is what Initialize returns: an upload identity plus, for
// providers that model per-chunk pre-signed URLs (S3), one target per
// chunk index.
type InitResult struct {
	UploadID     string
	ChunkTargets []ChunkTarget
	ObjectKey    string
}

// ChunkMeta is the byte-range and integrity context for one chunk upload.
type ChunkMeta struct {
	Start, EndExclusive, TotalSize int64
	Hash                           string // lowercase hex SHA-256 of the chunk
}

// ChunkResult is the outcome of one upload_chunk call.
type ChunkResult struct {
	ETag       string
	Incomplete bool  // Drive/GCS 308: more bytes expected
	NextByte   int64 // valid only when Incomplete
}

// Part is one completed part, used by S3's CompleteMultipartUpload.
type Part struct {
	PartNumber int
	ETag       string
}

// FinalizeResult carries the final, publicly resolvable object location.
type FinalizeResult struct {
	FinalURL string
}

// Adapter is the polymorphic capability set described in §4.5. Every call
// is asynchronous and returns on success or fails with an error wrapping
// one of the *retry.Error kinds in §7. Adapters never retry internally —
// retry is entirely the scheduler's concern (C6/C7).
type Adapter interface {
	// Initialize opens a resumable upload session for info.
	Initialize(ctx context.Context, info FileInfo) (InitResult, error)

	// UploadChunk transfers chunkBytes[meta.Start:meta.EndExclusive] to
	// target. chunkBytes is the whole file, shared read-only; the adapter
	// slices it itself via an io.SectionReader so each retry attempt reads
	// fresh bytes without racing a previous attempt's transport goroutine.
	UploadChunk(ctx context.Context, chunkBytes io.ReaderAt, target ChunkTarget, meta ChunkMeta) (ChunkResult, error)

	// Finalize completes the session. parts is populated (and must be
	// submitted in ascending PartNumber order) for providers that need an
	// explicit completion call (S3); it is ignored by providers where the
	// last chunk's 2xx response IS completion (Drive, GCS).
	Finalize(ctx context.Context, uploadID string, parts []Part) (FinalizeResult, error)

	// Abort cancels an in-progress session. Must be idempotent: "not
	// found" is success.
	Abort(ctx context.Context, uploadID string) error
}
