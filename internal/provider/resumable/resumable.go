// Package resumable implements the shared Drive/GCS resumable-PUT protocol:
// a single resumable_url accepts repeated ranged PUTs, 308 means "send more
// bytes starting at the offset in the Range header," and the last chunk's
// 2xx response IS completion (no explicit finalize call on the data plane —
// only a control-plane metadata lookup for the view URL).
package resumable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/chunkuploader/engine/internal/bandwidth"
	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/provider/backend"
	"github.com/chunkuploader/engine/internal/retry"
)

// Adapter implements provider.Adapter for both Google Drive and GCS, which
// differ only in the storageType string sent to the control plane.
type Adapter struct {
	storageType string
	backend     *backend.Client
	http        *http.Client
	logger      *slog.Logger
	limiter     *bandwidth.Limiter // optional; nil means unlimited
}

// New builds a resumable Adapter for the given storage type ("google_drive"
// or "gcs").
func New(storageType string, backendClient *backend.Client, httpClient *http.Client, logger *slog.Logger) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{storageType: storageType, backend: backendClient, http: httpClient, logger: logger}
}

// WithBandwidthLimit caps the data-plane PUT throughput at bytesPerSec
// (0 or negative means unlimited) and returns the adapter for chaining.
func (a *Adapter) WithBandwidthLimit(bytesPerSec int64) *Adapter {
	a.limiter = bandwidth.New(bytesPerSec)

	return a
}

// Initialize fans the single resumable URL the backend returns out to one
// ChunkTarget per chunk index; every target shares the same URL, since the
// Content-Range header (not the URL) identifies each chunk's position.
func (a *Adapter) Initialize(ctx context.Context, info provider.FileInfo) (provider.InitResult, error) {
	resp, err := a.backend.Initialize(ctx, backend.InitializeRequest{
		Filename:    info.Filename,
		FileSize:    info.TotalSize,
		FileHash:    info.FileHash,
		ChunkCount:  info.ChunkCount,
		StorageType: a.storageType,
		Options:     info.Params,
	}, 1)
	if err != nil {
		return provider.InitResult{}, err
	}

	targets := make([]provider.ChunkTarget, info.ChunkCount)
	for i := range targets {
		targets[i] = provider.ChunkTarget{URL: resp.ResumableURL, Method: http.MethodPut}
	}

	return provider.InitResult{UploadID: resp.UploadID, ChunkTargets: targets}, nil
}

// UploadChunk PUTs the chunk with a Content-Range header. A 308 is reported
// back as Incomplete with NextByte parsed from the Range response header,
// so the scheduler can re-issue just the missing tail; 200 and 201 are
// success, and any other status is a normal transport error.
func (a *Adapter) UploadChunk(
	ctx context.Context, chunkBytes io.ReaderAt, target provider.ChunkTarget, meta provider.ChunkMeta,
) (provider.ChunkResult, error) {
	size := meta.EndExclusive - meta.Start

	var reader io.Reader = io.NewSectionReader(chunkBytes, meta.Start, size)
	reader = a.limiter.WrapReader(ctx, reader)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.URL, reader)
	if err != nil {
		return provider.ChunkResult{}, retry.New(retry.KindTransportTransient, "building request", err)
	}

	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", meta.Start, meta.EndExclusive-1, meta.TotalSize))

	resp, err := a.http.Do(req)
	if err != nil {
		return provider.ChunkResult{}, retry.New(retry.KindTransportTransient, "chunk PUT failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPermanentRedirect: // 308: incomplete, more bytes expected
		next := parseNextByte(resp.Header.Get("Range"))

		return provider.ChunkResult{Incomplete: true, NextByte: next},
			retry.New(retry.KindTransportTransient, "incomplete, more bytes expected", errIncomplete)

	case http.StatusOK, http.StatusCreated:
		etag := strings.Trim(resp.Header.Get("ETag"), `"`)

		return provider.ChunkResult{ETag: etag}, nil

	default:
		body, _ := io.ReadAll(resp.Body)
		kind := retry.ClassifyHTTPStatus(resp.StatusCode)

		return provider.ChunkResult{}, retry.New(kind, fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("%s", body))
	}
}

// errIncomplete is the sentinel wrapped by a 308 response.
var errIncomplete = fmt.Errorf("resumable: upload incomplete")

// parseNextByte reads a "Range: bytes=0-N" header and returns N+1, the next
// byte the provider expects. Returns 0 if the header is missing/malformed.
func parseNextByte(rangeHeader string) int64 {
	const prefix = "bytes=0-"
	if !strings.HasPrefix(rangeHeader, prefix) {
		return 0
	}

	n, err := strconv.ParseInt(strings.TrimPrefix(rangeHeader, prefix), 10, 64)
	if err != nil {
		return 0
	}

	return n + 1
}

// Finalize performs no data-plane call — the last chunk's 2xx response
// already completed the upload. It only looks up the final view URL via
// the control plane's metadata endpoint.
func (a *Adapter) Finalize(ctx context.Context, uploadID string, _ []provider.Part) (provider.FinalizeResult, error) {
	resp, err := a.backend.Finalize(ctx, a.storageType, uploadID, nil, 1)
	if err != nil {
		return provider.FinalizeResult{}, err
	}

	return provider.FinalizeResult{FinalURL: resp.FinalURL}, nil
}

// Abort is idempotent: backend.Client already translates "not found" into
// a nil error.
func (a *Adapter) Abort(ctx context.Context, uploadID string) error {
	return a.backend.Abort(ctx, a.storageType, uploadID, 1)
}
