// Package s3 implements the S3-multipart provider adapter: the backend
// hands out one presigned PUT URL per chunk, and finalize submits a sorted
// {PartNumber, ETag} list via CompleteMultipartUpload.
package s3

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/chunkuploader/engine/internal/bandwidth"
	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/provider/backend"
	"github.com/chunkuploader/engine/internal/retry"
)

const storageType = "s3"

// Adapter implements provider.Adapter for S3 multipart upload. It shares no
// state with other Adapter instances.
type Adapter struct {
	backend *backend.Client
	http    *http.Client
	logger  *slog.Logger
	limiter *bandwidth.Limiter // optional; nil means unlimited
}

// New builds an S3 Adapter. httpClient is used for the data-plane PUTs
// against the presigned URLs; backendClient talks to the control plane.
func New(backendClient *backend.Client, httpClient *http.Client, logger *slog.Logger) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{backend: backendClient, http: httpClient, logger: logger}
}

// WithBandwidthLimit caps the data-plane PUT throughput at bytesPerSec
// (0 or negative means unlimited) and returns the adapter for chaining.
func (a *Adapter) WithBandwidthLimit(bytesPerSec int64) *Adapter {
	a.limiter = bandwidth.New(bytesPerSec)

	return a
}

func (a *Adapter) Initialize(ctx context.Context, info provider.FileInfo) (provider.InitResult, error) {
	resp, err := a.backend.Initialize(ctx, backend.InitializeRequest{
		Filename:    info.Filename,
		FileSize:    info.TotalSize,
		FileHash:    info.FileHash,
		ChunkCount:  info.ChunkCount,
		StorageType: storageType,
		Options:     info.Params,
	}, 1)
	if err != nil {
		return provider.InitResult{}, err
	}

	targets := make([]provider.ChunkTarget, len(resp.PresignedURLs))
	for i, u := range resp.PresignedURLs {
		targets[i] = provider.ChunkTarget{
			URL:     u,
			Method:  http.MethodPut,
			Headers: map[string]string{"Content-Type": "application/octet-stream"},
		}
	}

	return provider.InitResult{UploadID: resp.UploadID, ChunkTargets: targets, ObjectKey: resp.ObjectKey}, nil
}

// UploadChunk issues a single PUT to the chunk's presigned URL. Success is
// any 2xx; the adapter strips the surrounding quotes from the ETag header
// per §4.5, and a response without that header yields an empty ETag. It
// never retries — that is the scheduler's job.
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

	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return provider.ChunkResult{}, retry.New(retry.KindTransportTransient, "chunk PUT failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		kind := retry.ClassifyHTTPStatus(resp.StatusCode)

		return provider.ChunkResult{}, retry.New(kind, fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)

	return provider.ChunkResult{ETag: etag}, nil
}

// Finalize submits CompleteMultipartUpload via the control plane, with
// parts sorted ascending by PartNumber (S3 requires strictly increasing
// part numbers; §4.5, P6).
func (a *Adapter) Finalize(ctx context.Context, uploadID string, parts []provider.Part) (provider.FinalizeResult, error) {
	sorted := slices.Clone(parts)
	slices.SortFunc(sorted, func(a, b provider.Part) int {
		return cmp.Compare(a.PartNumber, b.PartNumber)
	})

	resp, err := a.backend.Finalize(ctx, storageType, uploadID, sorted, 1)
	if err != nil {
		return provider.FinalizeResult{}, err
	}

	return provider.FinalizeResult{FinalURL: resp.FinalURL}, nil
}

// Abort is idempotent: backend.Client already translates "not found" into
// a nil error.
func (a *Adapter) Abort(ctx context.Context, uploadID string) error {
	return a.backend.Abort(ctx, storageType, uploadID, 1)
}
