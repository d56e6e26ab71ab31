// Package backend is an HTTP client for the control-plane service described
// in §6 — the external collaborator that issues upload session identities,
// pre-signed/resumable URLs, and finalizes completed sessions. The engine
// only consumes this JSON contract; it never implements the service itself.
//
// The retry loop mirrors the teacher's graph.Client.doRetry: request,
// classify the response, back off and retry on transient failure, bail out
// on a terminal one. Bandwidth-bearing data-plane PUTs (the actual chunk
// bytes) are issued directly by the provider adapters, not through here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/retry"
)

// ErrNotFound is returned (wrapped) when the control plane reports the
// upload session no longer exists — Abort treats this as success.
var ErrNotFound = errors.New("backend: upload session not found")

// Client talks to POST/GET /api/upload/* and /api/storage/{provider}/*.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     provider.TokenSource // nil for providers that need no bearer token (S3)
	logger     *slog.Logger
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// NewClient builds a backend Client. tokens may be nil.
func NewClient(baseURL string, httpClient *http.Client, tokens provider.TokenSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// InitializeRequest is the JSON body for POST /api/upload/initialize.
type InitializeRequest struct {
	Filename    string            `json:"filename"`
	FileSize    int64             `json:"fileSize"`
	FileHash    string            `json:"fileHash,omitempty"`
	ChunkCount  int               `json:"chunkCount"`
	StorageType string            `json:"storageType"`
	Options     map[string]string `json:"options,omitempty"`
}

// InitializeResponse is the JSON shape returned by initialize. Exactly one
// of PresignedURLs (S3) or ResumableURL (Drive/GCS) is populated.
type InitializeResponse struct {
	UploadID       string   `json:"uploadId"`
	PresignedURLs  []string `json:"presignedUrls,omitempty"`
	ResumableURL   string   `json:"resumableUrl,omitempty"`
	ObjectKey      string   `json:"objectKey,omitempty"`
}

// Initialize calls POST /api/upload/initialize, retrying transient failures
// until maxAttempts attempts have been made.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest, maxAttempts int) (InitializeResponse, error) {
	var resp InitializeResponse

	err := c.doJSON(ctx, http.MethodPost, "/api/upload/initialize", req, &resp, maxAttempts, retry.KindInitialize)

	return resp, err
}

// FinalizeRequest is the JSON body for POST /api/upload/finalize.
type FinalizeRequest struct {
	UploadID    string          `json:"uploadId"`
	StorageType string          `json:"storageType"`
	Parts       []provider.Part `json:"parts,omitempty"`
}

// FinalizeResponse is the JSON shape returned by finalize.
type FinalizeResponse struct {
	Success  bool   `json:"success"`
	FinalURL string `json:"finalUrl"`
}

// Finalize calls POST /api/upload/finalize, retrying transient failures
// until maxAttempts attempts have been made.
func (c *Client) Finalize(
	ctx context.Context, storageType, uploadID string, parts []provider.Part, maxAttempts int,
) (FinalizeResponse, error) {
	req := FinalizeRequest{UploadID: uploadID, StorageType: storageType, Parts: parts}

	var resp FinalizeResponse

	err := c.doJSON(ctx, http.MethodPost, "/api/upload/finalize", req, &resp, maxAttempts, retry.KindFinalize)

	return resp, err
}

// AbortRequest is the JSON body for POST /api/upload/abort.
type AbortRequest struct {
	UploadID string `json:"uploadId"`
}

// Abort calls POST /api/upload/abort. Idempotent: a 404 response is
// translated to a nil error (wrapping ErrNotFound only for inspection).
func (c *Client) Abort(ctx context.Context, storageType, uploadID string, maxAttempts int) error {
	req := AbortRequest{UploadID: uploadID}

	var resp struct {
		Success bool `json:"success"`
	}

	err := c.doJSON(ctx, http.MethodPost, "/api/upload/abort", req, &resp, maxAttempts, retry.KindTransportTransient)

	if errors.Is(err, ErrNotFound) {
		// Treat "not found" as an already-aborted session (idempotent).
		return nil
	}

	return err
}

// StatusResponse mirrors GET /api/upload/status/{uploadId}.
type StatusResponse struct {
	Status          string `json:"status"`
	Progress        float64 `json:"progress"`
	CompletedChunks int    `json:"completedChunks"`
	TotalChunks     int    `json:"totalChunks"`
	FailedChunks    int    `json:"failedChunks"`
	FinalURL        string `json:"finalUrl,omitempty"`
}

// Status calls GET /api/upload/status/{uploadId}. Used only as a
// diagnostic — the engine never relies on it to resume a session.
func (c *Client) Status(ctx context.Context, uploadID string) (StatusResponse, error) {
	var resp StatusResponse

	err := c.doJSON(ctx, http.MethodGet, "/api/upload/status/"+uploadID, nil, &resp, 1, retry.KindTransportTransient)

	return resp, err
}

// doJSON executes one control-plane call with exponential-backoff retry
// via the shared retry.Policy, classifying failures with defaultKind when
// classification would otherwise be ambiguous (e.g. non-HTTP network
// errors).
func (c *Client) doJSON(
	ctx context.Context, method, path string, body, out any, maxAttempts int, defaultKind retry.Kind,
) error {
	policy := retry.NewPolicyWithAttempts(maxAttempts)

	var bodyBytes []byte

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshaling request: %w", err)
		}

		bodyBytes = b
	}

	attempt := 0

	for {
		resp, err := c.doOnce(ctx, method, path, bodyBytes)
		if err != nil {
			outcome := policy.Decide(attempt, defaultKind)
			if !outcome.Retry {
				return retry.New(defaultKind, "request failed", err)
			}

			c.logger.Warn("backend: retrying after transport error",
				slog.String("path", path), slog.Int("attempt", attempt+1), slog.String("error", err.Error()))

			if sleepErr := c.sleepFunc(ctx, outcome.Delay); sleepErr != nil {
				return fmt.Errorf("backend: %s canceled: %w", path, sleepErr)
			}

			attempt++

			continue
		}

		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			if out != nil {
				if decErr := json.NewDecoder(resp.Body).Decode(out); decErr != nil {
					return fmt.Errorf("backend: decoding response from %s: %w", path, decErr)
				}
			}

			return nil
		}

		kind := retry.ClassifyHTTPStatus(resp.StatusCode)
		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusNotFound {
			return retry.New(kind, "not found", fmt.Errorf("%w: %s", ErrNotFound, respBody))
		}

		outcome := policy.Decide(attempt, kind)
		if !outcome.Retry {
			return retry.New(kind, fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("%s", respBody))
		}

		c.logger.Warn("backend: retrying after http error",
			slog.String("path", path), slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt+1))

		if sleepErr := c.sleepFunc(ctx, outcome.Delay); sleepErr != nil {
			return fmt.Errorf("backend: %s canceled: %w", path, sleepErr)
		}

		attempt++
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("backend: building request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		tok, tokErr := c.tokens.Token()
		if tokErr != nil {
			return nil, fmt.Errorf("backend: obtaining token: %w", tokErr)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	c.logger.Debug("backend: request", slog.String("method", method), slog.String("path", path))

	return c.httpClient.Do(req)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
