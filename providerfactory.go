package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/chunkuploader/engine/internal/oauthtoken"
	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/provider/backend"
	"github.com/chunkuploader/engine/internal/provider/drive"
	"github.com/chunkuploader/engine/internal/provider/gcs"
	"github.com/chunkuploader/engine/internal/provider/s3"
)

// driveScopes is the single scope chunkuploader needs from Google Drive:
// per-file access to the files it itself creates.
var driveScopes = []string{"https://www.googleapis.com/auth/drive.file"}

// gcsScopes grants read-write access to Cloud Storage objects.
var gcsScopes = []string{"https://www.googleapis.com/auth/devstorage.read_write"}

// transferHTTPClient has no timeout: large chunk PUTs on a slow link can
// run well past any fixed deadline, so transfers are bounded by context
// cancellation instead (mirrors the teacher's transferHTTPClient).
func transferHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}

// buildAdapter wires up the provider.Adapter for kind, reading the control
// plane's base URL and (for Drive/GCS) OAuth2 credentials from environment
// variables — the engine itself never performs interactive login (§1).
func buildAdapter(kind provider.Kind, bandwidthLimitBps int64, logger *slog.Logger) (provider.Adapter, error) {
	backendURL := os.Getenv("CHUNKUPLOADER_BACKEND_URL")
	if backendURL == "" {
		return nil, fmt.Errorf("CHUNKUPLOADER_BACKEND_URL is not set (control-plane base URL, see §6)")
	}

	httpClient := transferHTTPClient()

	switch kind {
	case provider.KindS3:
		client := backend.NewClient(backendURL, httpClient, nil, logger)

		return s3.New(client, httpClient, logger).WithBandwidthLimit(bandwidthLimitBps), nil

	case provider.KindGoogleDrive:
		tokens, err := buildOAuthTokenSource(driveScopes, logger)
		if err != nil {
			return nil, err
		}

		client := backend.NewClient(backendURL, httpClient, tokens, logger)

		return drive.New(client, httpClient, logger).WithBandwidthLimit(bandwidthLimitBps), nil

	case provider.KindGCS:
		tokens, err := buildOAuthTokenSource(gcsScopes, logger)
		if err != nil {
			return nil, err
		}

		client := backend.NewClient(backendURL, httpClient, tokens, logger)

		return gcs.New(client, httpClient, logger).WithBandwidthLimit(bandwidthLimitBps), nil

	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

func buildOAuthTokenSource(scopes []string, logger *slog.Logger) (provider.TokenSource, error) {
	clientID := os.Getenv("CHUNKUPLOADER_OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("CHUNKUPLOADER_OAUTH_CLIENT_SECRET")
	refreshToken := os.Getenv("CHUNKUPLOADER_OAUTH_REFRESH_TOKEN")

	if clientID == "" || refreshToken == "" {
		return nil, fmt.Errorf(
			"CHUNKUPLOADER_OAUTH_CLIENT_ID and CHUNKUPLOADER_OAUTH_REFRESH_TOKEN are required for this provider")
	}

	// context.Background(), not a request-scoped context: the returned
	// token source refreshes for the lifetime of the process, long after
	// this constructor call returns.
	return oauthtoken.NewFromRefreshToken(context.Background(), clientID, clientSecret, refreshToken, scopes, logger), nil
}
