// Package gcs adapts the shared resumable-upload protocol to Google Cloud
// Storage. It carries no behavior of its own beyond naming the storage type.
package gcs

import (
	"log/slog"
	"net/http"

	"github.com/chunkuploader/engine/internal/provider/backend"
	"github.com/chunkuploader/engine/internal/provider/resumable"
)

// New builds a GCS Adapter.
func New(backendClient *backend.Client, httpClient *http.Client, logger *slog.Logger) *resumable.Adapter {
	return resumable.New("gcs", backendClient, httpClient, logger)
}
