// Package drive adapts the shared resumable-upload protocol to Google
// Drive. It carries no behavior of its own beyond naming the storage type.
package drive

import (
	"log/slog"
	"net/http"

	"github.com/chunkuploader/engine/internal/provider/backend"
	"github.com/chunkuploader/engine/internal/provider/resumable"
)

// New builds a Google Drive Adapter.
func New(backendClient *backend.Client, httpClient *http.Client, logger *slog.Logger) *resumable.Adapter {
	return resumable.New("google_drive", backendClient, httpClient, logger)
}
