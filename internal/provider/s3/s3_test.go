package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/provider/backend"
	"github.com/chunkuploader/engine/internal/retry"
)

func TestAdapter_UploadChunk_StripsETagQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := New(backend.NewClient(srv.URL, srv.Client(), nil, nil), srv.Client(), nil)

	data := []byte("hello world")
	result, err := adapter.UploadChunk(
		context.Background(), bytes.NewReader(data),
		provider.ChunkTarget{URL: srv.URL, Method: http.MethodPut},
		provider.ChunkMeta{Start: 0, EndExclusive: int64(len(data)), TotalSize: int64(len(data))},
	)

	require.NoError(t, err)
	assert.Equal(t, "abc123", result.ETag)
}

func TestAdapter_UploadChunk_NonRetryableStatusClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	adapter := New(backend.NewClient(srv.URL, srv.Client(), nil, nil), srv.Client(), nil)

	_, err := adapter.UploadChunk(
		context.Background(), bytes.NewReader([]byte("x")),
		provider.ChunkTarget{URL: srv.URL, Method: http.MethodPut},
		provider.ChunkMeta{Start: 0, EndExclusive: 1, TotalSize: 1},
	)

	require.Error(t, err)

	var rerr *retry.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, retry.KindTransportFatal, rerr.Kind)
}

func TestAdapter_Finalize_SortsPartsAscending(t *testing.T) {
	var received backend.FinalizeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"finalUrl":"https://s3.example/obj"}`))
	}))
	defer srv.Close()

	adapter := New(backend.NewClient(srv.URL, srv.Client(), nil, nil), srv.Client(), nil)

	parts := []provider.Part{{PartNumber: 3, ETag: "c"}, {PartNumber: 1, ETag: "a"}, {PartNumber: 2, ETag: "b"}}

	res, err := adapter.Finalize(context.Background(), "up-1", parts)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example/obj", res.FinalURL)

	require.Len(t, received.Parts, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{received.Parts[0].PartNumber, received.Parts[1].PartNumber, received.Parts[2].PartNumber})
}
