package session

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/retry"
)

// memFile is an in-memory SourceFile for tests.
type memFile struct {
	data []byte
	name string
}

func newMemFile(size int) *memFile {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}

	return &memFile{data: data, name: "upload.bin"}
}

func (f *memFile) Name() string { return f.name }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// fakeAdapter is a provider.Adapter stub whose UploadChunk behavior is
// driven by a test-supplied function, addressed by chunk index via a
// header the fake Initialize stamps onto every target.
type fakeAdapter struct {
	mu sync.Mutex

	uploadID    string
	initErr     error
	finalizeErr error
	finalURL    string

	uploadFunc func(idx, attempt int, meta provider.ChunkMeta) (provider.ChunkResult, error)

	attempts      map[int]int
	callTimes     map[int][]time.Time
	finalizeParts []provider.Part
	abortCount    int
	abortIDs      []string

	ctrl *Controller // optional: set after New, for tests that drive Pause/Cancel from inside UploadChunk
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		uploadID:  "up-1",
		attempts:  make(map[int]int),
		callTimes: make(map[int][]time.Time),
	}
}

func (a *fakeAdapter) Initialize(_ context.Context, info provider.FileInfo) (provider.InitResult, error) {
	if a.initErr != nil {
		return provider.InitResult{}, a.initErr
	}

	targets := make([]provider.ChunkTarget, info.ChunkCount)
	for i := range targets {
		targets[i] = provider.ChunkTarget{
			URL:     "http://fake.example/chunk",
			Method:  "PUT",
			Headers: map[string]string{"index": strconv.Itoa(i)},
		}
	}

	return provider.InitResult{UploadID: a.uploadID, ChunkTargets: targets}, nil
}

func (a *fakeAdapter) UploadChunk(
	_ context.Context, _ io.ReaderAt, target provider.ChunkTarget, meta provider.ChunkMeta,
) (provider.ChunkResult, error) {
	idx, _ := strconv.Atoi(target.Headers["index"])

	a.mu.Lock()
	a.attempts[idx]++
	attempt := a.attempts[idx]
	a.callTimes[idx] = append(a.callTimes[idx], time.Now())
	a.mu.Unlock()

	return a.uploadFunc(idx, attempt, meta)
}

func (a *fakeAdapter) Finalize(_ context.Context, _ string, parts []provider.Part) (provider.FinalizeResult, error) {
	a.mu.Lock()
	a.finalizeParts = append([]provider.Part{}, parts...)
	a.mu.Unlock()

	if a.finalizeErr != nil {
		return provider.FinalizeResult{}, a.finalizeErr
	}

	return provider.FinalizeResult{FinalURL: a.finalURL}, nil
}

func (a *fakeAdapter) Abort(_ context.Context, uploadID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.abortCount++
	a.abortIDs = append(a.abortIDs, uploadID)

	return nil
}

func newTestController(t *testing.T, file *memFile, params Params, adapter *fakeAdapter) *Controller {
	t.Helper()

	ctrl := New(Options{
		ID:        "sess-1",
		File:      file,
		TotalSize: int64(len(file.data)),
		MimeType:  "application/octet-stream",
		Params:    params,
		Adapter:   adapter,
	})

	t.Cleanup(ctrl.Close)

	return ctrl
}

const mib = 1024 * 1024

// Scenario 1 (§8): clean upload, S3. 5 MiB file, 1 MiB chunks, concurrency 3.
func TestController_CleanUploadS3(t *testing.T) {
	file := newMemFile(5 * mib)
	adapter := newFakeAdapter()
	adapter.finalURL = "https://s3.example/object"
	adapter.uploadFunc = func(idx, _ int, _ provider.ChunkMeta) (provider.ChunkResult, error) {
		return provider.ChunkResult{ETag: "e" + strconv.Itoa(idx+1)}, nil
	}

	ctrl := newTestController(t, file, Params{ChunkSize: mib, Concurrency: 3, ProviderKind: provider.KindS3}, adapter)

	err := ctrl.Start(context.Background())
	require.NoError(t, err)

	snap := ctrl.Session().Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 5, snap.Completed)
	assert.InDelta(t, 100.0, snap.ProgressPct, 0.0001)
	assert.Equal(t, "https://s3.example/object", snap.FinalLocation)

	require.Len(t, adapter.finalizeParts, 5)

	for i, p := range adapter.finalizeParts {
		assert.Equal(t, i+1, p.PartNumber)
		assert.Equal(t, "e"+strconv.Itoa(i+1), p.ETag)
	}
}

// Scenario 2 (§8): last chunk short. 2.5 MiB file, 1 MiB chunks.
func TestController_LastChunkShort(t *testing.T) {
	size := 2*mib + 512*1024
	file := newMemFile(size)
	adapter := newFakeAdapter()
	adapter.uploadFunc = func(_, _ int, _ provider.ChunkMeta) (provider.ChunkResult, error) {
		return provider.ChunkResult{ETag: "e"}, nil
	}

	ctrl := newTestController(t, file, Params{ChunkSize: mib, Concurrency: 2, ProviderKind: provider.KindS3}, adapter)

	require.NoError(t, ctrl.Start(context.Background()))

	snap := ctrl.Session().Snapshot()
	require.Len(t, snap.Chunks, 3)
	assert.Equal(t, int64(524288), snap.Chunks[2].Size)
	assert.True(t, snap.Chunks[2].IsLast)
	assert.Equal(t, int64(size), snap.Chunks[2].EndExclusive)
}

// Scenario 3 (§8): retry then succeed. Chunk 0 gets a 503 then a 200; the
// inter-attempt delay must be >= 1000ms (P7's floor at attempt 0).
func TestController_RetryThenSucceed(t *testing.T) {
	file := newMemFile(2 * mib)
	adapter := newFakeAdapter()
	adapter.uploadFunc = func(idx, attempt int, _ provider.ChunkMeta) (provider.ChunkResult, error) {
		if idx == 0 && attempt == 1 {
			return provider.ChunkResult{}, retry.New(retry.KindTransportTransient, "service unavailable", errors.New("503"))
		}

		return provider.ChunkResult{ETag: "e"}, nil
	}

	ctrl := newTestController(t, file, Params{ChunkSize: mib, Concurrency: 1, ProviderKind: provider.KindS3}, adapter)

	require.NoError(t, ctrl.Start(context.Background()))

	snap := ctrl.Session().Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Completed)

	require.Len(t, adapter.callTimes[0], 2)
	gap := adapter.callTimes[0][1].Sub(adapter.callTimes[0][0])
	assert.GreaterOrEqual(t, gap.Milliseconds(), int64(1000))
}

// Scenario 4 (§8): threshold trip. 10 chunks, 2 permanently fail (HTTP 400
// equivalent); 2 > ceil(0.1*10)=1, so the session escalates to Failed with
// error kind Threshold.
func TestController_ThresholdTrip(t *testing.T) {
	file := newMemFile(10 * mib)
	adapter := newFakeAdapter()
	adapter.uploadFunc = func(idx, _ int, _ provider.ChunkMeta) (provider.ChunkResult, error) {
		if idx == 2 || idx == 7 {
			return provider.ChunkResult{}, retry.New(retry.KindTransportFatal, "bad request", errors.New("400"))
		}

		return provider.ChunkResult{ETag: "e"}, nil
	}

	ctrl := newTestController(t, file, Params{ChunkSize: mib, Concurrency: 4, ProviderKind: provider.KindS3}, adapter)

	err := ctrl.Start(context.Background())
	require.Error(t, err)

	var rerr *retry.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, retry.KindThreshold, rerr.Kind)

	snap := ctrl.Session().Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 2, snap.Failed)
}

// Scenario 5 (§8): 308 resume. Chunk 3 reports incomplete at byte 524288 on
// its first attempt; the second attempt must re-issue only the tail.
func TestController_ResumeAfter308(t *testing.T) {
	file := newMemFile(4 * mib)
	adapter := newFakeAdapter()

	var secondAttemptStart int64

	adapter.uploadFunc = func(idx, attempt int, meta provider.ChunkMeta) (provider.ChunkResult, error) {
		if idx == 3 && attempt == 1 {
			return provider.ChunkResult{Incomplete: true, NextByte: 524288},
				retry.New(retry.KindTransportTransient, "incomplete", errors.New("308"))
		}

		if idx == 3 && attempt == 2 {
			secondAttemptStart = meta.Start
		}

		return provider.ChunkResult{ETag: "e"}, nil
	}

	ctrl := newTestController(t, file, Params{ChunkSize: mib, Concurrency: 2, ProviderKind: provider.KindGoogleDrive}, adapter)

	require.NoError(t, ctrl.Start(context.Background()))

	snap := ctrl.Session().Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, int64(3*mib+524288), secondAttemptStart)
}

// Scenario 6 (§8): pause then cancel. 8 chunks; pause once 3 complete, then
// cancel. No further dispatches after pause; abort invoked exactly once.
func TestController_PauseThenCancel(t *testing.T) {
	file := newMemFile(8 * mib)
	adapter := newFakeAdapter()

	var (
		mu        sync.Mutex
		completed int
	)

	pausedCh := make(chan struct{})
	var pauseOnce sync.Once

	adapter.uploadFunc = func(_, _ int, _ provider.ChunkMeta) (provider.ChunkResult, error) {
		time.Sleep(10 * time.Millisecond) // give the test room to observe mid-flight state

		mu.Lock()
		completed++
		n := completed
		mu.Unlock()

		if n == 3 {
			pauseOnce.Do(func() {
				_ = adapter.ctrl.Pause()
				close(pausedCh)
			})
		}

		return provider.ChunkResult{ETag: "e"}, nil
	}

	ctrl := newTestController(t, file, Params{ChunkSize: mib, Concurrency: 2, ProviderKind: provider.KindS3}, adapter)
	adapter.ctrl = ctrl

	doneCh := make(chan error, 1)

	go func() {
		doneCh <- ctrl.Start(context.Background())
	}()

	<-pausedCh
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, ctrl.Cancel(context.Background()))

	err := <-doneCh
	require.NoError(t, err)

	snap := ctrl.Session().Snapshot()
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Less(t, snap.Completed, 8)

	assert.Equal(t, 1, adapter.abortCount)
	assert.Equal(t, []string{"up-1"}, adapter.abortIDs)

	// R2: cancel on an already-terminal session is a no-op.
	require.NoError(t, ctrl.Cancel(context.Background()))
	assert.Equal(t, 1, adapter.abortCount)
}
