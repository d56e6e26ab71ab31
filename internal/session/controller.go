package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/chunkuploader/engine/internal/chunker"
	"github.com/chunkuploader/engine/internal/diagnostics"
	"github.com/chunkuploader/engine/internal/hashengine"
	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/retry"
	"github.com/chunkuploader/engine/internal/tuner"
)

// SourceFile is the random-access handle the controller reads chunk bytes
// from. *os.File satisfies this.
type SourceFile interface {
	io.ReaderAt
	Name() string
}

// HistoryRecorder is consulted once, on every terminal transition, so the
// CLI's history/status commands have something to report on after the
// process exits (session state itself is never persisted — see §6).
// Defined here, at the consumer, to avoid a dependency on the concrete
// history-log storage implementation.
type HistoryRecorder interface {
	RecordTerminal(ctx context.Context, snap Snapshot) error
}

// Watcher abstracts filesystem-change notification so tests can inject a
// fake; *fsnotify.Watcher satisfies the subset used here via NewWatcher.
type Watcher interface {
	Add(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// Controller is C8, the Session Controller: it owns a Session's state
// machine and drives C1 (chunker), C2 (hashengine), C3 (diagnostics), C4
// (tuner), C5 (provider.Adapter) and C6 (retry.Policy) through one upload.
// A Controller instance is single-session and single-use.
type Controller struct {
	sess *Session
	cond *sync.Cond

	file SourceFile
	mime string

	hasher *hashengine.Engine
	diag   *diagnostics.Window
	tune   bool
	policy *retry.Policy
	adapter provider.Adapter

	logger   *slog.Logger
	recorder HistoryRecorder
	watcher  Watcher

	sampleCh chan diagnostics.Sample
	stopCh   chan struct{}
	stopOnce sync.Once

	cancelFunc context.CancelFunc // set for the lifetime of the current runToTerminal call
}

// Options configures a new Controller.
type Options struct {
	ID           string
	File         SourceFile
	TotalSize    int64
	MimeType     string
	Params       Params
	Adapter      provider.Adapter
	Logger       *slog.Logger
	HashWorkers  int
	Recorder     HistoryRecorder // optional
	Watcher      Watcher         // optional; nil disables concurrent-modification detection
	Policy       *retry.Policy   // optional; nil uses retry.NewPolicy() (MaxAttemptsPerChunk)
}

// New builds a Controller for one upload session, in status Pending.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	params := opts.Params
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}

	hashWorkers := opts.HashWorkers
	if hashWorkers < 1 {
		hashWorkers = params.Concurrency
	}

	sess := &Session{
		ID:               opts.ID,
		Filename:         opts.File.Name(),
		MimeType:         opts.MimeType,
		TotalSize:        opts.TotalSize,
		Params:           params,
		Status:           StatusPending,
		completedIndices: make(map[int]struct{}),
		failedIndices:    make(map[int]struct{}),
	}

	policy := opts.Policy
	if policy == nil {
		policy = retry.NewPolicy()
	}

	c := &Controller{
		sess:     sess,
		file:     opts.File,
		mime:     opts.MimeType,
		hasher:   hashengine.New(hashWorkers),
		diag:     diagnostics.New(),
		tune:     opts.Params.AutoTune,
		policy:   policy,
		adapter:  opts.Adapter,
		logger:   logger,
		recorder: opts.Recorder,
		watcher:  opts.Watcher,
		sampleCh: make(chan diagnostics.Sample, params.Concurrency*2+1),
		stopCh:   make(chan struct{}),
	}
	c.cond = sync.NewCond(&sess.mu)

	return c
}

// Session returns the underlying session for Snapshot reads.
func (c *Controller) Session() *Session { return c.sess }

// Start plans the file, hashes it, initializes the provider adapter, and
// runs the dispatch loop to completion (Completed, Failed, or Cancelled).
// It requires the session to be Pending.
func (c *Controller) Start(ctx context.Context) error {
	c.sess.mu.Lock()
	if c.sess.Status != StatusPending {
		status := c.sess.Status
		c.sess.mu.Unlock()

		return fmt.Errorf("session: start requires status Pending, got %s", status)
	}
	c.sess.mu.Unlock()

	chunks, err := chunker.Plan(c.sess.TotalSize, c.sess.Params.ChunkSize)
	if err != nil {
		return c.fail(retry.New(retry.KindValidation, "planning chunks", err))
	}

	fileHash, err := c.hashWhole(ctx)
	if err != nil {
		return c.fail(retry.New(retry.KindHash, "hashing file", err))
	}

	initResult, err := c.initializeWithRetry(ctx, chunks, fileHash)
	if err != nil {
		return c.fail(retry.New(retry.KindInitialize, "initializing upload", err))
	}

	c.sess.mu.Lock()
	c.sess.chunks = make([]trackedChunk, len(chunks))
	for i, ch := range chunks {
		target := provider.ChunkTarget{}
		if i < len(initResult.ChunkTargets) {
			target = initResult.ChunkTargets[i]
		}

		c.sess.chunks[i] = trackedChunk{Chunk: ch, Status: ChunkPending, Target: target}
	}
	c.sess.FileHash = fileHash
	c.sess.UploadID = initResult.UploadID
	c.sess.Status = StatusUploading
	c.sess.StartTime = time.Now()
	c.sess.mu.Unlock()

	if c.watcher != nil {
		if err := c.watcher.Add(c.file.Name()); err != nil {
			c.logger.Warn("session: could not watch source file", slog.String("error", err.Error()))
		} else {
			go c.watchLoop()
		}
	}

	go c.drainSamples()

	return c.runToTerminal(ctx)
}

// Pause requires status Uploading. It stops new chunk dispatch; chunks
// already in flight run to completion.
func (c *Controller) Pause() error {
	c.sess.mu.Lock()
	defer c.sess.mu.Unlock()

	if c.sess.Status != StatusUploading {
		return fmt.Errorf("session: pause requires status Uploading, got %s", c.sess.Status)
	}

	c.sess.Status = StatusPaused
	c.cond.Broadcast()

	return nil
}

// Resume requires status Paused and wakes the parked dispatch loop.
func (c *Controller) Resume() error {
	c.sess.mu.Lock()
	defer c.sess.mu.Unlock()

	if c.sess.Status != StatusPaused {
		return fmt.Errorf("session: resume requires status Paused, got %s", c.sess.Status)
	}

	c.sess.Status = StatusUploading
	c.cond.Broadcast()

	return nil
}

// Cancel is admissible from any non-terminal state (R2: a no-op on an
// already-terminal session — no state change, no adapter.Abort call).
func (c *Controller) Cancel(ctx context.Context) error {
	c.sess.mu.Lock()
	if c.sess.Status.Terminal() {
		c.sess.mu.Unlock()

		return nil
	}

	uploadID := c.sess.UploadID
	c.sess.Status = StatusCancelled
	c.sess.Err = retry.New(retry.KindCancelled, "cancelled by user", nil)
	cancelFunc := c.cancelFunc
	c.cond.Broadcast()
	c.sess.mu.Unlock()

	if cancelFunc != nil {
		cancelFunc() // unwinds every in-flight adapter call at its next suspension point
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	if uploadID != "" {
		if err := c.adapter.Abort(ctx, uploadID); err != nil {
			c.logger.Warn("session: best-effort abort failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Retry requires status Failed. It clears failedIndices, resets attempt
// counters on every failed chunk back to Pending, and resumes dispatch.
func (c *Controller) Retry(ctx context.Context) error {
	c.sess.mu.Lock()
	if c.sess.Status != StatusFailed {
		status := c.sess.Status
		c.sess.mu.Unlock()

		return fmt.Errorf("session: retry requires status Failed, got %s", status)
	}

	for idx := range c.sess.failedIndices {
		c.sess.chunks[idx].Status = ChunkPending
		c.sess.chunks[idx].AttemptCount = 0
	}

	c.sess.failedIndices = make(map[int]struct{})
	c.sess.Status = StatusUploading
	c.sess.Err = nil
	c.cond.Broadcast()
	c.sess.mu.Unlock()

	return c.runToTerminal(ctx)
}

// Close releases background resources (hasher workers, filesystem watch).
// Call once, after the controller reaches a terminal state.
func (c *Controller) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.hasher.Close()

	if c.watcher != nil {
		_ = c.watcher.Close()
	}
}

func (c *Controller) fail(rerr *retry.Error) error {
	c.sess.mu.Lock()
	c.sess.Status = StatusFailed
	c.sess.Err = rerr
	c.sess.EndTime = time.Now()
	c.sess.mu.Unlock()

	c.record(context.Background())

	return rerr
}

func (c *Controller) hashWhole(ctx context.Context) (string, error) {
	ch, err := c.hasher.HashFile(ctx, c.file, c.sess.TotalSize)
	if err != nil {
		return "", err
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Digest, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Controller) initializeWithRetry(
	ctx context.Context, chunks []chunker.Chunk, fileHash string,
) (provider.InitResult, error) {
	policy := retry.NewPolicyWithAttempts(retry.InitializeAttempts)

	info := provider.FileInfo{
		Filename:   c.sess.Filename,
		TotalSize:  c.sess.TotalSize,
		FileHash:   fileHash,
		ChunkCount: len(chunks),
		MimeType:   c.mime,
	}

	var lastErr error

	for attempt := 0; ; attempt++ {
		res, err := c.adapter.Initialize(ctx, info)
		if err == nil {
			return res, nil
		}

		lastErr = err

		outcome := policy.Decide(attempt, retry.KindInitialize)
		if !outcome.Retry {
			return provider.InitResult{}, lastErr
		}

		if sleepErr := sleepCtx(ctx, outcome.Delay); sleepErr != nil {
			return provider.InitResult{}, sleepErr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runToTerminal runs the dispatch loop and, on all-chunks-complete,
// finalizes the upload; it returns once the session reaches any terminal
// status. It derives a cancelable context so Cancel can unwind in-flight
// adapter calls cooperatively (§5: "a single cancellation token is
// associated with the session").
func (c *Controller) runToTerminal(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	c.sess.mu.Lock()
	c.cancelFunc = cancel
	c.sess.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.sess.Params.Concurrency)

	c.dispatchLoop(gctx, g)

	_ = g.Wait() // worker errors are recorded on the session, not returned here

	c.sess.mu.Lock()
	allDone := len(c.sess.completedIndices) == len(c.sess.chunks)
	status := c.sess.Status
	c.sess.mu.Unlock()

	if status == StatusUploading && allDone {
		c.finalize(ctx)
	}

	c.sess.mu.Lock()
	finalStatus := c.sess.Status
	c.sess.mu.Unlock()

	// context.Background(), not ctx: Cancel has already canceled ctx, and
	// the Cancelled outcome must still be recorded.
	c.record(context.Background())

	if finalStatus == StatusFailed {
		c.sess.mu.Lock()
		err := c.sess.Err
		c.sess.mu.Unlock()

		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Controller) finalize(ctx context.Context) {
	parts := c.partsForFinalize()

	policy := retry.NewPolicyWithAttempts(retry.FinalizeAttempts)

	var result provider.FinalizeResult

	var err error

	for attempt := 0; ; attempt++ {
		result, err = c.adapter.Finalize(ctx, c.sess.UploadID, parts)
		if err == nil {
			break
		}

		outcome := policy.Decide(attempt, retry.KindFinalize)
		if !outcome.Retry {
			break
		}

		if sleepErr := sleepCtx(ctx, outcome.Delay); sleepErr != nil {
			err = sleepErr

			break
		}
	}

	c.sess.mu.Lock()
	defer c.sess.mu.Unlock()

	if err != nil {
		c.sess.Status = StatusFailed
		c.sess.Err = retry.New(retry.KindFinalize, "finalize failed", err)
	} else {
		c.sess.Status = StatusCompleted
		c.sess.FinalLocation = result.FinalURL
	}

	c.sess.EndTime = time.Now()
}

// partsForFinalize builds the S3 CompleteMultipartUpload payload, sorted
// ascending by PartNumber (P6); ignored by providers where the last
// chunk's 2xx response is itself completion.
func (c *Controller) partsForFinalize() []provider.Part {
	c.sess.mu.Lock()
	defer c.sess.mu.Unlock()

	parts := make([]provider.Part, len(c.sess.chunks))
	for i, ch := range c.sess.chunks {
		parts[i] = provider.Part{PartNumber: ch.Index + 1, ETag: ch.ETag}
	}

	return parts
}

func (c *Controller) record(ctx context.Context) {
	if c.recorder == nil {
		return
	}

	if err := c.recorder.RecordTerminal(ctx, c.sess.Snapshot()); err != nil {
		c.logger.Warn("session: recording terminal outcome failed", slog.String("error", err.Error()))
	}
}

// watchLoop fails the session with a Validation error if the source file
// changes before the upload reaches a terminal state.
func (c *Controller) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events():
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			c.sess.mu.Lock()
			if !c.sess.Status.Terminal() {
				c.sess.Status = StatusFailed
				c.sess.Err = retry.New(retry.KindValidation, "source file modified during upload", nil)
				c.cond.Broadcast()
			}
			c.sess.mu.Unlock()

		case <-c.watcher.Errors():
			continue
		case <-c.stopCh:
			return
		}
	}
}

// drainSamples is the single writer into the diagnostics window (§4.3,
// §5): workers post samples over sampleCh; this goroutine is the only
// caller of Window.Add.
func (c *Controller) drainSamples() {
	for {
		select {
		case s := <-c.sampleCh:
			c.diag.Add(s)
		case <-c.stopCh:
			return
		}
	}
}

// maybeRetune consults the tuner once more than MinChunksBeforeTuning
// chunks have completed, adopting a new chunk size (and re-planning the untouched
// tail) only when it diverges enough to be worth it (§4.4).
func (c *Controller) maybeRetune() {
	if !c.tune {
		return
	}

	c.sess.mu.Lock()
	defer c.sess.mu.Unlock()

	if len(c.sess.completedIndices) <= tuner.MinChunksBeforeTuning {
		return
	}

	snap := c.diag.Snapshot()
	proposed := tuner.ProposeChunkSize(snap.MeanSpeed, snap.MeanLatency, c.sess.TotalSize)

	if !tuner.ShouldAdopt(proposed, c.sess.Params.ChunkSize) {
		return
	}

	tailStart, startIndex, ok := untouchedTailLocked(c.sess)
	if !ok {
		return
	}

	replanned := chunker.ReplanTail(c.sess.TotalSize, proposed, tailStart, startIndex)
	if replanned == nil {
		return
	}

	kept := c.sess.chunks[:startIndex]
	tail := make([]trackedChunk, len(replanned))

	for i, ch := range replanned {
		tail[i] = trackedChunk{Chunk: ch, Status: ChunkPending}
	}

	c.sess.chunks = append(append([]trackedChunk{}, kept...), tail...)
	c.sess.Params.ChunkSize = proposed
	c.logger.Debug("session: adopted new chunk size", slog.Int64("chunk_size", proposed))
}

// untouchedTailLocked returns the byte offset and index at which the
// never-attempted tail of the plan begins: the position just past the
// highest index that has ever left ChunkPending. Caller must hold sess.mu.
func untouchedTailLocked(sess *Session) (tailStart int64, startIndex int, ok bool) {
	highestTouched := -1

	for i, ch := range sess.chunks {
		if ch.Status != ChunkPending || ch.AttemptCount > 0 {
			highestTouched = i
		}
	}

	startIndex = highestTouched + 1
	if startIndex >= len(sess.chunks) {
		return 0, 0, false
	}

	return sess.chunks[startIndex].Start, startIndex, true
}
