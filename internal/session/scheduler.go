package session

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/chunkuploader/engine/internal/diagnostics"
	"github.com/chunkuploader/engine/internal/provider"
	"github.com/chunkuploader/engine/internal/retry"

	"golang.org/x/sync/errgroup"
)

// dispatchLoop is C7: it repeatedly picks the lowest-index Pending chunk
// and hands it to a worker under the errgroup's concurrency limit (the
// same acquire-work-release-around-the-whole-retry-loop shape as the
// teacher's dispatchPool, correcting the source's semaphore-forgets-to-
// release hazard called out in the design notes). Scanning from index 0
// every time means a manually retried chunk at a lower index, or a
// freshly re-planned tail after a tuner adoption, is always picked up
// without any separate bookkeeping: the boundary between "already
// touched" and "never attempted" chunks is simply the highest index that
// has ever left ChunkPending, which only ever moves forward.
func (c *Controller) dispatchLoop(ctx context.Context, g *errgroup.Group) {
	for {
		c.sess.mu.Lock()

		for !c.sess.Status.Terminal() && c.sess.Status != StatusUploading {
			c.cond.Wait()
		}

		if c.sess.Status.Terminal() {
			c.sess.mu.Unlock()

			return
		}

		idx, ok := nextPendingIndexLocked(c.sess)
		if !ok {
			if len(c.sess.completedIndices) == len(c.sess.chunks) {
				c.sess.mu.Unlock()

				return
			}

			// Every remaining chunk is in flight or already failed; wait for
			// one to finish, or for a status change (pause/cancel/threshold).
			c.cond.Wait()
			c.sess.mu.Unlock()

			continue
		}

		c.sess.chunks[idx].Status = ChunkUploading
		c.sess.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		dispatched := idx

		g.Go(func() error {
			c.runChunkWorker(ctx, dispatched)

			return nil
		})
	}
}

func nextPendingIndexLocked(sess *Session) (int, bool) {
	for i := range sess.chunks {
		if sess.chunks[i].Status == ChunkPending {
			return i, true
		}
	}

	return 0, false
}

// runChunkWorker drives one chunk through hash -> upload -> retry, holding
// the same goroutine (and therefore the same errgroup permit) across every
// attempt.
func (c *Controller) runChunkWorker(ctx context.Context, idx int) {
	c.sess.mu.Lock()
	chunk := c.sess.chunks[idx]
	totalSize := c.sess.TotalSize
	c.sess.mu.Unlock()

	hash, err := c.ensureHash(ctx, idx, chunk)
	for hashAttempt := 0; err != nil; hashAttempt++ {
		outcome := c.policy.Decide(hashAttempt, retry.KindHash)
		if !outcome.Retry || sleepCtx(ctx, outcome.Delay) != nil {
			c.finishChunkFailure(idx, (&retry.Error{Kind: retry.KindHash, Message: "hashing chunk", Err: err}).WithChunkIndex(idx))

			return
		}

		hash, err = c.ensureHash(ctx, idx, chunk)
	}

	for {
		c.sess.mu.Lock()
		if c.sess.Status == StatusCancelled {
			c.sess.mu.Unlock()

			return
		}

		attempt := c.sess.chunks[idx].AttemptCount
		resumeOffset := c.sess.chunks[idx].ResumeOffset
		target := c.sess.chunks[idx].Target
		c.sess.mu.Unlock()

		meta := provider.ChunkMeta{
			Start:        chunk.Start + resumeOffset,
			EndExclusive: chunk.EndExclusive,
			TotalSize:    totalSize,
			Hash:         hash,
		}

		begin := time.Now()
		result, uploadErr := c.adapter.UploadChunk(ctx, c.file, target, meta)
		elapsed := time.Since(begin)

		c.sess.mu.Lock()
		c.sess.chunks[idx].AttemptCount++
		c.sess.mu.Unlock()

		if uploadErr == nil {
			c.postSample(meta.EndExclusive-meta.Start, elapsed)
			c.finishChunkSuccess(idx, chunk.Size, result.ETag)

			return
		}

		var rerr *retry.Error
		if !errors.As(uploadErr, &rerr) {
			rerr = retry.New(retry.KindTransportTransient, "unclassified upload error", uploadErr)
		}

		if result.Incomplete {
			c.sess.mu.Lock()
			c.sess.chunks[idx].ResumeOffset = result.NextByte
			c.sess.mu.Unlock()
		}

		outcome := c.policy.Decide(attempt, rerr.Kind)
		if !outcome.Retry {
			c.finishChunkFailure(idx, rerr.WithChunkIndex(idx))

			return
		}

		if sleepErr := sleepCtx(ctx, outcome.Delay); sleepErr != nil {
			c.finishChunkFailure(idx, (&retry.Error{
				Kind: retry.KindCancelled, Message: "cancelled during retry delay", Err: sleepErr,
			}).WithChunkIndex(idx))

			return
		}
	}
}

func (c *Controller) ensureHash(ctx context.Context, idx int, chunk trackedChunk) (string, error) {
	if chunk.Hash != "" {
		return chunk.Hash, nil
	}

	respond, err := c.hasher.HashChunk(ctx, idx, c.file, chunk.Start, chunk.Size)
	if err != nil {
		return "", err
	}

	select {
	case res := <-respond:
		if res.Err != nil {
			return "", res.Err
		}

		c.sess.mu.Lock()
		c.sess.chunks[idx].Hash = res.Digest
		c.sess.mu.Unlock()

		return res.Digest, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// postSample forwards a throughput/latency observation to the single
// diagnostics writer goroutine. It never blocks the worker: the channel is
// sized for the whole concurrency budget, and a full channel just drops
// the sample (diagnostics are informative, not load-bearing for
// correctness).
func (c *Controller) postSample(size int64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}

	sample := diagnostics.Sample{
		SpeedBps:  float64(size) / elapsed.Seconds(),
		LatencyMs: float64(elapsed.Milliseconds()),
		At:        time.Now(),
	}

	select {
	case c.sampleCh <- sample:
	default:
	}
}

func (c *Controller) finishChunkSuccess(idx int, size int64, etag string) {
	c.sess.mu.Lock()
	c.sess.chunks[idx].Status = ChunkCompleted
	c.sess.chunks[idx].ETag = etag
	c.sess.completedIndices[idx] = struct{}{}
	delete(c.sess.failedIndices, idx)
	c.sess.BytesDone += size
	c.updateProgressLocked()
	c.cond.Broadcast()
	c.sess.mu.Unlock()

	c.maybeRetune()
}

// finishChunkFailure records a permanent chunk failure and, per §4.7 step
// 5, re-checks the global failure threshold: more than 10% of chunks
// permanently failed escalates the whole session to Failed.
func (c *Controller) finishChunkFailure(idx int, rerr *retry.Error) {
	c.sess.mu.Lock()
	c.sess.chunks[idx].Status = ChunkFailed
	c.sess.failedIndices[idx] = struct{}{}

	threshold := int(math.Ceil(0.1 * float64(len(c.sess.chunks))))
	if len(c.sess.failedIndices) > threshold && !c.sess.Status.Terminal() {
		c.sess.Status = StatusFailed
		c.sess.Err = retry.New(retry.KindThreshold, "too many chunk failures", rerr)
	}

	c.cond.Broadcast()
	c.sess.mu.Unlock()
}

// updateProgressLocked recomputes speed_bps and eta_seconds (§4.7).
// Caller must hold sess.mu.
func (c *Controller) updateProgressLocked() {
	elapsed := time.Since(c.sess.StartTime).Seconds()

	if elapsed > 0 {
		c.sess.SpeedBps = float64(c.sess.BytesDone) / elapsed
	} else {
		c.sess.SpeedBps = 0
	}

	if c.sess.SpeedBps > 0 {
		remaining := float64(c.sess.TotalSize - c.sess.BytesDone)
		c.sess.ETASeconds = remaining / c.sess.SpeedBps
	} else {
		c.sess.ETASeconds = 0
	}
}
