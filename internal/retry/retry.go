// Package retry implements the chunk retry policy (§4.6) and the error
// taxonomy that the rest of the engine classifies failures into (§7). The
// backoff ladder is built on github.com/sethvargo/go-retry's exponential
// generator; only the upward-only jitter on top of it is hand-rolled,
// because go-retry's own jitter helpers are symmetric (can pull a delay
// below the floor) where the engine's contract requires a lower bound.
package retry

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	sethretry "github.com/sethvargo/go-retry"
)

// Kind classifies why an operation failed, per the error taxonomy in §7.
type Kind int

const (
	KindValidation Kind = iota
	KindInitialize
	KindTransportTransient
	KindTransportFatal
	KindHash
	KindThreshold
	KindFinalize
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInitialize:
		return "initialize"
	case KindTransportTransient:
		return "transport_transient"
	case KindTransportFatal:
		return "transport_fatal"
	case KindHash:
		return "hash"
	case KindThreshold:
		return "threshold"
	case KindFinalize:
		return "finalize"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the user-visible failure shape: {kind, message, chunk_index?}.
type Error struct {
	Kind       Kind
	ChunkIndex *int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.ChunkIndex != nil {
		return fmt.Sprintf("%s: chunk %d: %s", e.Kind, *e.ChunkIndex, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithChunkIndex returns a copy of e addressed to a specific chunk.
func (e *Error) WithChunkIndex(index int) *Error {
	cp := *e
	cp.ChunkIndex = &index

	return &cp
}

// New builds an *Error wrapping cause with the given kind and message.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// ClassifyHTTPStatus maps an HTTP response status code to an error Kind.
// Per §4.6: non-retryable for 4xx except 408 and 429; retryable for 5xx,
// 408, and 429.
func ClassifyHTTPStatus(status int) Kind {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return KindTransportTransient
	default:
		if status >= http.StatusInternalServerError {
			return KindTransportTransient
		}

		if status >= http.StatusBadRequest {
			return KindTransportFatal
		}

		return KindTransportTransient
	}
}

// Retryable reports whether an operation that failed with an error of this
// kind may be retried (as opposed to giving up immediately): transient
// transport and hash errors for chunks, and initialize/finalize failures
// for the session's lifecycle calls.
func Retryable(k Kind) bool {
	switch k {
	case KindTransportTransient, KindHash, KindInitialize, KindFinalize:
		return true
	default:
		return false
	}
}

// Backoff tuning constants (§4.6, §7).
const (
	MaxAttemptsPerChunk = 5
	InitializeAttempts  = 3
	FinalizeAttempts    = 2 // one original attempt plus one retry

	baseDelay      = 1 * time.Second
	maxDelay       = 30 * time.Second
	jitterFraction = 0.1
)

// Outcome is the result of consulting the retry policy for one attempt.
type Outcome struct {
	Retry bool
	Delay time.Duration
}

// Policy is C6: decide(attempt, error) -> Retry(delay) | GiveUp.
type Policy struct {
	maxAttempts int
	randFloat   func() float64
}

// NewPolicy returns the default chunk retry policy (max 5 attempts).
func NewPolicy() *Policy {
	return &Policy{maxAttempts: MaxAttemptsPerChunk, randFloat: rand.Float64}
}

// NewPolicyWithAttempts builds a policy with a custom attempt cap, used for
// the initialize/finalize retry budgets and for a configured chunk budget.
func NewPolicyWithAttempts(maxAttempts int) *Policy {
	return &Policy{maxAttempts: maxAttempts, randFloat: rand.Float64}
}

// Decide implements the pure (attempt, kind) -> Outcome mapping. attempt is
// the zero-based index of the attempt that just failed (0 after the first
// failure).
func (p *Policy) Decide(attempt int, kind Kind) Outcome {
	if !Retryable(kind) {
		return Outcome{Retry: false}
	}

	if attempt+1 >= p.maxAttempts {
		return Outcome{Retry: false}
	}

	return Outcome{Retry: true, Delay: p.delay(attempt)}
}

// delay computes base*2^attempt via go-retry's exponential backoff
// generator (capped at maxDelay), then applies the spec's upward-only
// jitter: min(30s, base*2^attempt*(1+rand[0,0.1))).
func (p *Policy) delay(attempt int) time.Duration {
	b := sethretry.NewExponential(baseDelay)
	b = sethretry.WithCappedDuration(maxDelay, b)

	var d time.Duration

	for i := 0; i <= attempt; i++ {
		next, stop := b.Next()
		if stop {
			d = maxDelay

			break
		}

		d = next
	}

	jittered := float64(d) * (1 + jitterFraction*p.randFloat())
	if jittered > float64(maxDelay) {
		jittered = float64(maxDelay)
	}

	return time.Duration(jittered)
}
