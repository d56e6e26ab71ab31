package retry

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTPStatus(t *testing.T) {
	assert.Equal(t, KindTransportFatal, ClassifyHTTPStatus(http.StatusBadRequest))
	assert.Equal(t, KindTransportFatal, ClassifyHTTPStatus(http.StatusNotFound))
	assert.Equal(t, KindTransportTransient, ClassifyHTTPStatus(http.StatusRequestTimeout))
	assert.Equal(t, KindTransportTransient, ClassifyHTTPStatus(http.StatusTooManyRequests))
	assert.Equal(t, KindTransportTransient, ClassifyHTTPStatus(http.StatusServiceUnavailable))
	assert.Equal(t, KindTransportTransient, ClassifyHTTPStatus(http.StatusInternalServerError))
}

func TestPolicy_GivesUpOnFatalKind(t *testing.T) {
	p := NewPolicy()
	outcome := p.Decide(0, KindTransportFatal)
	assert.False(t, outcome.Retry)
}

func TestPolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	p := NewPolicy()
	// attempt is the zero-based index of the failed attempt; maxAttempts=5 ->
	// attempt 4 is the fifth, so give up.
	outcome := p.Decide(4, KindTransportTransient)
	assert.False(t, outcome.Retry)
}

// P7: retry delays sampled across attempts lie in [1000*2^a, 1.1*1000*2^a] ms, capped at 30000.
func TestPolicy_DelayWithinSpecRange(t *testing.T) {
	p := NewPolicy()
	p.randFloat = func() float64 { return 0 } // lower bound

	for attempt := 0; attempt < 4; attempt++ {
		outcome := p.Decide(attempt, KindTransportTransient)
		assert.True(t, outcome.Retry)

		floor := time.Duration(1000*pow2(attempt)) * time.Millisecond
		assert.Equal(t, floor, outcome.Delay)
	}

	p.randFloat = func() float64 { return 0.9999 } // near upper bound

	for attempt := 0; attempt < 4; attempt++ {
		outcome := p.Decide(attempt, KindTransportTransient)
		floor := float64(1000 * pow2(attempt))
		ceil := floor * 1.1

		ms := float64(outcome.Delay.Milliseconds())
		assert.GreaterOrEqual(t, ms, floor-1)
		assert.LessOrEqual(t, ms, ceil+1)
	}
}

func TestPolicy_DelayCappedAt30s(t *testing.T) {
	p := NewPolicyWithAttempts(10)
	p.randFloat = func() float64 { return 0.9999 }

	outcome := p.Decide(6, KindTransportTransient) // 1000*2^6=64000 uncapped; attempt index 6 is retry-eligible with 10 attempts
	assert.True(t, outcome.Retry)
	assert.LessOrEqual(t, outcome.Delay, maxDelay)
}

func pow2(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 2
	}

	return v
}
