package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow_EmptyDefaults(t *testing.T) {
	w := New()
	assert.Equal(t, 0.0, w.MeanSpeed())
	assert.Equal(t, 0.0, w.MeanLatency())
	assert.Equal(t, 0.0, w.LatencyStdDev())
	assert.Equal(t, 0.0, w.Stability())
}

func TestWindow_SingleSample(t *testing.T) {
	w := New()
	w.Add(Sample{SpeedBps: 1000, LatencyMs: 50, At: time.Now()})

	assert.Equal(t, 1000.0, w.MeanSpeed())
	assert.Equal(t, 50.0, w.MeanLatency())
	assert.Equal(t, 0.0, w.LatencyStdDev()) // need >=2 samples
	assert.Equal(t, 1.0, w.Stability())     // stddev 0 -> fully stable
}

func TestWindow_EvictsOldestBeyondCapacity(t *testing.T) {
	w := New()
	for i := 0; i < WindowSize+3; i++ {
		w.Add(Sample{SpeedBps: float64(i), LatencyMs: float64(i), At: time.Now()})
	}

	snap := w.Snapshot()
	assert.Equal(t, WindowSize, snap.Count)

	// Oldest three (0,1,2) evicted; mean over [3..12].
	var sum float64
	for i := 3; i < 13; i++ {
		sum += float64(i)
	}
	assert.InDelta(t, sum/float64(WindowSize), snap.MeanSpeed, 1e-9)
}

func TestWindow_StabilityClampedToUnitRange(t *testing.T) {
	w := New()
	// Highly variable latencies -> stddev can exceed mean -> stability would
	// go negative without clamping.
	w.Add(Sample{LatencyMs: 1})
	w.Add(Sample{LatencyMs: 1000})

	s := w.Stability()
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
}
