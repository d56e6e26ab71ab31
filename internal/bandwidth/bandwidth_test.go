package bandwidth

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NonPositiveIsUnlimited(t *testing.T) {
	assert.Nil(t, New(0))
	assert.Nil(t, New(-1))
}

func TestLimiter_WrapReader_NilIsNoOp(t *testing.T) {
	var l *Limiter

	r := l.WrapReader(context.Background(), bytes.NewReader([]byte("hello")))

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLimiter_WrapReader_ThrottlesThroughput(t *testing.T) {
	l := New(1024) // 1 KiB/s, burst 2 KiB

	payload := bytes.Repeat([]byte("x"), 4096) // requires waiting past the burst
	r := l.WrapReader(context.Background(), bytes.NewReader(payload))

	start := time.Now()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, data, len(payload))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}
