package hashengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashChunk_MatchesStdlib(t *testing.T) {
	e := New(2)
	defer e.Close()

	data := bytes.Repeat([]byte("abcdefgh"), 1024)
	ra := bytes.NewReader(data)

	ch, err := e.HashChunk(context.Background(), 3, ra, 100, 500)
	require.NoError(t, err)

	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Equal(t, 3, res.Index)

		sum := sha256.Sum256(data[100:600])
		assert.Equal(t, hex.EncodeToString(sum[:]), res.Digest)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hash result")
	}
}

func TestHashFile_UsesFileIndex(t *testing.T) {
	e := New(1)
	defer e.Close()

	data := []byte("hello world")
	ra := bytes.NewReader(data)

	ch, err := e.HashFile(context.Background(), ra, int64(len(data)))
	require.NoError(t, err)

	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, FileIndex, res.Index)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Digest)
}

func TestHashChunk_ConcurrentRequestsRouteIndependently(t *testing.T) {
	e := New(4)
	defer e.Close()

	data := bytes.Repeat([]byte{0xAB}, 4096)
	ra := bytes.NewReader(data)

	chans := make([]<-chan Result, 10)
	for i := range chans {
		ch, err := e.HashChunk(context.Background(), i, ra, int64(i*100), 100)
		require.NoError(t, err)
		chans[i] = ch
	}

	for i, ch := range chans {
		res := <-ch
		require.NoError(t, res.Err)
		assert.Equal(t, i, res.Index)
	}
}
