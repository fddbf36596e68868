package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/cache"
)

type countingEmbedder struct {
	*MockEmbedder
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.MockEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder_MemoizesByNormalizedText(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	e := NewCachedEmbedder(inner, cache.New[[]float32]("embeddings", cache.Config{}))

	a, err := e.Embed(context.Background(), "Bonjour  le monde")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "bonjour le monde")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, 8, e.Dimensions())
}

func TestCachedEmbedder_ConcurrentCallsShareOneComputation(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8), delay: 20 * time.Millisecond}
	e := NewCachedEmbedder(inner, cache.New[[]float32]("embeddings", cache.Config{}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Embed(context.Background(), "capital of japan")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEmbedder_Invalidate(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	e := NewCachedEmbedder(inner, cache.New[[]float32]("embeddings", cache.Config{}))
	ctx := context.Background()

	_, err := e.Embed(ctx, "neko")
	require.NoError(t, err)
	assert.True(t, e.Invalidate(cache.TextFingerprint("neko")))
	_, err = e.Embed(ctx, "neko")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Computations)
}

func TestCachedEmbedder_ErrorIsReturned(t *testing.T) {
	boom := errors.New("model offline")
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8), err: boom}
	e := NewCachedEmbedder(inner, cache.New[[]float32]("embeddings", cache.Config{}))

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, boom)
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	a, _ := e.Embed(context.Background(), "inu")
	b, _ := e.Embed(context.Background(), "inu")
	require.Len(t, a, 16)
	assert.Equal(t, a, b)

	var sum float64
	for _, v := range a {
		sum += float64(v * v)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}
