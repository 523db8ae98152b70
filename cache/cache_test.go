package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg/cache"
	"github.com/chaos-io/rembg/cache/memory"
)

func TestAuto(t *testing.T) {
	ctx := context.Background()
	auto := &cache.Auto{Provider: memory.New()}

	var calls atomic.Int32
	loader := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("value"), nil
	}

	t.Run("miss loads", func(t *testing.T) {
		data, hit, err := auto.Get(ctx, "key", loader)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "value", string(data))
	})

	t.Run("hit skips loader", func(t *testing.T) {
		data, hit, err := auto.Get(ctx, "key", loader)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "value", string(data))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("loader error is not cached", func(t *testing.T) {
		want := errors.New("boom")
		_, _, err := auto.Get(ctx, "bad", func(ctx context.Context) ([]byte, error) {
			return nil, want
		})
		assert.ErrorIs(t, err, want)

		data, _, err := auto.Get(ctx, "bad", loader)
		require.NoError(t, err)
		assert.Equal(t, "value", string(data))
	})
}

func TestAuto_ConcurrentMisses(t *testing.T) {
	auto := &cache.Auto{Provider: memory.New()}

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, _, err := auto.Get(context.Background(), "same", loader)
			assert.NoError(t, err)
			assert.Equal(t, "shared", string(data))
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
