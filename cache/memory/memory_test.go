package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg/cache"
	"github.com/chaos-io/rembg/cache/memory"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	provider := memory.New()

	t.Run("get item", func(t *testing.T) {
		require.NoError(t, provider.Set(ctx, "foo", []byte("bar")))

		data, err := provider.Get(ctx, "foo")
		require.NoError(t, err)
		assert.Equal(t, "bar", string(data))
		assert.Equal(t, 1, provider.Len())
	})

	t.Run("get nonexistent item", func(t *testing.T) {
		_, err := provider.Get(ctx, "notfound")
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("purge", func(t *testing.T) {
		provider.Purge()

		_, err := provider.Get(ctx, "foo")
		assert.ErrorIs(t, err, cache.ErrNotFound)
		assert.Equal(t, 0, provider.Len())
	})
}
