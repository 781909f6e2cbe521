package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCursor(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCursor()

	t.Run("Unset", func(t *testing.T) {
		_, ok, err := c.Get(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, 5))
		v, ok, err := c.Get(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(5), v)
	})

	t.Run("NeverDecreases", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, 3))
		v, _, _ := c.Get(ctx)
		assert.Equal(t, int64(5), v)

		require.NoError(t, c.Set(ctx, 9))
		v, _, _ = c.Get(ctx)
		assert.Equal(t, int64(9), v)
	})

	t.Run("ZeroIsAValidCursor", func(t *testing.T) {
		fresh := NewMemoryCursor()
		require.NoError(t, fresh.Set(ctx, 0))
		v, ok, _ := fresh.Get(ctx)
		assert.True(t, ok)
		assert.Equal(t, int64(0), v)
	})
}

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource()

	latest, err := src.LatestSequenceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)

	for i := 1; i <= 5; i++ {
		seq := src.Append("A", []byte(fmt.Sprintf(`{"n":%d}`, i)))
		assert.Equal(t, int64(i), seq)
	}

	latest, err = src.LatestSequenceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest)

	t.Run("AfterCursor", func(t *testing.T) {
		events, err := src.EventsAfter(ctx, 2, 100)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(3), events[0].SequenceID)
		assert.Equal(t, int64(5), events[2].SequenceID)
	})

	t.Run("Limit", func(t *testing.T) {
		events, err := src.EventsAfter(ctx, 0, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(2), events[1].SequenceID)
	})

	t.Run("NothingNew", func(t *testing.T) {
		events, err := src.EventsAfter(ctx, 5, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := src.EventsAfter(cctx, 0, 10)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
