package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/model"
)

func TestInMemorySnapshotCache(t *testing.T) {
	ctx := context.Background()

	t.Run("missing entry", func(t *testing.T) {
		cache := NewInMemorySnapshotCache(10, zap.NewNop())
		defer cache.Close()

		_, err := cache.Get(ctx, "group-1")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("entries are copied in and out", func(t *testing.T) {
		cache := NewInMemorySnapshotCache(10, zap.NewNop())
		defer cache.Close()

		snapshot := model.NewCVRSnapshot("group-1")
		snapshot.Clients["c1"] = &model.ClientRecord{ID: "c1", DesiredQueryIDs: []string{"q1"}}
		require.NoError(t, cache.Set(ctx, snapshot, time.Minute))

		snapshot.Clients["c1"].DesiredQueryIDs[0] = "changed"

		got, err := cache.Get(ctx, "group-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"q1"}, got.Clients["c1"].DesiredQueryIDs)

		got.Clients["c2"] = &model.ClientRecord{ID: "c2"}
		again, err := cache.Get(ctx, "group-1")
		require.NoError(t, err)
		assert.NotContains(t, again.Clients, "c2")
	})

	t.Run("expired entry", func(t *testing.T) {
		cache := NewInMemorySnapshotCache(10, zap.NewNop())
		defer cache.Close()

		require.NoError(t, cache.Set(ctx, model.NewCVRSnapshot("group-1"), -time.Second))
		_, err := cache.Get(ctx, "group-1")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("evicts when full", func(t *testing.T) {
		cache := NewInMemorySnapshotCache(2, zap.NewNop())
		defer cache.Close()

		require.NoError(t, cache.Set(ctx, model.NewCVRSnapshot("group-1"), time.Minute))
		require.NoError(t, cache.Set(ctx, model.NewCVRSnapshot("group-2"), time.Hour))
		require.NoError(t, cache.Set(ctx, model.NewCVRSnapshot("group-3"), time.Hour))

		assert.Equal(t, 2, cache.Size())
		_, err := cache.Get(ctx, "group-1")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = cache.Get(ctx, "group-3")
		assert.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		cache := NewInMemorySnapshotCache(10, zap.NewNop())
		defer cache.Close()

		require.NoError(t, cache.Set(ctx, model.NewCVRSnapshot("group-1"), time.Minute))
		require.NoError(t, cache.Delete(ctx, "group-1"))
		_, err := cache.Get(ctx, "group-1")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.NoError(t, cache.Close())
	})
}
