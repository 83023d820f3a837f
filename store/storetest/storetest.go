// Package storetest holds a behavioural suite every CheckpointStore backend must pass.
package storetest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/docqa/store"
)

// Checkpoint builds a checkpoint for thread at turn with a small JSON state.
func Checkpoint(id, thread string, turn int) *store.Checkpoint {
	return &store.Checkpoint{
		ID:        id,
		ThreadID:  thread,
		Turn:      turn,
		State:     []byte(`{"turn":` + strconv.Itoa(turn) + `}`),
		Metadata:  map[string]any{"source": "test"},
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Run exercises s against the CheckpointStore contract. s must start empty.
func Run(t *testing.T, s store.CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		_, err := s.Load(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Latest(ctx, "empty-thread")
		assert.ErrorIs(t, err, store.ErrNotFound)

		list, err := s.List(ctx, "empty-thread")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("save load latest", func(t *testing.T) {
		thread := "default:1"
		require.NoError(t, s.Save(ctx, Checkpoint("a-2", thread, 2)))
		require.NoError(t, s.Save(ctx, Checkpoint("a-1", thread, 1)))
		require.NoError(t, s.Save(ctx, Checkpoint("b-1", "other:1", 1)))

		loaded, err := s.Load(ctx, "a-1")
		require.NoError(t, err)
		assert.Equal(t, thread, loaded.ThreadID)
		assert.Equal(t, 1, loaded.Turn)
		assert.JSONEq(t, `{"turn":1}`, string(loaded.State))
		assert.Equal(t, "test", loaded.Metadata["source"])

		latest, err := s.Latest(ctx, thread)
		require.NoError(t, err)
		assert.Equal(t, "a-2", latest.ID)

		list, err := s.List(ctx, thread)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a-1", list[0].ID)
		assert.Equal(t, "a-2", list[1].ID)
	})

	t.Run("overwrite", func(t *testing.T) {
		cp := Checkpoint("a-2", "default:1", 2)
		cp.State = []byte(`{"turn":22}`)
		require.NoError(t, s.Save(ctx, cp))

		loaded, err := s.Load(ctx, "a-2")
		require.NoError(t, err)
		assert.JSONEq(t, `{"turn":22}`, string(loaded.State))

		list, err := s.List(ctx, "default:1")
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("delete and clear", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "a-2"))
		_, err := s.Load(ctx, "a-2")
		assert.ErrorIs(t, err, store.ErrNotFound)

		latest, err := s.Latest(ctx, "default:1")
		require.NoError(t, err)
		assert.Equal(t, "a-1", latest.ID)

		require.NoError(t, s.Clear(ctx, "default:1"))
		list, err := s.List(ctx, "default:1")
		require.NoError(t, err)
		assert.Empty(t, list)

		other, err := s.List(ctx, "other:1")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})
}
