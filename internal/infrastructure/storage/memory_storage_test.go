package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttachmentStorage(t *testing.T) {
	s := NewMemoryAttachmentStorage()
	ctx := context.Background()

	t.Run("upload and delete", func(t *testing.T) {
		require.NoError(t, s.Upload(ctx, "a/b.csv", strings.NewReader("x,y"), 3, "text/csv"))
		obj, ok := s.Get("a/b.csv")
		require.True(t, ok)
		assert.Equal(t, "x,y", string(obj.Data))
		assert.Equal(t, "text/csv", obj.ContentType)
		assert.Equal(t, 1, s.Len())

		require.NoError(t, s.Delete(ctx, "a/b.csv"))
		_, ok = s.Get("a/b.csv")
		assert.False(t, ok)
	})

	t.Run("missing key delete is a no-op", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "nope"))
	})

	t.Run("unknown size is accepted", func(t *testing.T) {
		require.NoError(t, s.Upload(ctx, "c.csv", strings.NewReader("abc"), -1, ""))
		obj, ok := s.Get("c.csv")
		require.True(t, ok)
		assert.Len(t, obj.Data, 3)
	})

	t.Run("size mismatch is rejected", func(t *testing.T) {
		err := s.Upload(ctx, "d.csv", strings.NewReader("abc"), 10, "text/csv")
		require.Error(t, err)
		_, ok := s.Get("d.csv")
		assert.False(t, ok)
	})

	t.Run("empty key", func(t *testing.T) {
		assert.Error(t, s.Upload(ctx, "", strings.NewReader(""), 0, ""))
		assert.Error(t, s.Delete(ctx, ""))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, s.Upload(cctx, "e.csv", strings.NewReader("a"), 1, ""))
	})
}
