package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaki95/tunecache/internal/pathguard"
)

func TestLocalStoreCommit(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "archives")
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	exists, err := s.Exists(ctx, "k.zip")
	require.NoError(t, err)
	assert.False(t, exists)

	p, err := s.Create(ctx, "k.zip")
	require.NoError(t, err)
	_, err = p.Write([]byte("zip bytes"))
	require.NoError(t, err)

	// Not visible before commit.
	exists, err = s.Exists(ctx, "k.zip")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, p.Commit())
	require.NoError(t, p.Abort())

	exists, err = s.Exists(ctx, "k.zip")
	require.NoError(t, err)
	assert.True(t, exists)

	obj, err := s.Open(ctx, "k.zip")
	require.NoError(t, err)
	defer obj.Close()
	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "zip bytes", string(data))
	assert.Equal(t, int64(9), obj.Size)
}

func TestLocalStoreAbortLeavesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	p, err := s.Create(ctx, "k.zip")
	require.NoError(t, err)
	_, err = p.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, p.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = s.Open(ctx, "k.zip")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalStoreRejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../escape.zip", "a/b.zip"} {
		_, err := s.Create(ctx, name)
		assert.ErrorIs(t, err, pathguard.ErrInvalidSegment, name)

		_, err = s.Open(ctx, name)
		assert.ErrorIs(t, err, pathguard.ErrInvalidSegment, name)
	}
}
