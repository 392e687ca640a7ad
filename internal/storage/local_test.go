package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSaveResolveOpen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)

	path, err := store.Save(ctx, "s1", "## Quick Reference\n- V = IR")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "s1", "output.txt"), path)

	resolved, err := store.Resolve(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, path, resolved)

	body, size, err := store.Open(ctx, "s1")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "## Quick Reference\n- V = IR", string(data))
	assert.EqualValues(t, len(data), size)

	entries, err := os.ReadDir(filepath.Join(root, "s1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not remain")
}

func TestLocalSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(ctx, "s1", "first")
	require.NoError(t, err)
	path, err := store.Save(ctx, "s1", "second")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.Save(ctx, fmt.Sprintf("s%d", i), fmt.Sprintf("notes %d", i))
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		body, _, err := store.Open(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		data, err := io.ReadAll(body)
		require.NoError(t, body.Close())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("notes %d", i), string(data))
	}
}

func TestLocalResolveMissing(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrArtifactNotFound)
	_, _, err = store.Open(context.Background(), "missing")
	require.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestLocalRejectsUnsafeIDs(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", ".", "..", "../x", `a\b`} {
		_, err := store.Save(context.Background(), id, "x")
		assert.Error(t, err, "id %q", id)
	}
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "outputs/s1/output.txt", objectPath("outputs", "s1"))
	assert.Equal(t, "s1/output.txt", objectPath("", "s1"))
}

func TestMapGCSError(t *testing.T) {
	err := mapGCSError(fmt.Errorf("read: %w", storage.ErrObjectNotExist), "s1")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	other := errors.New("permission denied")
	assert.Equal(t, other, mapGCSError(other, "s1"))
}
