package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "blobs")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutAndGetObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPath", func(t *testing.T) {
		key := "screenshots/p1/hero.png"
		uri, err := store.PutObject(ctx, key, "image/png", []byte("png-bytes"))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, key), uri)

		got, err := store.GetObject(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), got)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", []byte("data"))
		assert.ErrorContains(t, err, "path traversal")
		_, err = store.GetObject(ctx, "../../etc/passwd")
		assert.ErrorContains(t, err, "path traversal")
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.GetObject(ctx, "nope.png")
		assert.ErrorIs(t, err, pipeline.ErrNotFound)
	})
}
