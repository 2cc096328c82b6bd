package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/book-expert/story-tts-service/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := objectstore.NewFileStore(dir)
	ctx := context.Background()

	err := store.Put(ctx, "tts/abc.mp3", core.Audio{Data: []byte("frames"), ContentType: core.ContentTypeMPEG})
	require.NoError(t, err)

	got, err := store.Get(ctx, "tts/abc.mp3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("frames"), got.Data)
	assert.Equal(t, core.ContentTypeMPEG, got.ContentType)

	entries, err := os.ReadDir(filepath.Join(dir, "tts"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_GetMissingIsNil(t *testing.T) {
	t.Parallel()

	store := objectstore.NewFileStore(t.TempDir())

	got, err := store.Get(context.Background(), "tts/none.ogg")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	store := objectstore.NewFileStore(t.TempDir())

	for _, key := range []string{"", "../secret.mp3", "/etc/passwd", "tts/../../x.mp3"} {
		_, err := store.Get(context.Background(), key)
		require.ErrorIs(t, err, objectstore.ErrInvalidKey, key)

		err = store.Put(context.Background(), key, core.Audio{Data: []byte("x"), ContentType: ""})
		require.ErrorIs(t, err, objectstore.ErrInvalidKey, key)
	}
}
