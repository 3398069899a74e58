package audio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStorage(t *testing.T) {
	t.Run("creates audio directory", func(t *testing.T) {
		base := t.TempDir()

		storage, err := NewStorage(base)
		require.NoError(t, err)
		require.NotNil(t, storage)

		info, err := os.Stat(filepath.Join(base, "audio"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("rejects empty base path", func(t *testing.T) {
		storage, err := NewStorage("")
		assert.Error(t, err)
		assert.Nil(t, storage)
	})
}

func TestStorage_SaveAndGet(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	audio := []byte("RIFF....WAVEfmt ")

	require.NoError(t, storage.Save("abc123", audio))

	got, err := storage.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestStorage_Save_Validation(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, storage.Save("", []byte("data")))
	assert.Error(t, storage.Save("abc123", nil))
}

func TestStorage_Get_NotFound(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	_, err = storage.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestStorage_Exists(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	assert.False(t, storage.Exists("abc123"))
	assert.False(t, storage.Exists(""))

	require.NoError(t, storage.Save("abc123", []byte("data")))
	assert.True(t, storage.Exists("abc123"))
}

func TestStorage_Delete(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, storage.Save("abc123", []byte("data")))
	require.NoError(t, storage.Delete("abc123"))
	assert.False(t, storage.Exists("abc123"))

	// Deleting again is a no-op.
	assert.NoError(t, storage.Delete("abc123"))

	assert.Error(t, storage.Delete(""))
}

func TestStorage_Save_Overwrite(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, storage.Save("abc123", []byte("first")))
	require.NoError(t, storage.Save("abc123", []byte("second")))

	got, err := storage.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}
