package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileKeepsContentAndSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "disk.img")
	require.NoError(t, CreateSparseFile(src, 3*copyBlockSize+17))

	f, err := os.OpenFile(src, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("boot"), copyBlockSize+5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dst := filepath.Join(dir, "clone", "disk.img")
	require.NoError(t, CopyFile(src, dst))

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCreateSparseFileRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, CreateSparseFile(path, 1024))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), info.Size())
	assert.Error(t, CreateSparseFile(path, 1024))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "configuration.json")
	require.NoError(t, WriteFileAtomic(path, []byte("{}"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`), 0o600))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestMoveEntries(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "staging"), filepath.Join(dir, "cleanup")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b"), nil, 0o644))

	n, err := MoveEntries(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, Exists(filepath.Join(dst, "a.1")))
	assert.True(t, Exists(filepath.Join(dst, "b")))

	n, err = MoveEntries(filepath.Join(dir, "missing"), dst)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := ExpandPath("~/images")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "images"), got)

	_, err = ExpandPath("")
	assert.Error(t, err)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("shot.PNG"))
	assert.True(t, IsImageFile("shot.ppm"))
	assert.False(t, IsImageFile("shot.json"))
}
