package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "notes.txt", ".hidden.jpg", "sub/c.webp"} {
		path := filepath.Join(dir, name)
		require.NoError(t, EnsureDir(filepath.Dir(path)))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	}

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.JPG"),
		filepath.Join(dir, "sub", "c.webp"),
	}, files)

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(filepath.Join(dir, "a.png")))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "IMG_1.jpg"), OutputPath("/photos/IMG_1.jpg", "out", "", ""))
	assert.Equal(t, filepath.Join("out", "IMG_1_Austria_1_Schilling.webp"),
		OutputPath("IMG_1.jpeg", "out", "Austria, 1 Schilling", "webp"))
	assert.Equal(t, filepath.Join("out", "coin.jpg"), OutputPath("", "out", "", "jpg"))
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "IMG_1.json"), SidecarPath(filepath.Join("out", "IMG_1.webp")))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename(" a/b:c. "))
	assert.Equal(t, "jpg", GetFileExtension("X.JPG"))
	assert.True(t, IsImageFile("coin.jpeg"))
	assert.False(t, IsImageFile("coin.gif"))
}
