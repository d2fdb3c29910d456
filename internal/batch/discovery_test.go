package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func imagesOnly(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".png" || ext == ".jpg"
}

func TestDiscoverInputs_ExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	png := touch(t, filepath.Join(dir, "b.png"))
	txt := touch(t, filepath.Join(dir, "a.txt"))

	files, err := DiscoverInputs([]string{png, txt}, Options{Accept: imagesOnly})
	require.NoError(t, err)
	assert.Equal(t, []string{png, txt}, files, "explicit files keep their order and skip Accept")

	files, err = DiscoverInputs([]string{png, txt}, Options{Exclude: []string{"*.txt"}})
	require.NoError(t, err)
	assert.Equal(t, []string{png}, files)
}

func TestDiscoverInputs_Directory(t *testing.T) {
	dir := t.TempDir()
	p10 := touch(t, filepath.Join(dir, "page_10.png"))
	p02 := touch(t, filepath.Join(dir, "page_02.jpg"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "sub", "page_01.png"))

	files, err := DiscoverInputs([]string{dir}, Options{Accept: imagesOnly})
	require.NoError(t, err)
	assert.Equal(t, []string{p02, p10}, files)
}

func TestDiscoverInputs_Recursive(t *testing.T) {
	dir := t.TempDir()
	root := touch(t, filepath.Join(dir, "root.png"))
	sub := touch(t, filepath.Join(dir, "sub", "sub.png"))
	touch(t, filepath.Join(dir, "sub", "skip.png"))

	files, err := DiscoverInputs([]string{dir}, Options{
		Recursive: true,
		Accept:    imagesOnly,
		Exclude:   []string{"skip*"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{root, sub}, files)
}

func TestDiscoverInputs_IncludePatterns(t *testing.T) {
	dir := t.TempDir()
	scan := touch(t, filepath.Join(dir, "scan_1.png"))
	touch(t, filepath.Join(dir, "photo.png"))

	files, err := DiscoverInputs([]string{dir}, Options{Include: []string{"scan_*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{scan}, files)
}

func TestDiscoverInputs_Errors(t *testing.T) {
	_, err := DiscoverInputs([]string{"/does/not/exist"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot access")

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "readme.md"))
	_, err = DiscoverInputs([]string{dir}, Options{Accept: imagesOnly})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supported files")
}

func TestDiscoverInputs_Empty(t *testing.T) {
	files, err := DiscoverInputs(nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, files)
}
