package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/folio/internal/store"
)

func TestWorkspace_Paths(t *testing.T) {
	ws, err := newWorkspace(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(ws.root))
	assert.DirExists(t, ws.root)

	id := store.NewID()
	path, err := ws.pagePath(id, "page_001.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.root, id, "page_001.png"), path)

	for _, name := range []string{"", ".", "..", "../x.png", "a/b.png", "../../etc/passwd"} {
		_, err := ws.pagePath(id, name)
		assert.ErrorIs(t, err, errOutsideWorkspace, name)
	}
	for _, bad := range []string{"", "..", "../" + id, "not-an-id"} {
		_, err := ws.docDir(bad)
		assert.ErrorIs(t, err, errOutsideWorkspace, bad)
	}
}

func TestWorkspace_RemoveOrphans(t *testing.T) {
	ws, err := newWorkspace(t.TempDir())
	require.NoError(t, err)

	known, orphan := store.NewID(), store.NewID()
	for _, id := range []string{known, orphan} {
		_, err := ws.createDocument(id)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(ws.root, "README"), []byte("x"), 0o644))

	removed, err := ws.removeOrphans(map[string]bool{known: true})
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, removed)
	assert.DirExists(t, filepath.Join(ws.root, known))
	assert.FileExists(t, filepath.Join(ws.root, "README"))

	require.NoError(t, ws.removeDocument(known))
	assert.NoDirExists(t, filepath.Join(ws.root, known))
}
