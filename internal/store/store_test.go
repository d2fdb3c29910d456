package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	file, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "folio.db"))
	require.NoError(t, err)
	mem, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	stores := map[string]Store{
		"memory":        NewMemoryStore(),
		"sqlite-file":   file,
		"sqlite-memory": mem,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := NewID()
			require.NoError(t, s.CreateDocument(ctx, Document{
				ID:       id,
				Filename: "scan.pdf",
				Pages:    []Page{{Number: 1, Filename: "page_001.png"}},
			}))
			assert.ErrorIs(t, s.CreateDocument(ctx, Document{ID: id, Filename: "dup"}), ErrExists)

			require.NoError(t, s.AddPage(ctx, id, Page{Number: 3, Filename: "page_003.png"}))
			require.NoError(t, s.AddPage(ctx, id, Page{Number: 2, Filename: "page_002.png"}))
			assert.ErrorIs(t, s.AddPage(ctx, id, Page{Number: 2, Filename: "x"}), ErrExists)
			assert.ErrorIs(t, s.AddPage(ctx, "missing", Page{Number: 1}), ErrNotFound)

			doc, err := s.GetDocument(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "scan.pdf", doc.Filename)
			require.Len(t, doc.Pages, 3)
			assert.Equal(t, []int{1, 2, 3}, []int{doc.Pages[0].Number, doc.Pages[1].Number, doc.Pages[2].Number})
			assert.False(t, doc.Pages[1].OCRDone)

			require.NoError(t, s.SetPageResult(ctx, id, 2, "hello", "fallback", 1500*time.Millisecond))
			assert.ErrorIs(t, s.SetPageResult(ctx, id, 9, "x", "", 0), ErrNotFound)

			doc, err = s.GetDocument(ctx, id)
			require.NoError(t, err)
			p, ok := doc.Page(2)
			require.True(t, ok)
			assert.True(t, p.OCRDone)
			assert.Equal(t, "hello", p.OCRText)
			assert.Equal(t, "fallback", p.OCRMode)
			assert.Equal(t, 1500*time.Millisecond, p.OCRTime)

			require.NoError(t, s.ClearPageResult(ctx, id, 2))
			doc, err = s.GetDocument(ctx, id)
			require.NoError(t, err)
			p, _ = doc.Page(2)
			assert.False(t, p.OCRDone)
			assert.Empty(t, p.OCRText)

			list, err := s.ListDocuments(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, id, list[0].ID)

			require.NoError(t, s.DeleteDocument(ctx, id))
			_, err = s.GetDocument(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.DeleteDocument(ctx, id), ErrNotFound)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateDocument(ctx, Document{ID: "a", Pages: []Page{{Number: 1}}}))

	doc, err := s.GetDocument(ctx, "a")
	require.NoError(t, err)
	doc.Pages[0].OCRText = "mutated"

	again, err := s.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, again.Pages[0].OCRText)
}

func TestSQLiteCascadeDeletesPages(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.CreateDocument(ctx, Document{ID: "d", Pages: []Page{{Number: 1, Filename: "p"}}}))
	require.NoError(t, s.DeleteDocument(ctx, "d"))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestOpen(t *testing.T) {
	s, err := Open(DefaultConfig())
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)

	s, err = Open(Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = Open(Config{Driver: "postgres"})
	assert.Error(t, err)

	_, err = OpenSQLite("")
	assert.Error(t, err)
}

func TestIDs(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.True(t, ValidID(a))
	assert.False(t, ValidID("../etc"))
	assert.False(t, ValidID(""))
}
