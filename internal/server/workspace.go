package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/folio/internal/store"
)

// errOutsideWorkspace is returned for IDs or filenames that would escape
// the upload directory.
var errOutsideWorkspace = errors.New("path outside upload directory")

// workspace owns the on-disk page images, one directory per document.
type workspace struct {
	root string
}

func newWorkspace(dir string) (*workspace, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload directory: %w", err)
	}
	return &workspace{root: abs}, nil
}

// docDir returns the directory of a document.
func (ws *workspace) docDir(docID string) (string, error) {
	if !store.ValidID(docID) {
		return "", fmt.Errorf("%w: invalid document id %q", errOutsideWorkspace, docID)
	}
	return ws.contain(filepath.Join(ws.root, docID))
}

// pagePath returns the path of a file inside a document directory.
func (ws *workspace) pagePath(docID, name string) (string, error) {
	dir, err := ws.docDir(docID)
	if err != nil {
		return "", err
	}
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: invalid filename %q", errOutsideWorkspace, name)
	}
	return ws.contain(filepath.Join(dir, name))
}

func (ws *workspace) contain(path string) (string, error) {
	rel, err := filepath.Rel(ws.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideWorkspace, path)
	}
	return path, nil
}

// createDocument makes the directory of a new document.
func (ws *workspace) createDocument(docID string) (string, error) {
	dir, err := ws.docDir(docID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create document directory: %w", err)
	}
	return dir, nil
}

// removeDocument deletes a document directory and everything in it.
func (ws *workspace) removeDocument(docID string) error {
	dir, err := ws.docDir(docID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// removeOrphans deletes document directories not listed in known and
// returns the removed directory names.
func (ws *workspace) removeOrphans(known map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(ws.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload directory: %w", err)
	}
	var removed []string
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || known[e.Name()] || !store.ValidID(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(ws.root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e.Name())
	}
	return removed, errors.Join(errs...)
}
