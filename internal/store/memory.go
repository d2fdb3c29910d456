package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func copyDocument(d *Document) *Document {
	c := *d
	c.Pages = slices.Clone(d.Pages)
	return &c
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s: %w", doc.ID, ErrExists)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	m.docs[doc.ID] = copyDocument(&doc)
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return copyDocument(d), nil
}

func (m *MemoryStore) ListDocuments(context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, *copyDocument(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) AddPage(_ context.Context, docID string, page Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	if _, exists := d.Page(page.Number); exists {
		return fmt.Errorf("page %d of %s: %w", page.Number, docID, ErrExists)
	}
	d.Pages = append(d.Pages, page)
	sort.SliceStable(d.Pages, func(i, j int) bool { return d.Pages[i].Number < d.Pages[j].Number })
	return nil
}

func (m *MemoryStore) updatePage(docID string, number int, fn func(*Page)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	for i := range d.Pages {
		if d.Pages[i].Number == number {
			fn(&d.Pages[i])
			return nil
		}
	}
	return fmt.Errorf("page %d of %s: %w", number, docID, ErrNotFound)
}

func (m *MemoryStore) SetPageResult(_ context.Context, docID string, number int, text, mode string, took time.Duration) error {
	return m.updatePage(docID, number, func(p *Page) {
		p.OCRDone = true
		p.OCRText = text
		p.OCRMode = mode
		p.OCRTime = took
	})
}

func (m *MemoryStore) ClearPageResult(_ context.Context, docID string, number int) error {
	return m.updatePage(docID, number, func(p *Page) {
		p.OCRDone = false
		p.OCRText = ""
		p.OCRMode = ""
		p.OCRTime = 0
	})
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
