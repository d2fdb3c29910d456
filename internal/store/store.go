// Package store keeps uploaded documents, their pages and cached OCR results.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown documents or pages.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a document or page that already exists.
	ErrExists = errors.New("already exists")
)

// Page is one page image of a document and its cached OCR result.
type Page struct {
	Number   int           `json:"num"`
	Filename string        `json:"filename"`
	OCRDone  bool          `json:"-"`
	OCRText  string        `json:"-"`
	OCRTime  time.Duration `json:"-"`
	OCRMode  string        `json:"-"`
}

// Document is an uploaded set of pages.
type Document struct {
	ID        string    `json:"doc_id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	Pages     []Page    `json:"pages"`
}

// Page returns the page with the given number.
func (d *Document) Page(number int) (Page, bool) {
	for _, p := range d.Pages {
		if p.Number == number {
			return p, true
		}
	}
	return Page{}, false
}

// Store persists documents. Implementations are safe for concurrent use.
type Store interface {
	CreateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	AddPage(ctx context.Context, docID string, page Page) error
	// SetPageResult caches the OCR text of a page.
	SetPageResult(ctx context.Context, docID string, number int, text string, mode string, took time.Duration) error
	// ClearPageResult drops a cached OCR result so the page is processed again.
	ClearPageResult(ctx context.Context, docID string, number int) error
	DeleteDocument(ctx context.Context, id string) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config selects and configures a store backend.
type Config struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	Path   string `mapstructure:"path" yaml:"path" json:"path"`
}

// DefaultConfig keeps documents in memory, like the upload workspace itself.
func DefaultConfig() Config {
	return Config{Driver: DriverMemory, Path: "folio.db"}
}

// Open creates the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewID returns a new time-sortable document ID.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidID reports whether id has the shape produced by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}
