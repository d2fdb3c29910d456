package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pages (
	doc_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	num       INTEGER NOT NULL,
	filename  TEXT NOT NULL,
	ocr_done  INTEGER NOT NULL DEFAULT 0,
	ocr_text  TEXT NOT NULL DEFAULT '',
	ocr_mode  TEXT NOT NULL DEFAULT '',
	ocr_ns    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (doc_id, num)
);
`

// SQLiteStore persists documents in an SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteDSN builds a DSN that applies the connection pragmas to every
// pooled connection.
func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		"busy_timeout(10000)",
		"synchronous(NORMAL)",
	} {
		q.Add("_pragma", p)
	}
	if path == ":memory:" {
		return path + "?" + q.Encode()
	}
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty path")
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, filename, created_at) VALUES (?, ?, ?)`,
		doc.ID, doc.Filename, doc.CreatedAt.UnixNano()); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("document %s: %w", doc.ID, ErrExists)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	for _, p := range doc.Pages {
		if err := insertPage(ctx, tx, doc.ID, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPage(ctx context.Context, ex execer, docID string, p Page) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO pages (doc_id, num, filename, ocr_done, ocr_text, ocr_mode, ocr_ns) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		docID, p.Number, p.Filename, boolInt(p.OCRDone), p.OCRText, p.OCRMode, int64(p.OCRTime))
	if isConstraint(err) {
		return fmt.Errorf("page %d of %s: %w", p.Number, docID, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	d := &Document{ID: id}
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT filename, created_at FROM documents WHERE id = ?`, id).
		Scan(&d.Filename, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	d.CreatedAt = time.Unix(0, created).UTC()

	pages, err := s.pages(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Pages = pages
	return d, nil
}

func (s *SQLiteStore) pages(ctx context.Context, docID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT num, filename, ocr_done, ocr_text, ocr_mode, ocr_ns FROM pages WHERE doc_id = ? ORDER BY num`, docID)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Page
	for rows.Next() {
		var p Page
		var ns int64
		if err := rows.Scan(&p.Number, &p.Filename, &p.OCRDone, &p.OCRText, &p.OCRMode, &ns); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.OCRTime = time.Duration(ns)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *SQLiteStore) AddPage(ctx context.Context, docID string, page Page) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, docID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return insertPage(ctx, s.db, docID, page)
}

func (s *SQLiteStore) updatePage(ctx context.Context, docID string, number int, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append(args, docID, number)...)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("page %d of %s: %w", number, docID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SetPageResult(ctx context.Context, docID string, number int, text, mode string, took time.Duration) error {
	return s.updatePage(ctx, docID, number,
		`UPDATE pages SET ocr_done = 1, ocr_text = ?, ocr_mode = ?, ocr_ns = ? WHERE doc_id = ? AND num = ?`,
		text, mode, int64(took))
}

func (s *SQLiteStore) ClearPageResult(ctx context.Context, docID string, number int) error {
	return s.updatePage(ctx, docID, number,
		`UPDATE pages SET ocr_done = 0, ocr_text = '', ocr_mode = '', ocr_ns = 0 WHERE doc_id = ? AND num = ?`)
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
