// Package document turns normalized OCR text into typed elements and
// assembles them into a paginated document model ready for serialization.
package document

import (
	"slices"
	"strings"
)

// Element is one parsed block of page text: *Heading, *Paragraph or *Table.
type Element interface {
	element()
	// Kind returns "heading", "paragraph" or "table".
	Kind() string
}

// Heading is a markdown heading of level 1 to 3.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Style carries inline emphasis.
type Style struct {
	Bold   bool `json:"bold,omitempty"`
	Italic bool `json:"italic,omitempty"`
}

// Span is a run of text with uniform style.
type Span struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
}

// Paragraph is a line of prose split into styled spans.
type Paragraph struct {
	Spans []Span `json:"spans"`
}

// Text returns the paragraph with emphasis markers removed.
func (p *Paragraph) Text() string {
	var sb strings.Builder
	for _, s := range p.Spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// Table is a grid of cell strings. Rows may be ragged. HeaderRows is a
// sorted set of row indices.
type Table struct {
	Rows       [][]string `json:"rows"`
	HeaderRows []int      `json:"header_rows"`
}

// IsHeader reports whether row i is a header row.
func (t *Table) IsHeader(i int) bool {
	_, ok := slices.BinarySearch(t.HeaderRows, i)
	return ok
}

// Columns returns the width of the widest row.
func (t *Table) Columns() int {
	n := 0
	for _, r := range t.Rows {
		n = max(n, len(r))
	}
	return n
}

func (*Heading) element()   {}
func (*Paragraph) element() {}
func (*Table) element()     {}

func (*Heading) Kind() string   { return "heading" }
func (*Paragraph) Kind() string { return "paragraph" }
func (*Table) Kind() string     { return "table" }
