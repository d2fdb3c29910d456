// Package docx serializes assembled documents as WordprocessingML (.docx).
package docx

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/MeKo-Tech/folio/internal/document"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	Extension   = ".docx"

	// A4 portrait with 1 inch margins, in twentieths of a point.
	pageWidth    = 11906
	pageHeight   = 16838
	pageMargin   = 1440
	contentWidth = pageWidth - 2*pageMargin
)

const (
	nsW = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsR = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

	relStyles = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles"
	relFooter = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/footer"
	relDoc    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
)

// Writer implements document.Serializer for .docx files.
type Writer struct {
	// Modified is stamped on every zip entry; zero means time.Now.
	Modified time.Time
}

var _ document.Serializer = (*Writer)(nil)

// NewWriter returns a DOCX writer.
func NewWriter() *Writer { return &Writer{} }

func (*Writer) ContentType() string { return ContentType }
func (*Writer) Extension() string   { return Extension }

// Serialize writes doc as a complete .docx package to w.
func (wr *Writer) Serialize(w io.Writer, doc *document.AssembledDocument) error {
	if doc == nil {
		return fmt.Errorf("docx: nil document")
	}
	modified := wr.Modified
	if modified.IsZero() {
		modified = time.Now()
	}

	footers := footerParts(doc)

	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", contentTypesXML(len(footers))},
		{"_rels/.rels", rootRelsXML()},
		{"word/_rels/document.xml.rels", documentRelsXML(len(footers))},
		{"word/styles.xml", stylesXML(doc.Style)},
		{"word/document.xml", documentXML(doc, footers)},
	}
	for i, f := range footers {
		parts = append(parts, struct {
			name string
			body string
		}{fmt.Sprintf("word/footer%d.xml", i+1), f.xml})
	}

	zw := zip.NewWriter(w)
	for _, p := range parts {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return fmt.Errorf("docx: create %s: %w", p.name, err)
		}
		if _, err := io.WriteString(fw, p.body); err != nil {
			return fmt.Errorf("docx: write %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("docx: finalize archive: %w", err)
	}
	return nil
}

type footerPart struct {
	section int
	relID   string
	xml     string
}

func footerParts(doc *document.AssembledDocument) []footerPart {
	var out []footerPart
	for i, s := range doc.Sections {
		if s.Footer == nil {
			continue
		}
		n := len(out) + 1
		out = append(out, footerPart{
			section: i,
			relID:   fmt.Sprintf("rIdFooter%d", n),
			xml:     footerXML(s.Footer),
		})
	}
	return out
}

func contentTypesXML(footers int) string {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	sb.WriteString(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	sb.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`)
	sb.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	sb.WriteString(`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>`)
	sb.WriteString(`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>`)
	for i := 1; i <= footers; i++ {
		fmt.Fprintf(&sb, `<Override PartName="/word/footer%d.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.footer+xml"/>`, i)
	}
	sb.WriteString(`</Types>`)
	return sb.String()
}

func rootRelsXML() string {
	return xml.Header +
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
		`<Relationship Id="rId1" Type="` + relDoc + `" Target="word/document.xml"/>` +
		`</Relationships>`
}

func documentRelsXML(footers int) string {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	sb.WriteString(`<Relationship Id="rIdStyles" Type="` + relStyles + `" Target="styles.xml"/>`)
	for i := 1; i <= footers; i++ {
		fmt.Fprintf(&sb, `<Relationship Id="rIdFooter%d" Type="%s" Target="footer%d.xml"/>`, i, relFooter, i)
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

// halfPoints converts a point size to the w:sz unit.
func halfPoints(pt float64) int {
	return int(math.Round(pt * 2))
}

func escape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(stripInvalidXML(s)))
	return sb.String()
}

// stripInvalidXML drops control characters that XML 1.0 cannot carry.
func stripInvalidXML(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF:
			return -1
		}
		return r
	}, s)
}
