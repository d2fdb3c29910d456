package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/MeKo-Tech/folio/internal/document"
	"github.com/MeKo-Tech/folio/internal/store"
)

// previewRenderer turns recognized page markdown into sanitized HTML.
// Engine output may carry raw HTML tables, so raw HTML is rendered and then
// passed through a UGC policy.
type previewRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newPreviewRenderer() *previewRenderer {
	return &previewRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

func (p *previewRenderer) render(text string) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(text), &buf); err != nil {
		return nil, err
	}
	return p.policy.SanitizeBytes(buf.Bytes()), nil
}

// previewHandler renders the recognized text of one page as HTML.
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	number, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		s.writeErrorResponse(w, "Invalid page number", http.StatusBadRequest)
		return
	}
	page, ok := doc.Page(number)
	if !ok {
		s.writeErrorResponse(w, fmt.Sprintf("Page %d not found", number), http.StatusNotFound)
		return
	}
	if !page.OCRDone {
		s.writeErrorResponse(w, fmt.Sprintf("Page %d has no OCR result", number), http.StatusConflict)
		return
	}

	body, err := s.preview.render(page.OCRText)
	if err != nil {
		s.writeErrorResponse(w, "Failed to render preview", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// exportHandler assembles the OCR'd pages of a document into a DOCX file.
// The optional pages query selects page numbers, e.g. pages=1,3.
func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	selected, err := parsePageSelection(r.URL.Query().Get("pages"))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	inputs := exportInputs(doc, selected)
	if len(inputs) == 0 {
		exportsTotal.WithLabelValues("empty").Inc()
		s.writeErrorResponse(w, "No OCR results to export", http.StatusConflict)
		return
	}

	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		title = strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename))
	}

	var buf bytes.Buffer
	if err := s.serializer.Serialize(&buf, s.assembler.Build(title, inputs)); err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		slog.Error("Export failed", "doc_id", doc.ID, "error", err)
		s.writeErrorResponse(w, "Failed to build document", http.StatusInternalServerError)
		return
	}
	exportsTotal.WithLabelValues("success").Inc()
	slog.Info("Document exported", "doc_id", doc.ID, "pages", len(inputs), "bytes", buf.Len())

	w.Header().Set("Content-Type", s.serializer.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": title + s.serializer.Extension()}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// exportInputs returns the OCR'd pages in page order, limited to selected
// when it is non-empty.
func exportInputs(doc *store.Document, selected map[int]bool) []document.PageExportInput {
	var inputs []document.PageExportInput
	for _, p := range doc.Pages {
		if !p.OCRDone || (len(selected) > 0 && !selected[p.Number]) {
			continue
		}
		inputs = append(inputs, document.PageExportInput{PageNumber: p.Number, RawText: p.OCRText})
	}
	return inputs
}

func parsePageSelection(s string) (map[int]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	selected := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid page number %q", part)
		}
		selected[n] = true
	}
	return selected, nil
}
