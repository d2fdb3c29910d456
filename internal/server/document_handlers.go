package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MeKo-Tech/folio/internal/pdf"
	"github.com/MeKo-Tech/folio/internal/store"
	"github.com/MeKo-Tech/folio/internal/utils"
)

// uploadEvent is one server-sent event of an upload stream.
type uploadEvent struct {
	Type      string    `json:"type"`
	DocID     string    `json:"doc_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Page      *PageInfo `json:"page,omitempty"`
	PageCount *int      `json:"page_count,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// eventStream writes server-sent events and flushes after each one.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: f}
}

func (es *eventStream) send(ev uploadEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode upload event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(es.w, "data: %s\n\n", data); err != nil {
		slog.Debug("Upload stream closed", "error", err)
		return
	}
	if es.flusher != nil {
		es.flusher.Flush()
	}
}

// uploadHandler stores uploaded images and PDFs as the pages of a new
// document and streams each created page to the client.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, fmt.Sprintf("Upload exceeds %d MB", s.maxUploadMB), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	files := append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...)
	if len(files) == 0 {
		s.writeErrorResponse(w, "No files provided", http.StatusBadRequest)
		return
	}
	var total int64
	for _, fh := range files {
		if !isAcceptedUpload(fh.Filename) {
			s.writeErrorResponse(w, "Unsupported file type: "+fh.Filename, http.StatusBadRequest)
			return
		}
		total += fh.Size
	}
	uploadSizeBytes.Observe(float64(total))

	var creds *pdf.Credentials
	if pw := r.FormValue("password"); pw != "" {
		creds = &pdf.Credentials{UserPassword: pw, OwnerPassword: pw}
	}

	docID := store.NewID()
	displayName := filepath.Base(files[0].Filename)
	if len(files) > 1 {
		displayName = fmt.Sprintf("%d files", len(files))
	}
	dir, err := s.uploads.createDocument(docID)
	if err != nil {
		s.writeErrorResponse(w, "Failed to create document", http.StatusInternalServerError)
		return
	}
	doc := store.Document{ID: docID, Filename: displayName, CreatedAt: time.Now()}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		_ = s.uploads.removeDocument(docID)
		s.writeErrorResponse(w, "Failed to create document", http.StatusInternalServerError)
		return
	}
	slog.Info("Document created", "doc_id", docID, "filename", displayName, "files", len(files))

	events := newEventStream(w)
	events.send(uploadEvent{Type: "init", DocID: docID, Filename: displayName})

	ctx := r.Context()
	pageNum := 0
	for _, fh := range files {
		if ctx.Err() != nil {
			break
		}
		var pages []store.Page
		var err error
		if strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
			pages, err = s.savePDF(ctx, fh, dir, pageNum+1, creds)
			uploadPagesTotal.WithLabelValues("pdf").Add(float64(len(pages)))
		} else {
			var page store.Page
			page, err = s.saveImage(fh, dir, pageNum+1)
			if err == nil {
				pages = []store.Page{page}
				uploadPagesTotal.WithLabelValues("image").Inc()
			}
		}
		if err != nil {
			slog.Warn("Upload file failed", "doc_id", docID, "filename", fh.Filename, "error", err)
			events.send(uploadEvent{Type: "error", Filename: fh.Filename, Error: err.Error()})
		}

		for _, p := range pages {
			if err := s.store.AddPage(context.WithoutCancel(ctx), docID, p); err != nil {
				slog.Error("Failed to store page", "doc_id", docID, "page", p.Number, "error", err)
				continue
			}
			pageNum = p.Number
			info := pageInfo(docID, p)
			events.send(uploadEvent{Type: "page", Page: &info})
		}
	}

	events.send(uploadEvent{Type: "done", PageCount: &pageNum})
}

func isAcceptedUpload(name string) bool {
	return utils.IsSupportedImage(name) || strings.EqualFold(filepath.Ext(name), ".pdf")
}

// saveImage writes an uploaded image as page n.
func (s *Server) saveImage(fh *multipart.FileHeader, dir string, n int) (store.Page, error) {
	name := utils.PageFilename(n, filepath.Ext(fh.Filename))
	if err := saveUploadedFile(fh, filepath.Join(dir, name)); err != nil {
		return store.Page{}, err
	}
	return store.Page{Number: n, Filename: name}, nil
}

// savePDF rasterizes an uploaded PDF into pages numbered from first. Pages
// written before a failure are returned with the error. The source file is
// removed afterwards.
func (s *Server) savePDF(ctx context.Context, fh *multipart.FileHeader, dir string, first int, creds *pdf.Credentials) ([]store.Page, error) {
	id := store.NewID()
	src := filepath.Join(dir, "src_"+id[len(id)-8:]+".pdf")
	if err := saveUploadedFile(fh, src); err != nil {
		return nil, err
	}
	defer func() {
		_ = os.Remove(src)
	}()

	extracted, err := pdf.ExtractPageImages(ctx, src, dir, pdf.Options{FirstNumber: first, Credentials: creds})
	pages := make([]store.Page, 0, len(extracted))
	for _, p := range extracted {
		pages = append(pages, store.Page{Number: p.Number, Filename: p.Filename})
	}
	return pages, err
}

func saveUploadedFile(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(dst), err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(dst), err)
	}
	return out.Close()
}

func pageInfo(docID string, p store.Page) PageInfo {
	info := PageInfo{
		Num:      p.Number,
		Filename: p.Filename,
		ImageURL: fmt.Sprintf("/api/images/%s/%s", docID, p.Filename),
	}
	if p.OCRDone {
		text := p.OCRText
		took := roundSeconds(p.OCRTime)
		info.OCRText = &text
		info.OCRTime = &took
	}
	return info
}

func documentResponse(doc *store.Document) DocumentResponse {
	resp := DocumentResponse{
		DocID:     doc.ID,
		Filename:  doc.Filename,
		CreatedAt: doc.CreatedAt.Format(time.RFC3339),
		Pages:     make([]PageInfo, 0, len(doc.Pages)),
	}
	for _, p := range doc.Pages {
		resp.Pages = append(resp.Pages, pageInfo(doc.ID, p))
	}
	return resp
}

// loadDocument fetches the document named by the docID route parameter and
// writes the error response when it cannot.
func (s *Server) loadDocument(w http.ResponseWriter, r *http.Request) (*store.Document, bool) {
	docID := chi.URLParam(r, "docID")
	if !store.ValidID(docID) {
		s.writeErrorResponse(w, "Document not found", http.StatusNotFound)
		return nil, false
	}
	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeErrorResponse(w, "Document not found", http.StatusNotFound)
		} else {
			slog.Error("Failed to load document", "doc_id", docID, "error", err)
			s.writeErrorResponse(w, "Failed to load document", http.StatusInternalServerError)
		}
		return nil, false
	}
	return doc, true
}

// listDocumentsHandler returns all documents in upload order.
func (s *Server) listDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.writeErrorResponse(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	resp := make([]DocumentResponse, 0, len(docs))
	for i := range docs {
		resp = append(resp, documentResponse(&docs[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, documentResponse(doc))
}

// deleteDocumentHandler removes a document and its page images.
func (s *Server) deleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	unlock := s.lockDocument(doc.ID)
	defer unlock()

	if err := s.store.DeleteDocument(r.Context(), doc.ID); err != nil {
		s.writeErrorResponse(w, "Failed to delete document", statusForError(err))
		return
	}
	if err := s.uploads.removeDocument(doc.ID); err != nil {
		slog.Warn("Failed to remove document files", "doc_id", doc.ID, "error", err)
	}
	s.docLocks.Delete(doc.ID)
	slog.Info("Document deleted", "doc_id", doc.ID)
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Document deleted"})
}

// imageHandler serves a page image.
func (s *Server) imageHandler(w http.ResponseWriter, r *http.Request) {
	path, err := s.uploads.pagePath(chi.URLParam(r, "docID"), chi.URLParam(r, "filename"))
	if err != nil {
		s.writeErrorResponse(w, "Access denied", http.StatusForbidden)
		return
	}
	if _, err := os.Stat(path); err != nil {
		s.writeErrorResponse(w, "Image not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}
