package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/store"
)

// OCR request kinds used as metric labels.
const (
	kindPage      = "page"
	kindAll       = "all"
	kindWebSocket = "websocket"
)

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func cachedResult(p store.Page) PageOCRResult {
	text := p.OCRText
	took := roundSeconds(p.OCRTime)
	return PageOCRResult{PageNum: p.Number, Text: &text, Time: &took, Cached: true, Mode: p.OCRMode}
}

// finishPage turns a pipeline outcome into a result and caches fully
// successful pages. Partially failed pages keep their text but are not cached.
func (s *Server) finishPage(ctx context.Context, kind, docID string, number int, outcome *pipeline.PageOcrOutcome, err error) PageOCRResult {
	res := PageOCRResult{PageNum: number, err: err}
	status := "success"

	if outcome != nil {
		text := outcome.CombinedText
		took := time.Duration(outcome.Processing.TotalNs)
		secs := roundSeconds(took)
		res.Text, res.Time, res.Mode = &text, &secs, string(outcome.Mode)

		ocrProcessingDuration.WithLabelValues(kind).Observe(took.Seconds())
		ocrTextLength.WithLabelValues(kind).Observe(float64(len(text)))
		ocrUnitsPerPage.WithLabelValues(res.Mode).Observe(float64(len(outcome.Regions)))

		if err == nil {
			if cerr := s.store.SetPageResult(context.WithoutCancel(ctx), docID, number, text, res.Mode, took); cerr != nil {
				slog.Error("Failed to cache page result", "doc_id", docID, "page", number, "error", cerr)
			}
		}
	}
	if err != nil {
		res.Error = err.Error()
		status = "error"
		if outcome != nil {
			status = "partial"
		}
		slog.Warn("Page OCR failed", "doc_id", docID, "page", number, "error", err)
	}
	ocrRequestsTotal.WithLabelValues(kind, status).Inc()
	return res
}

// ocrPageHandler runs OCR on one page, or returns its cached result.
func (s *Server) ocrPageHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	number, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		s.writeErrorResponse(w, "Invalid page number", http.StatusBadRequest)
		return
	}

	unlock := s.lockDocument(doc.ID)
	defer unlock()

	// Reload under the lock so a concurrent run's result is seen as cached.
	doc, err = s.store.GetDocument(r.Context(), doc.ID)
	if err != nil {
		s.writeErrorResponse(w, "Document not found", statusForError(err))
		return
	}
	page, ok := doc.Page(number)
	if !ok {
		s.writeErrorResponse(w, fmt.Sprintf("Page %d not found", number), http.StatusNotFound)
		return
	}
	if page.OCRDone {
		res := cachedResult(page)
		res.DocID = doc.ID
		ocrRequestsTotal.WithLabelValues(kindPage, "cached").Inc()
		s.writeJSON(w, http.StatusOK, res)
		return
	}

	path, err := s.uploads.pagePath(doc.ID, page.Filename)
	if err != nil {
		s.writeErrorResponse(w, "Access denied", http.StatusForbidden)
		return
	}
	if _, err := os.Stat(path); err != nil {
		s.writeErrorResponse(w, "Image file not found", http.StatusNotFound)
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	// A single page never returns partial text.
	cfg := s.pipelineCfg
	cfg.Policy = pipeline.FailFast

	outcome, err := s.controller.RunLayoutOcr(ctx, path, cfg)
	res := s.finishPage(ctx, kindPage, doc.ID, number, outcome, err)
	res.DocID = doc.ID

	if err != nil {
		s.writeErrorResponse(w, "OCR failed: "+err.Error(), statusForError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ocrAllHandler runs OCR on every page of a document in page order.
func (s *Server) ocrAllHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDocument(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	resp, err := s.runDocumentOCR(ctx, kindAll, doc.ID, nil)
	if err != nil {
		s.writeErrorResponse(w, "OCR failed: "+err.Error(), statusForError(err))
		return
	}
	status := http.StatusOK
	for _, res := range resp.Results {
		if res.Error != "" {
			status = http.StatusMultiStatus
			break
		}
	}
	s.writeJSON(w, status, resp)
}

// resultFunc receives each page result as soon as it is known.
type resultFunc func(res PageOCRResult, done, total int)

// runDocumentOCR returns cached pages as they are and processes the rest in
// page order. A failing page never stops the document; cancellation does,
// and the pages it left unprocessed are reported as failed.
func (s *Server) runDocumentOCR(ctx context.Context, kind, docID string, onResult resultFunc) (*DocumentOCRResponse, error) {
	unlock := s.lockDocument(docID)
	defer unlock()

	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	rec := &pageRecorder{
		server:   s,
		ctx:      ctx,
		kind:     kind,
		docID:    doc.ID,
		results:  make([]PageOCRResult, len(doc.Pages)),
		filled:   make([]bool, len(doc.Pages)),
		index:    make(map[int]int, len(doc.Pages)),
		onResult: onResult,
	}

	var pending []pipeline.PageInput
	for i, p := range doc.Pages {
		rec.index[p.Number] = i
		switch path, perr := s.uploads.pagePath(doc.ID, p.Filename); {
		case p.OCRDone:
			ocrRequestsTotal.WithLabelValues(kind, "cached").Inc()
			rec.record(i, cachedResult(p))
		case perr != nil:
			rec.record(i, PageOCRResult{PageNum: p.Number, Error: perr.Error(), err: perr})
		default:
			pending = append(pending, pipeline.PageInput{Number: p.Number, ImagePath: path})
		}
	}

	if len(pending) > 0 {
		if _, err := s.controller.ProcessPages(ctx, pending, s.pipelineCfg, rec); err != nil {
			slog.Warn("Document OCR stopped", "doc_id", doc.ID, "error", err)
			for _, p := range pending {
				if i := rec.index[p.Number]; !rec.filled[i] {
					rec.record(i, PageOCRResult{PageNum: p.Number, Error: err.Error(), err: err})
				}
			}
		}
	}

	return &DocumentOCRResponse{DocID: doc.ID, Filename: doc.Filename, Results: rec.results}, nil
}

// pageRecorder collects page results from the pipeline. It implements
// pipeline.ProgressCallback and pipeline.PageReporter.
type pageRecorder struct {
	pipeline.NoOpProgressCallback

	server   *Server
	ctx      context.Context
	kind     string
	docID    string
	results  []PageOCRResult
	filled   []bool
	index    map[int]int
	done     int
	onResult resultFunc
}

func (p *pageRecorder) OnPage(r pipeline.PageResult) {
	i, ok := p.index[r.Number]
	if !ok {
		return
	}
	p.record(i, p.server.finishPage(p.ctx, p.kind, p.docID, r.Number, r.Outcome, r.Err))
}

func (p *pageRecorder) record(i int, res PageOCRResult) {
	p.results[i] = res
	p.filled[i] = true
	p.done++
	if p.onResult != nil {
		p.onResult(res, p.done, len(p.results))
	}
}
