package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/folio/internal/document"
	"github.com/MeKo-Tech/folio/internal/docx"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	controller  *pipeline.Controller
	store       store.Store
	uploads     *workspace
	pipelineCfg pipeline.Config
	assembler   *document.Assembler
	serializer  document.Serializer
	preview     *previewRenderer
	rateLimiter *RateLimiter

	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	modelsDir   string
	version     string

	// docLocks serializes OCR work per document.
	docLocks sync.Map
}

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	UploadDir   string
	ModelsDir   string
	Version     string
	Pipeline    pipeline.Config
	ExportStyle document.ExportStyle
	RateLimit   RateLimitConfig
}

// RateLimitConfig holds per-client limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// StatusResponse reports the OCR engine state.
type StatusResponse struct {
	Status      string   `json:"status"`
	Online      bool     `json:"online"`
	ModelLoaded bool     `json:"model_loaded"`
	Models      []string `json:"models"`
	Backend     string   `json:"backend"`
}

// ModelInfo describes a layout model and whether it is installed.
type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// ModelsResponse lists the known layout models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

// PageInfo is the client view of a document page.
type PageInfo struct {
	Num      int      `json:"num"`
	Filename string   `json:"filename"`
	ImageURL string   `json:"image_url"`
	OCRText  *string  `json:"ocr_text"`
	OCRTime  *float64 `json:"ocr_time"`
}

// DocumentResponse is the client view of a document.
type DocumentResponse struct {
	DocID     string     `json:"doc_id"`
	Filename  string     `json:"filename"`
	CreatedAt string     `json:"created_at"`
	Pages     []PageInfo `json:"pages"`
}

// PageOCRResult is the OCR result of one page. Text and Time are null for
// failed pages; a partially failed page carries both Text and Error.
type PageOCRResult struct {
	DocID   string   `json:"doc_id,omitempty"`
	PageNum int      `json:"page_num"`
	Text    *string  `json:"text"`
	Time    *float64 `json:"time"`
	Cached  bool     `json:"cached"`
	Mode    string   `json:"mode,omitempty"`
	Error   string   `json:"error,omitempty"`

	err error
}

// DocumentOCRResponse is returned by the all-pages OCR endpoint.
type DocumentOCRResponse struct {
	DocID    string          `json:"doc_id"`
	Filename string          `json:"filename"`
	Results  []PageOCRResult `json:"results"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SuccessResponse acknowledges an action.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// NewServer creates a new OCR server instance on top of a controller and a
// document store. The upload directory is created if needed.
func NewServer(config Config, controller *pipeline.Controller, st store.Store) (*Server, error) {
	if controller == nil {
		return nil, errors.New("pipeline controller is required")
	}
	if st == nil {
		return nil, errors.New("document store is required")
	}
	if err := config.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	assembler, err := document.NewAssembler(config.ExportStyle)
	if err != nil {
		return nil, fmt.Errorf("invalid export style: %w", err)
	}
	uploads, err := newWorkspace(config.UploadDir)
	if err != nil {
		return nil, err
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 100
	}

	s := &Server{
		controller:  controller,
		store:       st,
		uploads:     uploads,
		pipelineCfg: config.Pipeline,
		assembler:   assembler,
		serializer:  docx.NewWriter(),
		preview:     newPreviewRenderer(),
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeout:     time.Duration(config.TimeoutSec) * time.Second,
		modelsDir:   config.ModelsDir,
		version:     config.Version,
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s, nil
}

// CleanupOrphans removes upload directories that belong to no stored document.
func (s *Server) CleanupOrphans(ctx context.Context) error {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	known := make(map[string]bool, len(docs))
	for _, d := range docs {
		known[d.ID] = true
	}
	removed, err := s.uploads.removeOrphans(known)
	for _, dir := range removed {
		slog.Info("Removed orphan upload directory", "dir", dir)
	}
	return err
}

// Close releases server resources.
func (s *Server) Close() error {
	return s.store.Close()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.statusHandler)
		r.Get("/models", s.modelsHandler)
		r.Post("/load-model", s.loadModelHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/upload", s.uploadHandler)
			r.Post("/ocr/{docID}/all", s.ocrAllHandler)
			r.Post("/ocr/{docID}/{page}", s.ocrPageHandler)
			r.Get("/export/{docID}", s.exportHandler)
		})

		r.Get("/documents", s.listDocumentsHandler)
		r.Get("/documents/{docID}", s.getDocumentHandler)
		r.Delete("/documents/{docID}", s.deleteDocumentHandler)
		r.Get("/images/{docID}/{filename}", s.imageHandler)
		r.Get("/preview/{docID}/{page}", s.previewHandler)
	})

	r.Get("/ws/ocr/{docID}", s.ocrWebSocketHandler)
	return r
}

// lockDocument serializes OCR work on one document and returns the unlock func.
func (s *Server) lockDocument(docID string) func() {
	v, _ := s.docLocks.LoadOrStore(docID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// requestContext bounds OCR work by the configured request timeout.
func (s *Server) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.timeout)
}
