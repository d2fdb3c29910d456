package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MeKo-Tech/folio/internal/layout"
	"github.com/MeKo-Tech/folio/internal/models"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/store"
)

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// engineStatus asks the engine for its state. Engines that cannot report
// are assumed to be online with their model loaded.
func (s *Server) engineStatus(ctx context.Context) ocr.Status {
	engine := s.controller.Dispatcher().Engine()
	if reporter, ok := engine.(ocr.StatusReporter); ok {
		return reporter.Status(ctx)
	}
	return ocr.Status{Online: true, ModelLoaded: true}
}

// statusHandler reports whether the OCR engine is reachable.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	st := s.engineStatus(ctx)
	resp := StatusResponse{
		Status:      "offline",
		Online:      st.Online,
		ModelLoaded: st.ModelLoaded,
		Models:      st.Models,
		Backend:     st.Backend,
	}
	if resp.Models == nil {
		resp.Models = []string{}
	}
	if st.Online {
		resp.Status = "online"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// loadModelHandler preloads the recognition model.
func (s *Server) loadModelHandler(w http.ResponseWriter, r *http.Request) {
	st := s.engineStatus(r.Context())
	switch {
	case !st.Online:
		s.writeErrorResponse(w, "OCR engine is not running", http.StatusServiceUnavailable)
		return
	case !st.ModelLoaded:
		s.writeErrorResponse(w, "OCR model is not installed", http.StatusInternalServerError)
		return
	}

	if warmer, ok := s.controller.Dispatcher().Engine().(ocr.Warmer); ok {
		if err := warmer.Warmup(r.Context()); err != nil {
			slog.Warn("Model warmup failed", "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Model ready"})
}

// modelsHandler lists the layout models and whether they are installed.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	known := models.ListAvailableModels()
	resp := ModelsResponse{Models: make([]ModelInfo, 0, len(known)), Count: len(known)}
	for _, m := range known {
		path := models.ResolveModelPath(s.modelsDir, m.Type, m.Filename)
		_, err := os.Stat(path)
		resp.Models = append(resp.Models, ModelInfo{
			Name:        m.Name,
			Path:        path,
			Type:        m.Type,
			Description: m.Description,
			Available:   err == nil,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statusForError maps pipeline, engine and store errors to HTTP status codes.
func statusForError(err error) int {
	var partial *pipeline.PartialPageFailure
	switch {
	case errors.As(err, &partial):
		return http.StatusMultiStatus
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ocr.ErrEngineUnavailable), errors.Is(err, layout.ErrDetectorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ocr.ErrEngineRejected):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrMalformedInput), errors.Is(err, ocr.ErrMalformedImage):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v as a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes an error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
