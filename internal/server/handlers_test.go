package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/folio/internal/layout"
	"github.com/MeKo-Tech/folio/internal/models"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/store"
)

func TestServer_HealthHandler(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkResponse  bool
	}{
		{name: "GET request success", method: http.MethodGet, expectedStatus: http.StatusOK, checkResponse: true},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request not allowed", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, httptest.NewRequest(tt.method, "/health", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.checkResponse {
				var response HealthResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, "test", response.Version)
				assert.NotEmpty(t, response.Time)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_StatusHandler(t *testing.T) {
	t.Run("engine without status reporting", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{})
		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "online", resp.Status)
		assert.True(t, resp.Online)
		assert.NotNil(t, resp.Models)
	})

	t.Run("offline engine", func(t *testing.T) {
		eng := &statusEngine{status: ocr.Status{Backend: ocr.BackendOllama}}
		s := newTestServer(t, eng)
		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "offline", resp.Status)
		assert.False(t, resp.Online)
		assert.False(t, resp.ModelLoaded)
		assert.Equal(t, ocr.BackendOllama, resp.Backend)
	})

	t.Run("online engine with model", func(t *testing.T) {
		eng := &statusEngine{status: ocr.Status{Online: true, ModelLoaded: true, Models: []string{"glm-ocr:latest"}, Backend: ocr.BackendOllama}}
		s := newTestServer(t, eng)
		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/status", nil))

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "online", resp.Status)
		assert.True(t, resp.ModelLoaded)
		assert.Equal(t, []string{"glm-ocr:latest"}, resp.Models)
	})
}

func TestServer_LoadModelHandler(t *testing.T) {
	tests := []struct {
		name           string
		status         ocr.Status
		warmErr        error
		expectedStatus int
		expectWarmup   bool
	}{
		{name: "engine offline", status: ocr.Status{}, expectedStatus: http.StatusServiceUnavailable},
		{name: "model missing", status: ocr.Status{Online: true}, expectedStatus: http.StatusInternalServerError},
		{name: "ready", status: ocr.Status{Online: true, ModelLoaded: true}, expectedStatus: http.StatusOK, expectWarmup: true},
		{name: "warmup failure is not fatal", status: ocr.Status{Online: true, ModelLoaded: true}, warmErr: errors.New("boom"), expectedStatus: http.StatusOK, expectWarmup: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &statusEngine{status: tt.status, warmErr: tt.warmErr}
			s := newTestServer(t, eng)

			w := serve(s, httptest.NewRequest(http.MethodPost, "/api/load-model", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectWarmup {
				assert.Equal(t, 1, eng.warmups)
				var resp SuccessResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.True(t, resp.Success)
			} else {
				assert.Zero(t, eng.warmups)
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.False(t, resp.Success)
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestServer_ModelsHandler(t *testing.T) {
	modelsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(modelsDir, models.TypeLayout), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, models.TypeLayout, models.LayoutPPDocLayoutS), []byte("onnx"), 0o644))

	s := newTestServer(t, &fakeEngine{}, func(c *Config) { c.ModelsDir = modelsDir })
	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, len(models.ListAvailableModels()), resp.Count)
	require.Len(t, resp.Models, resp.Count)

	available := map[string]bool{}
	for _, m := range resp.Models {
		assert.Equal(t, models.TypeLayout, m.Type)
		assert.NotEmpty(t, m.Path)
		available[m.Name] = m.Available
	}
	assert.True(t, available["pp-doclayout-s"])
	assert.False(t, available["pp-doclayout-plus-l"])
}

func TestStatusForError(t *testing.T) {
	partial := &pipeline.PartialPageFailure{Failed: 1, Total: 2, First: ocr.ErrEngineUnavailable}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"partial failure wins over its cause", partial, http.StatusMultiStatus},
		{"deadline", fmt.Errorf("page 1: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"engine unavailable", &pipeline.UnitError{Index: 0, Err: ocr.ErrEngineUnavailable}, http.StatusServiceUnavailable},
		{"detector unavailable", layout.ErrDetectorUnavailable, http.StatusServiceUnavailable},
		{"engine rejected", fmt.Errorf("wrap: %w", ocr.ErrEngineRejected), http.StatusBadGateway},
		{"malformed input", pipeline.ErrMalformedInput, http.StatusBadRequest},
		{"malformed image", ocr.ErrMalformedImage, http.StatusBadRequest},
		{"not found", fmt.Errorf("document x: %w", store.ErrNotFound), http.StatusNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestNewServer_Validation(t *testing.T) {
	controller, err := pipeline.NewBuilder().WithEngine(&fakeEngine{}).Build()
	require.NoError(t, err)

	_, err = NewServer(Config{Pipeline: pipeline.DefaultConfig()}, nil, store.NewMemoryStore())
	assert.Error(t, err)

	_, err = NewServer(Config{Pipeline: pipeline.DefaultConfig()}, controller, nil)
	assert.Error(t, err)

	bad := pipeline.DefaultConfig()
	bad.Split.Overlap = bad.Split.MaxHeight
	_, err = NewServer(Config{Pipeline: bad, UploadDir: t.TempDir()}, controller, store.NewMemoryStore())
	assert.ErrorContains(t, err, "invalid pipeline config")
}
