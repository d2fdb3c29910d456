package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/folio/internal/config"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/store"
)

func ocrPage(s *Server, docID string, page string) *httptest.ResponseRecorder {
	return serve(s, httptest.NewRequest(http.MethodPost, "/api/ocr/"+docID+"/"+page, nil))
}

func TestOCRPageHandler_CachesResult(t *testing.T) {
	eng := &fakeEngine{replies: []fakeReply{{text: "```markdown\n# Heading\n\nBody text\n```"}}}
	s := newTestServer(t, eng)
	doc := seedDocument(t, s, 2)

	w := ocrPage(s, doc.ID, "1")
	require.Equal(t, http.StatusOK, w.Code)

	var first PageOCRResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, doc.ID, first.DocID)
	assert.Equal(t, 1, first.PageNum)
	require.NotNil(t, first.Text)
	assert.Equal(t, "# Heading\n\nBody text", *first.Text)
	require.NotNil(t, first.Time)
	assert.False(t, first.Cached)
	assert.Equal(t, string(pipeline.ModeFallback), first.Mode)
	assert.Empty(t, first.Error)

	w = ocrPage(s, doc.ID, "1")
	require.Equal(t, http.StatusOK, w.Code)
	var second PageOCRResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, *first.Text, *second.Text)
	assert.Equal(t, 1, eng.calls(), "cached page is not recognized again")

	stored, err := s.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	p, _ := stored.Page(1)
	assert.True(t, p.OCRDone)
	assert.Equal(t, string(pipeline.ModeFallback), p.OCRMode)
}

func TestOCRPageHandler_Errors(t *testing.T) {
	t.Run("unknown document", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{})
		assert.Equal(t, http.StatusNotFound, ocrPage(s, store.NewID(), "1").Code)
	})

	t.Run("unknown page", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{})
		doc := seedDocument(t, s, 1)
		w := ocrPage(s, doc.ID, "7")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Page 7 not found")
	})

	t.Run("invalid page number", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{})
		doc := seedDocument(t, s, 1)
		assert.Equal(t, http.StatusBadRequest, ocrPage(s, doc.ID, "first").Code)
	})

	t.Run("missing image", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{})
		doc := seedDocument(t, s, 1)
		path, err := s.uploads.pagePath(doc.ID, doc.Pages[0].Filename)
		require.NoError(t, err)
		require.NoError(t, os.Remove(path))
		assert.Equal(t, http.StatusNotFound, ocrPage(s, doc.ID, "1").Code)
	})

	t.Run("engine unavailable", func(t *testing.T) {
		eng := &fakeEngine{replies: []fakeReply{{err: fmt.Errorf("%w: connection refused", ocr.ErrEngineUnavailable)}}}
		s := newTestServer(t, eng)
		doc := seedDocument(t, s, 1)

		w := ocrPage(s, doc.ID, "1")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		stored, err := s.store.GetDocument(context.Background(), doc.ID)
		require.NoError(t, err)
		assert.False(t, stored.Pages[0].OCRDone, "failures are not cached")
	})

	t.Run("engine rejected", func(t *testing.T) {
		eng := &fakeEngine{replies: []fakeReply{{err: fmt.Errorf("%w: status 400", ocr.ErrEngineRejected)}}}
		s := newTestServer(t, eng)
		doc := seedDocument(t, s, 1)
		assert.Equal(t, http.StatusBadGateway, ocrPage(s, doc.ID, "1").Code)
	})

	t.Run("unit failure is a hard failure with the shipped config", func(t *testing.T) {
		eng := &fakeEngine{replies: []fakeReply{{err: fmt.Errorf("%w: timeout", ocr.ErrEngineUnavailable)}}}
		defaults := config.DefaultConfig()
		shipped := defaults.ToPipelineConfig()
		require.Equal(t, pipeline.ContinueOnError, shipped.Policy)
		s := newTestServer(t, eng, func(c *Config) { c.Pipeline = shipped })
		doc := seedDocument(t, s, 1)

		w := ocrPage(s, doc.ID, "1")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "OCR failed")
		assert.NotContains(t, w.Body.String(), `"text"`)

		stored, err := s.store.GetDocument(context.Background(), doc.ID)
		require.NoError(t, err)
		assert.False(t, stored.Pages[0].OCRDone)
	})

	t.Run("lenient config still yields partial results for all pages", func(t *testing.T) {
		eng := &fakeEngine{replies: []fakeReply{{err: fmt.Errorf("%w: timeout", ocr.ErrEngineUnavailable)}}}
		defaults := config.DefaultConfig()
		s := newTestServer(t, eng, func(c *Config) { c.Pipeline = defaults.ToPipelineConfig() })
		doc := seedDocument(t, s, 1)

		w := serve(s, httptest.NewRequest(http.MethodPost, "/api/ocr/"+doc.ID+"/all", nil))
		require.Equal(t, http.StatusMultiStatus, w.Code)
		var resp DocumentOCRResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.NotEmpty(t, resp.Results[0].Error)
	})
}

func TestOCRAllHandler(t *testing.T) {
	eng := &fakeEngine{replies: []fakeReply{
		{text: "page two"},
		{err: fmt.Errorf("%w: status 500", ocr.ErrEngineRejected)},
	}}
	s := newTestServer(t, eng)
	doc := seedDocument(t, s, 3)
	require.NoError(t, s.store.SetPageResult(context.Background(), doc.ID, 1, "page one", "regions", time.Second))

	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/ocr/"+doc.ID+"/all", nil))
	require.Equal(t, http.StatusMultiStatus, w.Code)

	var resp DocumentOCRResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, doc.ID, resp.DocID)
	require.Len(t, resp.Results, 3)

	assert.True(t, resp.Results[0].Cached)
	assert.Equal(t, "page one", *resp.Results[0].Text)

	assert.False(t, resp.Results[1].Cached)
	assert.Equal(t, 2, resp.Results[1].PageNum)
	assert.Equal(t, "page two", *resp.Results[1].Text)
	assert.Empty(t, resp.Results[1].Error)

	assert.Equal(t, 3, resp.Results[2].PageNum)
	assert.NotEmpty(t, resp.Results[2].Error)
	assert.Equal(t, 2, eng.calls())

	stored, err := s.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.True(t, stored.Pages[1].OCRDone)
	assert.False(t, stored.Pages[2].OCRDone)

	// A second run only retries the failed page.
	w = serve(s, httptest.NewRequest(http.MethodPost, "/api/ocr/"+doc.ID+"/all", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, eng.calls())
}

func TestOCRAllHandler_UnknownDocument(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/ocr/"+store.NewID()+"/all", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunDocumentOCR_Cancelled(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	doc := seedDocument(t, s, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen []int
	resp, err := s.runDocumentOCR(ctx, kindAll, doc.ID, func(res PageOCRResult, done, total int) {
		seen = append(seen, done)
		assert.Equal(t, 2, total)
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.NotEmpty(t, r.Error)
		assert.Nil(t, r.Text)
	}
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRoundSeconds(t *testing.T) {
	assert.InDelta(t, 1.23, roundSeconds(1234*time.Millisecond), 1e-9)
	assert.InDelta(t, 0.01, roundSeconds(5*time.Millisecond), 1e-9)
	assert.Zero(t, roundSeconds(0))
}
