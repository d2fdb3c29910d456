package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/folio/internal/document"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/store"
	"github.com/MeKo-Tech/folio/internal/utils"
)

// fakeEngine returns scripted replies in call order, then "text N".
type fakeEngine struct {
	mu      sync.Mutex
	replies []fakeReply
	n       int
}

type fakeReply struct {
	text string
	err  error
}

func (f *fakeEngine) Recognize(ctx context.Context, _ []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.n
	f.n++
	if i < len(f.replies) {
		return f.replies[i].text, f.replies[i].err
	}
	return "text " + string(rune('A'+i%26)), nil
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// statusEngine also reports its status and counts warmups.
type statusEngine struct {
	fakeEngine
	status  ocr.Status
	warmErr error
	warmups int
}

func (e *statusEngine) Status(context.Context) ocr.Status { return e.status }

func (e *statusEngine) Warmup(context.Context) error {
	e.warmups++
	return e.warmErr
}

type testOption func(*Config)

func newTestServer(t *testing.T, eng ocr.Engine, opts ...testOption) *Server {
	t.Helper()
	controller, err := pipeline.NewBuilder().WithEngine(eng).Build()
	require.NoError(t, err)

	cfg := Config{
		CORSOrigin:  "*",
		MaxUploadMB: 10,
		UploadDir:   filepath.Join(t.TempDir(), "uploads"),
		ModelsDir:   t.TempDir(),
		Version:     "test",
		Pipeline:    pipeline.DefaultConfig(),
		ExportStyle: document.DefaultExportStyle(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := NewServer(cfg, controller, store.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestImage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetGray(w/2, h/2, color.Gray{Y: 0})
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, newTestImage(40, 30)))
	return buf.Bytes()
}

// seedDocument stores a document with the given number of page images.
func seedDocument(t *testing.T, s *Server, pages int) *store.Document {
	t.Helper()
	ctx := context.Background()
	doc := store.Document{ID: store.NewID(), Filename: "scan.pdf"}
	dir, err := s.uploads.createDocument(doc.ID)
	require.NoError(t, err)
	require.NoError(t, s.store.CreateDocument(ctx, doc))
	for n := 1; n <= pages; n++ {
		name := utils.PageFilename(n, ".png")
		require.NoError(t, utils.SavePNG(filepath.Join(dir, name), newTestImage(40, 30)))
		require.NoError(t, s.store.AddPage(ctx, doc.ID, store.Page{Number: n, Filename: name}))
	}
	got, err := s.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	return got
}

type uploadFile struct {
	field, name string
	data        []byte
}

func newUploadRequest(t *testing.T, files ...uploadFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}
