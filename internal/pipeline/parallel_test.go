package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/folio/internal/ocr"
)

type recordingProgress struct {
	mu       sync.Mutex
	started  int
	progress []int
	errors   []int
	pages    []int
	done     bool
}

func (r *recordingProgress) OnStart(total int) { r.started = total }
func (r *recordingProgress) OnProgress(current, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, current)
}
func (r *recordingProgress) OnComplete() { r.done = true }
func (r *recordingProgress) OnError(current int, _ error) {
	r.errors = append(r.errors, current)
}
func (r *recordingProgress) OnPage(res PageResult) { r.pages = append(r.pages, res.Number) }

func writePages(t *testing.T, n int) []PageInput {
	t.Helper()
	dir := t.TempDir()
	pages := make([]PageInput, 0, n)
	for i := 1; i <= n; i++ {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, newPage(20, 20)))
		path := filepath.Join(dir, fmt.Sprintf("page_%03d.png", i))
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
		pages = append(pages, PageInput{Number: i, ImagePath: path})
	}
	return pages
}

func TestProcessPages_KeepsPartialResults(t *testing.T) {
	pages := writePages(t, 3)
	pages[1].ImagePath = filepath.Join(t.TempDir(), "gone.png")

	eng := &fakeEngine{replies: []reply{
		{text: "first"},
		{err: &ocr.EngineError{Backend: "fake", StatusCode: 502}},
	}}
	c := newController(t, nil, eng)
	progress := &recordingProgress{}

	results, err := c.ProcessPages(context.Background(), pages, DefaultConfig(), progress)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "first", results[0].Outcome.CombinedText)

	assert.ErrorIs(t, results[1].Err, ErrMalformedInput)
	assert.Nil(t, results[1].Outcome)

	var partial *PartialPageFailure
	require.ErrorAs(t, results[2].Err, &partial)
	require.NotNil(t, results[2].Outcome)
	assert.Empty(t, results[2].Outcome.CombinedText)

	assert.Equal(t, 3, progress.started)
	assert.Equal(t, []int{1, 2, 3}, progress.progress)
	assert.Equal(t, []int{2, 3}, progress.errors)
	assert.Equal(t, []int{1, 2, 3}, progress.pages)
	assert.True(t, progress.done)

	st := CalculateBatchStats(results)
	assert.Equal(t, BatchStats{Pages: 3, Succeeded: 1, Partial: 1, Failed: 1, TotalOCRDur: st.TotalOCRDur}, st)
}

func TestProcessPages_MultiProgressForwardsPages(t *testing.T) {
	pages := writePages(t, 2)
	c := newController(t, nil, &fakeEngine{replies: []reply{{text: "a"}, {text: "b"}}})

	first, second := &recordingProgress{}, &recordingProgress{}
	var console bytes.Buffer
	multi := NewMultiProgressCallback(first, NewConsoleProgressCallback(&console, "doc"), second)

	_, err := c.ProcessPages(context.Background(), pages, DefaultConfig(), multi)
	require.NoError(t, err)

	for _, p := range []*recordingProgress{first, second} {
		assert.Equal(t, 2, p.started)
		assert.Equal(t, []int{1, 2}, p.pages)
		assert.True(t, p.done)
	}
	assert.Contains(t, console.String(), "2/2")
}

func TestProcessPages_StopsOnCancel(t *testing.T) {
	pages := writePages(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newController(t, nil, &fakeEngine{})
	results, err := c.ProcessPages(ctx, pages, DefaultConfig(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)

	_, err = c.ProcessPages(context.Background(), nil, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestProcessDocuments_PreservesOrder(t *testing.T) {
	docs := []DocumentInput{
		{ID: "a", Pages: writePages(t, 2)},
		{ID: "b", Pages: writePages(t, 1)},
		{ID: "c", Pages: writePages(t, 3)},
	}
	eng := &fakeEngine{}
	c := newController(t, nil, eng)

	var mu sync.Mutex
	created := map[string]*recordingProgress{}
	cfg := DefaultParallelConfig()
	cfg.MaxWorkers = 2
	cfg.NewProgress = func(id string) ProgressCallback {
		mu.Lock()
		defer mu.Unlock()
		p := &recordingProgress{}
		created[id] = p
		return p
	}

	results, err := c.ProcessDocuments(context.Background(), docs, cfg)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, d := range docs {
		assert.Equal(t, d.ID, results[i].ID)
		assert.Len(t, results[i].Pages, len(d.Pages))
		assert.NoError(t, results[i].Err)
		for j, p := range results[i].Pages {
			assert.Equal(t, j+1, p.Number)
		}
	}
	assert.Equal(t, 6, eng.calls())
	assert.Len(t, created, 3)
	assert.Equal(t, []int{1, 2, 3}, created["c"].pages)
}

func TestProcessDocuments_NoDocuments(t *testing.T) {
	c := newController(t, nil, &fakeEngine{})
	_, err := c.ProcessDocuments(context.Background(), nil, DefaultParallelConfig())
	assert.Error(t, err)
}

func TestResultsRendering(t *testing.T) {
	out := &PageOcrOutcome{CombinedText: "hello", Mode: ModeFallback, Width: 10, Height: 10}
	results := []PageResult{
		{Number: 1, Outcome: out},
		{Number: 2, Err: errors.New("engine offline")},
	}

	text := ToPlainTextPages(results)
	assert.Contains(t, text, "--- page 1 ---\nhello")
	assert.Contains(t, text, "--- page 2 ---\n[error: engine offline]")

	js, err := ToJSONPages(results)
	require.NoError(t, err)
	assert.Contains(t, js, `"error": "engine offline"`)
	assert.Contains(t, js, `"combined_text": "hello"`)

	single, err := ToJSONOutcome(out)
	require.NoError(t, err)
	assert.Contains(t, single, `"mode": "fallback"`)

	_, err = ToJSONOutcome(nil)
	assert.Error(t, err)
}
