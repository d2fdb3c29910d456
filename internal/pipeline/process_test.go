package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/folio/internal/layout"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/segment"
)

// fakeEngine answers from a list of scripted replies and records the
// size of every image it receives.
type fakeEngine struct {
	mu      sync.Mutex
	replies []reply
	sizes   []image.Point
}

type reply struct {
	text string
	err  error
}

func (f *fakeEngine) Recognize(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, img.Bounds().Size())
	i := len(f.sizes) - 1
	if i < len(f.replies) {
		return f.replies[i].text, f.replies[i].err
	}
	return fmt.Sprintf("unit %d", i), nil
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sizes)
}

func staticDetector(regions ...layout.RawRegion) layout.Detector {
	return layout.DetectorFunc(func(context.Context, image.Image) ([]layout.RawRegion, error) {
		return regions, nil
	})
}

func newPage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetGray(w/2, h/2, color.Gray{Y: 0})
	return img
}

func newController(t *testing.T, det layout.Detector, eng ocr.Engine) *Controller {
	t.Helper()
	c, err := NewBuilder().WithDetector(det).WithEngine(eng).Build()
	require.NoError(t, err)
	return c
}

func TestRunImage_RegionsInReadingOrder(t *testing.T) {
	det := staticDetector(
		layout.RawRegion{Label: "text", X1: 50, Y1: 400, X2: 500, Y2: 600, Score: 0.9},
		layout.RawRegion{Label: "header", X1: 0, Y1: 0, X2: 800, Y2: 40, Score: 0.99},
		layout.RawRegion{Label: "doc_title", X1: 100, Y1: 60, X2: 700, Y2: 120, Score: 0.95},
		layout.RawRegion{Label: "text", X1: 400, Y1: 200, X2: 780, Y2: 380, Score: 0.8},
		layout.RawRegion{Label: "text", X1: 20, Y1: 200, X2: 380, Y2: 380, Score: 0.85},
		layout.RawRegion{Label: "figure", X1: 10, Y1: 700, X2: 90, Y2: 780, Score: 0.3},
	)
	eng := &fakeEngine{replies: []reply{
		{text: "Title"},
		{text: "left column"},
		{text: "right column"},
		{text: "$\\alpha$ body"},
	}}
	c := newController(t, det, eng)

	out, err := c.RunImage(context.Background(), newPage(800, 1000), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, ModeRegions, out.Mode)
	require.Len(t, out.Regions, 4)
	assert.Equal(t, []string{"doc_title", "text", "text", "text"},
		[]string{out.Regions[0].Label, out.Regions[1].Label, out.Regions[2].Label, out.Regions[3].Label})
	assert.Equal(t, layout.BBox{X1: 20, Y1: 200, X2: 380, Y2: 380}, out.Regions[1].BBox)
	assert.Equal(t, layout.BBox{X1: 400, Y1: 200, X2: 780, Y2: 380}, out.Regions[2].BBox)
	assert.Equal(t, "Title\n\nleft column\n\nright column\n\nα body", out.CombinedText)

	require.Equal(t, 4, eng.calls())
	assert.Equal(t, image.Pt(600, 60), eng.sizes[0])
	assert.Equal(t, image.Pt(360, 180), eng.sizes[1])
	assert.NoError(t, ValidateOutcome(out))
}

func TestRunImage_ShortImageSingleCall(t *testing.T) {
	eng := &fakeEngine{replies: []reply{{text: "```markdown\nHello\n```"}}}
	c := newController(t, layout.NopDetector{}, eng)

	out, err := c.RunImage(context.Background(), newPage(600, 1200), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, ModeFallback, out.Mode)
	assert.Equal(t, 1, eng.calls())
	assert.Equal(t, image.Pt(600, 1200), eng.sizes[0])
	require.Len(t, out.Regions, 1)
	assert.Empty(t, out.Regions[0].Label)
	assert.Equal(t, "Hello", out.CombinedText)
}

func TestRunImage_TallImageChunks(t *testing.T) {
	eng := &fakeEngine{}
	c := newController(t, nil, eng)

	out, err := c.RunImage(context.Background(), newPage(300, 4000), DefaultConfig())
	require.NoError(t, err)

	require.Len(t, out.Regions, 3)
	assert.Equal(t, 3, eng.calls())
	tops := []int{out.Regions[0].BBox.Y1, out.Regions[1].BBox.Y1, out.Regions[2].BBox.Y1}
	assert.Equal(t, []int{0, 1520, 3040}, tops)
	assert.Equal(t, 4000, out.Regions[2].BBox.Y2)
	assert.Equal(t, image.Pt(300, 960), eng.sizes[2])
	assert.Equal(t, "unit 0\n\nunit 1\n\nunit 2", out.CombinedText)
}

func TestRunImage_EmptyUnitsKeptButNotStitched(t *testing.T) {
	det := staticDetector(
		layout.RawRegion{Label: "text", X1: 0, Y1: 0, X2: 100, Y2: 50, Score: 0.9},
		layout.RawRegion{Label: "text", X1: 0, Y1: 60, X2: 100, Y2: 110, Score: 0.9},
		layout.RawRegion{Label: "text", X1: 0, Y1: 120, X2: 100, Y2: 170, Score: 0.9},
	)
	eng := &fakeEngine{replies: []reply{{text: "a"}, {text: "  \n"}, {text: "c"}}}
	c := newController(t, det, eng)

	out, err := c.RunImage(context.Background(), newPage(100, 200), DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out.Regions, 3)
	assert.Empty(t, out.Regions[1].Text)
	assert.Equal(t, "a\n\nc", out.CombinedText)
}

func TestRunImage_DetectorFailureDoesNotFallBack(t *testing.T) {
	det := layout.DetectorFunc(func(context.Context, image.Image) ([]layout.RawRegion, error) {
		return nil, errors.New("session crashed")
	})
	eng := &fakeEngine{}
	c := newController(t, det, eng)

	out, err := c.RunImage(context.Background(), newPage(100, 100), DefaultConfig())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, layout.ErrDetectorUnavailable)
	assert.Equal(t, 0, eng.calls())
}

func TestRunImage_FailFast(t *testing.T) {
	det := staticDetector(
		layout.RawRegion{Label: "text", X1: 0, Y1: 0, X2: 100, Y2: 50, Score: 0.9},
		layout.RawRegion{Label: "text", X1: 0, Y1: 60, X2: 100, Y2: 110, Score: 0.9},
		layout.RawRegion{Label: "text", X1: 0, Y1: 120, X2: 100, Y2: 170, Score: 0.9},
	)
	eng := &fakeEngine{replies: []reply{{text: "a"}, {err: fmt.Errorf("dial: %w", ocr.ErrEngineUnavailable)}}}
	c := newController(t, det, eng)

	out, err := c.RunImage(context.Background(), newPage(100, 200), DefaultConfig())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ocr.ErrEngineUnavailable)

	var unitErr *UnitError
	require.ErrorAs(t, err, &unitErr)
	assert.Equal(t, 1, unitErr.Index)
	assert.Equal(t, 2, eng.calls())
}

func TestRunImage_ContinueOnError(t *testing.T) {
	det := staticDetector(
		layout.RawRegion{Label: "text", X1: 0, Y1: 0, X2: 100, Y2: 50, Score: 0.9},
		layout.RawRegion{Label: "table", X1: 0, Y1: 60, X2: 100, Y2: 110, Score: 0.9},
		layout.RawRegion{Label: "text", X1: 0, Y1: 120, X2: 100, Y2: 170, Score: 0.9},
	)
	rejected := &ocr.EngineError{Backend: "fake", StatusCode: 500, Body: "boom"}
	eng := &fakeEngine{replies: []reply{{text: "a"}, {err: rejected}, {text: "c"}}}
	c := newController(t, det, eng)

	cfg := DefaultConfig()
	cfg.Policy = ContinueOnError
	out, err := c.RunImage(context.Background(), newPage(100, 200), cfg)

	require.NotNil(t, out)
	var partial *PartialPageFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, 3, partial.Total)
	assert.ErrorIs(t, err, ocr.ErrEngineRejected)

	require.Len(t, out.Regions, 3)
	assert.Empty(t, out.Regions[1].Text)
	assert.NotEmpty(t, out.Regions[1].Error)
	assert.Equal(t, "a\n\nc", out.CombinedText)
	assert.Equal(t, 1, out.Failed())
}

func TestRunImage_StateTransitions(t *testing.T) {
	var states []State
	cfg := DefaultConfig()
	cfg.Observer = StateObserverFunc(func(s State) { states = append(states, s) })

	c := newController(t, nil, &fakeEngine{})
	_, err := c.RunImage(context.Background(), newPage(50, 50), cfg)
	require.NoError(t, err)
	assert.Equal(t, []State{StateDetecting, StateFallbackSplitOCR, StateStitched, StateDone}, states)

	states = nil
	c = newController(t, staticDetector(layout.RawRegion{Label: "text", X2: 10, Y2: 10, Score: 1}), &fakeEngine{})
	_, err = c.RunImage(context.Background(), newPage(50, 50), cfg)
	require.NoError(t, err)
	assert.Equal(t, []State{StateDetecting, StateRegionOCR, StateStitched, StateDone}, states)
}

func TestRunImage_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig()
	cfg.Policy = ContinueOnError
	c := newController(t, nil, &fakeEngine{})
	_, err := c.RunImage(ctx, newPage(50, 50), cfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunImage_InvalidInput(t *testing.T) {
	c := newController(t, nil, &fakeEngine{})

	_, err := c.RunImage(context.Background(), nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrMalformedInput)

	cfg := DefaultConfig()
	cfg.Split = segment.Config{MaxHeight: 100, Overlap: 100}
	_, err = c.RunImage(context.Background(), newPage(10, 10), cfg)
	assert.Error(t, err)
}

func TestRunLayoutOcr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page_001.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, newPage(40, 30)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	eng := &fakeEngine{replies: []reply{{text: "\\(\\frac{1}{2}\\) cup"}}}
	c := newController(t, nil, eng)

	out, err := c.RunLayoutOcr(context.Background(), path, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "½ cup", out.CombinedText)
	assert.Equal(t, 40, out.Width)

	bad := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))
	_, err = c.RunLayoutOcr(context.Background(), bad, DefaultConfig())
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = c.RunLayoutOcr(context.Background(), filepath.Join(dir, "missing.png"), DefaultConfig())
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestBuilder(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.Error(t, err)

	c, err := NewBuilder().
		WithEngine(&fakeEngine{}).
		WithSelector(layout.SelectorConfig{ScoreThreshold: 0.7}).
		WithSplit(segment.Config{MaxHeight: 500, Overlap: 20}).
		WithPolicy(ContinueOnError).
		Build()
	require.NoError(t, err)
	assert.Equal(t, 0.7, c.Defaults().Selector.ScoreThreshold)
	assert.Equal(t, ContinueOnError, c.Defaults().Policy)
	assert.NotNil(t, c.Dispatcher())

	_, err = NewBuilder().WithEngine(&fakeEngine{}).WithSelector(layout.SelectorConfig{ScoreThreshold: 2}).Build()
	assert.Error(t, err)
}
