package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/folio/internal/layout"
	"github.com/MeKo-Tech/folio/internal/segment"
	"github.com/MeKo-Tech/folio/internal/utils"
)

// textSeparator joins the texts of consecutive non-empty units.
const textSeparator = "\n\n"

// unit is one image fragment sent to the OCR engine.
type unit struct {
	label string
	bbox  layout.BBox
	image image.Image
}

// RunLayoutOcr loads a page image from disk and runs the page state machine on it.
func (c *Controller) RunLayoutOcr(ctx context.Context, pageImagePath string, cfg Config) (*PageOcrOutcome, error) {
	img, _, err := utils.LoadImage(pageImagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedInput, pageImagePath, err)
	}
	return c.RunImage(ctx, img, cfg)
}

// RunImage runs detection, per-unit OCR and stitching on a decoded page.
// Under ContinueOnError the outcome is returned together with a
// *PartialPageFailure when at least one unit failed.
func (c *Controller) RunImage(ctx context.Context, img image.Image, cfg Config) (*PageOcrOutcome, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrMalformedInput)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrMalformedInput, b.Dx(), b.Dy())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	start := time.Now()
	observe(cfg, StateDetecting)

	raw, err := c.detector.Detect(ctx, img)
	if err != nil {
		recordPage("", time.Since(start), err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, layout.ErrDetectorUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", layout.ErrDetectorUnavailable, err)
	}
	regions := layout.Select(raw, b.Dx(), b.Dy(), cfg.Selector)
	detectNs := time.Since(start).Nanoseconds()

	outcome := &PageOcrOutcome{Width: b.Dx(), Height: b.Dy()}
	outcome.Processing.DetectionNs = detectNs

	var next func() (unit, bool)
	if len(regions) > 0 {
		outcome.Mode = ModeRegions
		observe(cfg, StateRegionOCR)
		next = regionUnits(img, regions)
	} else {
		outcome.Mode = ModeFallback
		observe(cfg, StateFallbackSplitOCR)
		splitter, err := segment.NewSplitter(img, cfg.Split)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
		}
		next = chunkUnits(splitter, b.Dx())
	}

	slog.Debug("Page layout resolved", "mode", outcome.Mode, "raw_regions", len(raw),
		"regions", len(regions), "width", b.Dx(), "height", b.Dy())

	ocrStart := time.Now()
	var firstErr error
	for u, ok := next(); ok; u, ok = next() {
		res := OcrRegionResult{Index: len(outcome.Regions), Label: u.label, BBox: u.bbox}
		text, err := c.dispatcher.Dispatch(ctx, u.image)
		recordUnit(outcome.Mode, err)
		if err != nil {
			if cfg.Policy == FailFast || ctx.Err() != nil {
				recordPage(outcome.Mode, time.Since(start), err)
				return nil, &UnitError{Index: res.Index, Label: u.label, Err: err}
			}
			slog.Warn("OCR unit failed", "index", res.Index, "label", u.label, "error", err)
			res.Error = err.Error()
			if firstErr == nil {
				firstErr = &UnitError{Index: res.Index, Label: u.label, Err: err}
			}
		} else {
			res.Text = c.normalizer.Normalize(text)
		}
		outcome.Regions = append(outcome.Regions, res)
	}
	outcome.Processing.OCRNs = time.Since(ocrStart).Nanoseconds()

	outcome.CombinedText = stitch(outcome.Regions)
	observe(cfg, StateStitched)

	outcome.Processing.TotalNs = time.Since(start).Nanoseconds()
	observe(cfg, StateDone)

	var pageErr error
	if firstErr != nil {
		pageErr = &PartialPageFailure{Failed: outcome.Failed(), Total: len(outcome.Regions), First: firstErr}
	}
	recordPage(outcome.Mode, time.Since(start), pageErr)

	slog.Debug("Page OCR complete", "mode", outcome.Mode, "units", len(outcome.Regions),
		"failed", outcome.Failed(), "chars", len(outcome.CombinedText),
		"duration_ms", time.Since(start).Milliseconds())
	return outcome, pageErr
}

func observe(cfg Config, s State) {
	if cfg.Observer != nil {
		cfg.Observer.OnState(s)
	}
}

// regionUnits crops selected regions lazily, in selector order.
func regionUnits(img image.Image, regions []layout.Region) func() (unit, bool) {
	origin := img.Bounds().Min
	i := 0
	return func() (unit, bool) {
		if i >= len(regions) {
			return unit{}, false
		}
		r := regions[i]
		i++
		crop := utils.CropImageRect(img, r.BBox.Rect().Add(origin))
		return unit{label: r.Label, bbox: r.BBox, image: crop}, true
	}
}

// chunkUnits adapts the splitter to full-width, unlabeled units.
func chunkUnits(s *segment.Splitter, width int) func() (unit, bool) {
	return func() (unit, bool) {
		seg, ok := s.Next()
		if !ok {
			return unit{}, false
		}
		return unit{
			bbox:  layout.BBox{X1: 0, Y1: seg.Top, X2: width, Y2: seg.Bottom},
			image: seg.Image,
		}, true
	}
}

// stitch joins the non-empty unit texts in order.
func stitch(results []OcrRegionResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Text != "" {
			parts = append(parts, r.Text)
		}
	}
	return strings.Join(parts, textSeparator)
}
