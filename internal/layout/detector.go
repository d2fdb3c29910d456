package layout

import (
	"context"
	"errors"
	"image"
)

// ErrDetectorUnavailable is returned when the layout detector cannot run.
// A page whose detection fails is aborted; it never falls back to splitting.
var ErrDetectorUnavailable = errors.New("layout detector unavailable")

// Detector reports raw layout regions for a page image. Implementations must
// be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]RawRegion, error)
}

// NopDetector never finds a region, which routes every page through the
// tall-image fallback.
type NopDetector struct{}

// Detect implements Detector.
func (NopDetector) Detect(ctx context.Context, _ image.Image) ([]RawRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image) ([]RawRegion, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]RawRegion, error) {
	return f(ctx, img)
}
