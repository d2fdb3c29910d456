package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/folio/internal/utils"
)

// Dispatcher sends exactly one engine request per image.
type Dispatcher struct {
	engine Engine
}

// NewDispatcher wraps an engine.
func NewDispatcher(engine Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

// Engine returns the wrapped engine.
func (d *Dispatcher) Engine() Engine { return d.engine }

// Dispatch encodes img as PNG and returns the engine's raw text. Engine
// errors are returned unchanged; empty text is a valid result.
func (d *Dispatcher) Dispatch(ctx context.Context, img image.Image) (string, error) {
	data, err := utils.EncodePNG(img)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedImage, err)
	}
	return d.DispatchBytes(ctx, data)
}

// DispatchBytes sends already-encoded image bytes.
func (d *Dispatcher) DispatchBytes(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	text, err := d.engine.Recognize(ctx, data)
	elapsed := time.Since(start)

	status := "ok"
	switch {
	case err == nil:
	case IsRetryable(err):
		status = "unavailable"
	default:
		status = "rejected"
	}
	recordRequest(status, elapsed)

	if err != nil {
		slog.Debug("OCR request failed", "bytes", len(data), "duration_ms", elapsed.Milliseconds(), "error", err)
		return "", err
	}
	slog.Debug("OCR request complete", "bytes", len(data), "chars", len(text), "duration_ms", elapsed.Milliseconds())
	return text, nil
}
