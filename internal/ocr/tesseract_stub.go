//go:build !tesseract

package ocr

import (
	"context"
	"errors"
)

// ErrTesseractNotEnabled is returned when the binary was built without the
// tesseract build tag.
var ErrTesseractNotEnabled = errors.New("tesseract support not enabled; rebuild with -tags tesseract")

// TesseractEngine is unavailable in this build.
type TesseractEngine struct{}

// NewTesseractEngine always fails without the tesseract build tag.
func NewTesseractEngine(TesseractConfig) (*TesseractEngine, error) {
	return nil, ErrTesseractNotEnabled
}

// Recognize implements Engine.
func (*TesseractEngine) Recognize(context.Context, []byte) (string, error) {
	return "", unavailable(BackendTesseract, ErrTesseractNotEnabled)
}
