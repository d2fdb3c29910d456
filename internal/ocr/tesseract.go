//go:build tesseract

package ocr

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine recognizes text with a local Tesseract installation.
// gosseract clients are not goroutine-safe, so requests are serialized.
type TesseractEngine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractEngine creates a Tesseract client for the configured languages.
func NewTesseractEngine(cfg TesseractConfig) (*TesseractEngine, error) {
	client := gosseract.NewClient()
	if cfg.Languages != "" {
		if err := client.SetLanguage(cfg.Languages); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to set tesseract language: %w", err)
		}
	}
	return &TesseractEngine{client: client}, nil
}

// Recognize implements Engine.
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(image); err != nil {
		return "", &EngineError{Backend: BackendTesseract, Body: err.Error()}
	}
	text, err := e.client.Text()
	if err != nil {
		return "", &EngineError{Backend: BackendTesseract, Body: err.Error()}
	}
	return text, nil
}

// Status implements StatusReporter.
func (e *TesseractEngine) Status(context.Context) Status {
	return Status{Backend: BackendTesseract, Online: true, ModelLoaded: true, Models: []string{gosseract.Version()}}
}

// Close releases the Tesseract client.
func (e *TesseractEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
