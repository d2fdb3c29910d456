// Package ocr sends page regions to an external recognition engine.
package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Engine recognizes the text in one encoded image. Implementations must be
// safe for concurrent use and must honor ctx cancellation.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Status describes the reachability of an engine and its model.
type Status struct {
	Online      bool     `json:"online"`
	ModelLoaded bool     `json:"model_loaded"`
	Models      []string `json:"models"`
	Backend     string   `json:"backend"`
}

// StatusReporter is implemented by engines that can report their health.
type StatusReporter interface {
	Status(ctx context.Context) Status
}

// Warmer is implemented by engines that can preload their model.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Closer is implemented by engines holding process resources.
type Closer interface {
	Close() error
}

// Backend names accepted by NewEngine.
const (
	BackendOllama     = "ollama"
	BackendDocumentAI = "documentai"
	BackendTesseract  = "tesseract"
)

// Config selects and configures an engine backend.
type Config struct {
	Backend    string
	Ollama     OllamaConfig
	DocumentAI DocumentAIConfig
	Tesseract  TesseractConfig
}

// DefaultConfig returns the local Ollama configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendOllama,
		Ollama:     DefaultOllamaConfig(),
		DocumentAI: DefaultDocumentAIConfig(),
		Tesseract:  DefaultTesseractConfig(),
	}
}

// NewEngine builds the engine named by cfg.Backend.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	var (
		engine Engine
		err    error
	)
	switch cfg.Backend {
	case BackendOllama, "":
		engine, err = NewOllamaEngine(cfg.Ollama)
	case BackendDocumentAI:
		engine, err = NewDocumentAIEngine(ctx, cfg.DocumentAI)
	case BackendTesseract:
		engine, err = NewTesseractEngine(cfg.Tesseract)
	default:
		return nil, fmt.Errorf("unknown OCR backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// CloseEngine releases engine resources if it holds any.
func CloseEngine(e Engine) error {
	if c, ok := e.(Closer); ok {
		return c.Close()
	}
	return nil
}

// IsRetryable reports whether err is a transport-level failure that a caller
// may reasonably retry. The dispatcher itself never retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEngineUnavailable)
}
