// Package pipeline drives layout-aware OCR of page images: detect regions,
// recognize each one (or fall back to horizontal chunks), normalize and
// stitch the text in reading order.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/folio/internal/layout"
	"github.com/MeKo-Tech/folio/internal/normalize"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/segment"
)

// FailurePolicy decides what happens when one unit of a page fails.
type FailurePolicy int

const (
	// FailFast aborts the page on the first unit failure.
	FailFast FailurePolicy = iota
	// ContinueOnError records the failure on the unit and keeps going.
	ContinueOnError
)

func (p FailurePolicy) String() string {
	if p == ContinueOnError {
		return "continue_on_error"
	}
	return "fail_fast"
}

// Config holds per-invocation settings of the controller.
type Config struct {
	Selector layout.SelectorConfig
	Split    segment.Config
	Policy   FailurePolicy
	// Observer is optional.
	Observer StateObserver
}

// DefaultConfig returns the single-page defaults.
func DefaultConfig() Config {
	return Config{
		Selector: layout.DefaultSelectorConfig(),
		Split:    segment.DefaultConfig(),
		Policy:   FailFast,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Selector.ScoreThreshold < 0 || c.Selector.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold %.3f out of range [0,1]", c.Selector.ScoreThreshold)
	}
	if err := c.Split.Validate(); err != nil {
		return fmt.Errorf("fallback split: %w", err)
	}
	return nil
}

// StateObserver is notified on every state transition of a page.
type StateObserver interface {
	OnState(state State)
}

// StateObserverFunc adapts a function to StateObserver.
type StateObserverFunc func(State)

// OnState calls f(state).
func (f StateObserverFunc) OnState(state State) { f(state) }

// Controller runs the per-page state machine. Its dependencies are shared
// read-only, so one controller can serve concurrent pages of different documents.
type Controller struct {
	detector   layout.Detector
	dispatcher *ocr.Dispatcher
	normalizer *normalize.Normalizer
	defaults   Config
}

// Defaults returns the configuration the controller was built with.
func (c *Controller) Defaults() Config { return c.defaults }

// Dispatcher exposes the OCR dispatcher, e.g. for engine status.
func (c *Controller) Dispatcher() *ocr.Dispatcher { return c.dispatcher }

// Builder constructs a Controller with fluent configuration.
type Builder struct {
	cfg        Config
	detector   layout.Detector
	engine     ocr.Engine
	normalizer *normalize.Normalizer
}

// NewBuilder creates a new controller builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithDetector sets the layout detector. Without one, every page takes the fallback path.
func (b *Builder) WithDetector(d layout.Detector) *Builder {
	b.detector = d
	return b
}

// WithEngine sets the OCR engine.
func (b *Builder) WithEngine(e ocr.Engine) *Builder {
	b.engine = e
	return b
}

// WithNormalizer overrides the default normalizer.
func (b *Builder) WithNormalizer(n *normalize.Normalizer) *Builder {
	b.normalizer = n
	return b
}

// WithSelector sets the region selection defaults.
func (b *Builder) WithSelector(cfg layout.SelectorConfig) *Builder {
	b.cfg.Selector = cfg
	return b
}

// WithSplit sets the fallback split defaults.
func (b *Builder) WithSplit(cfg segment.Config) *Builder {
	b.cfg.Split = cfg
	return b
}

// WithPolicy sets the default failure policy.
func (b *Builder) WithPolicy(p FailurePolicy) *Builder {
	b.cfg.Policy = p
	return b
}

// Config returns the current builder config.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and creates the controller.
func (b *Builder) Build() (*Controller, error) {
	if b.engine == nil {
		return nil, errors.New("ocr engine is required")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	det := b.detector
	if det == nil {
		det = layout.NopDetector{}
	}
	norm := b.normalizer
	if norm == nil {
		norm = normalize.Default()
	}
	return &Controller{
		detector:   det,
		dispatcher: ocr.NewDispatcher(b.engine),
		normalizer: norm,
		defaults:   b.cfg,
	}, nil
}
