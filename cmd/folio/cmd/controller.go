package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/folio/internal/config"
	"github.com/MeKo-Tech/folio/internal/layout"
	"github.com/MeKo-Tech/folio/internal/normalize"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/pipeline"
)

// buildController wires engine, layout detector and normalizer from cfg.
// The returned cleanup releases the engine and the detector session.
func buildController(ctx context.Context, cfg *config.Config) (*pipeline.Controller, func(), error) {
	engine, err := ocr.NewEngine(ctx, cfg.ToEngineConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OCR engine: %w", err)
	}

	tables, err := cfg.NormalizerTables()
	if err != nil {
		_ = ocr.CloseEngine(engine)
		return nil, nil, err
	}

	b := pipeline.NewBuilder().
		WithEngine(engine).
		WithNormalizer(normalize.New(tables)).
		WithSelector(cfg.ToSelectorConfig()).
		WithSplit(cfg.ToSplitConfig()).
		WithPolicy(cfg.ToPipelineConfig().Policy)

	var detector *layout.ONNXDetector
	if cfg.Layout.Enabled {
		detector, err = layout.NewONNXDetector(cfg.ToONNXConfig())
		if err != nil {
			// Pages still get recognized through the fallback path.
			slog.Warn("Layout detector unavailable, using fallback splitting", "error", err)
		} else {
			b.WithDetector(detector)
		}
	}

	cleanup := func() {
		if detector != nil {
			if err := detector.Close(); err != nil {
				slog.Warn("Failed to close layout detector", "error", err)
			}
		}
		if err := ocr.CloseEngine(engine); err != nil {
			slog.Warn("Failed to close OCR engine", "error", err)
		}
	}

	ctrl, err := b.Build()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	slog.Debug("Pipeline ready",
		"backend", cfg.Engine.Backend,
		"layout", detector != nil,
		"policy", ctrl.Defaults().Policy.String())
	return ctrl, cleanup, nil
}
