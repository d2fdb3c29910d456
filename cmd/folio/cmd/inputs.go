package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/folio/internal/batch"
	"github.com/MeKo-Tech/folio/internal/pdf"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/utils"
)

// inputOptions controls how input files are turned into pages.
type inputOptions struct {
	PageRange string
	Password  string
	// TextQuality is the minimum score for embedded PDF text to skip OCR.
	// Zero or less always runs OCR.
	TextQuality float64
	// AllowText accepts .md and .txt files as already recognized pages.
	AllowText bool
}

// preparedInput is one input file split into pages that still need OCR
// and pages whose text is already known.
type preparedInput struct {
	Path    string
	Pending []pipeline.PageInput
	Ready   []pipeline.PageResult
}

func isTextInput(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".txt" || ext == ".markdown"
}

func isPDFInput(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// addDiscoveryFlags registers the directory expansion flags.
func addDiscoveryFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories of directory inputs")
	cmd.Flags().StringSlice("include", nil, "only take directory files whose names match these patterns")
	cmd.Flags().StringSlice("exclude", nil, "skip files whose names match these patterns")
}

// expandInputs replaces directory arguments by the supported files inside them.
func expandInputs(cmd *cobra.Command, args []string, allowText bool) ([]string, error) {
	opts := batch.Options{
		Accept: func(path string) bool {
			return utils.IsSupportedImage(path) || isPDFInput(path) || (allowText && isTextInput(path))
		},
	}
	opts.Recursive, _ = cmd.Flags().GetBool("recursive")
	opts.Include, _ = cmd.Flags().GetStringSlice("include")
	opts.Exclude, _ = cmd.Flags().GetStringSlice("exclude")

	files, err := batch.DiscoverInputs(args, opts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no input files left after filtering")
	}
	return files, nil
}

// textOutcome wraps already known text as a page outcome.
func textOutcome(text string) *pipeline.PageOcrOutcome {
	return &pipeline.PageOcrOutcome{CombinedText: text, Mode: pipeline.ModeText}
}

// prepareInput classifies path and extracts PDF pages into workDir.
func prepareInput(ctx context.Context, path, workDir string, opts inputOptions) (*preparedInput, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	in := &preparedInput{Path: path}

	switch {
	case utils.IsSupportedImage(path):
		in.Pending = []pipeline.PageInput{{Number: 1, ImagePath: path}}
	case isPDFInput(path):
		if err := preparePDF(ctx, in, workDir, opts); err != nil {
			return nil, err
		}
	case opts.AllowText && isTextInput(path):
		data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied input file
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		in.Ready = []pipeline.PageResult{{Number: 1, Outcome: textOutcome(string(data))}}
	default:
		return nil, fmt.Errorf("unsupported input type: %s", path)
	}
	return in, nil
}

func preparePDF(ctx context.Context, in *preparedInput, workDir string, opts inputOptions) error {
	var creds *pdf.Credentials
	if opts.Password != "" {
		creds = &pdf.Credentials{UserPassword: opts.Password}
	}
	if creds != nil {
		if err := pdf.ValidateCredentials(in.Path, creds); err != nil {
			return fmt.Errorf("%s: %w", in.Path, err)
		}
	} else if encrypted, err := pdf.IsEncrypted(in.Path); err != nil {
		return fmt.Errorf("%s: %w", in.Path, err)
	} else if encrypted {
		return fmt.Errorf("%s: %w (use --password)", in.Path, pdf.ErrPasswordRequired)
	}

	embedded := map[int]*pdf.TextExtraction{}
	if opts.TextQuality > 0 && creds == nil {
		texts, err := pdf.ExtractText(in.Path, opts.PageRange)
		if err != nil {
			slog.Debug("Embedded text unavailable", "file", in.Path, "error", err)
		} else {
			embedded = texts
		}
	}

	outDir, err := os.MkdirTemp(workDir, "pdf-*")
	if err != nil {
		return fmt.Errorf("failed to create page directory: %w", err)
	}
	pages, err := pdf.ExtractPageImages(ctx, in.Path, outDir, pdf.Options{
		PageRange:   opts.PageRange,
		Credentials: creds,
	})
	if err != nil && !errors.Is(err, pdf.ErrNoPageImages) {
		return fmt.Errorf("failed to extract pages from %s: %w", in.Path, err)
	}

	seen := make(map[int]bool, len(pages))
	for _, p := range pages {
		seen[p.SourcePage] = true
		if t := embedded[p.SourcePage]; t.Acceptable(opts.TextQuality) {
			in.Ready = append(in.Ready, pipeline.PageResult{Number: p.SourcePage, Outcome: textOutcome(t.Text)})
			continue
		}
		in.Pending = append(in.Pending, pipeline.PageInput{Number: p.SourcePage, ImagePath: p.Path})
	}
	// Pages without a scan image can still carry a usable text layer.
	for n, t := range embedded {
		if !seen[n] && t.Acceptable(opts.TextQuality) {
			in.Ready = append(in.Ready, pipeline.PageResult{Number: n, Outcome: textOutcome(t.Text)})
		}
	}

	if len(in.Pending) == 0 && len(in.Ready) == 0 {
		return fmt.Errorf("%s: %w", in.Path, pdf.ErrNoPageImages)
	}
	slog.Debug("Prepared PDF", "file", in.Path, "ocr_pages", len(in.Pending), "text_pages", len(in.Ready))
	return nil
}

// mergeResults combines OCR results with ready pages in page order.
func mergeResults(ready, recognized []pipeline.PageResult) []pipeline.PageResult {
	all := make([]pipeline.PageResult, 0, len(ready)+len(recognized))
	all = append(all, ready...)
	all = append(all, recognized...)
	slices.SortStableFunc(all, func(a, b pipeline.PageResult) int { return a.Number - b.Number })
	return all
}
