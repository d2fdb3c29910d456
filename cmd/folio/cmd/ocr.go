package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/folio/internal/pdf"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// documentOutput is the JSON shape of one input file.
type documentOutput struct {
	File  string          `json:"file"`
	Pages json.RawMessage `json:"pages"`
	Error string          `json:"error,omitempty"`
}

// ocrCmd represents the ocr command.
var ocrCmd = &cobra.Command{
	Use:   "ocr [files...]",
	Short: "Recognize text in images and PDFs",
	Long: `Run layout-aware OCR on one or more image or PDF files.

Every page is cut into layout regions (or horizontal chunks when no layout
model is available), recognized by the OCR engine and normalized to
Markdown. PDF pages with a good embedded text layer skip OCR.

Supported formats: JPEG, PNG, BMP, GIF, TIFF, PDF

Examples:
  folio ocr page.png
  folio ocr scan.pdf --pages 1-3 --format json
  folio ocr *.png --output result.txt --workers 2
  folio ocr scans/ --recursive --exclude "*_thumb.png"`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runOCR,
}

func runOCR(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no input files provided")
	}
	args, err := expandInputs(cmd, args, false)
	if err != nil {
		return err
	}
	cfg := GetConfig()

	format, _ := cmd.Flags().GetString("format")
	if format != outputFormatText && format != outputFormatJSON {
		return fmt.Errorf("invalid output format %q (must be %s or %s)", format, outputFormatText, outputFormatJSON)
	}
	outputFile, _ := cmd.Flags().GetString("output")
	timeoutSec, _ := cmd.Flags().GetInt("timeout")
	showProgress, _ := cmd.Flags().GetBool("progress")

	opts := inputOptions{}
	opts.PageRange, _ = cmd.Flags().GetString("pages")
	opts.Password, _ = cmd.Flags().GetString("password")
	opts.TextQuality, _ = cmd.Flags().GetFloat64("text-quality")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	workDir, err := os.MkdirTemp("", "folio-ocr-*")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	inputs := make([]*preparedInput, 0, len(args))
	for _, path := range args {
		in, err := prepareInput(ctx, path, workDir, opts)
		if err != nil {
			return err
		}
		inputs = append(inputs, in)
	}

	ctrl, cleanup, err := buildController(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	pcfg := cfg.ToParallelConfig()
	pcfg.NewProgress = func(docID string) pipeline.ProgressCallback {
		return newProgress(cmd.ErrOrStderr(), showProgress, docID)
	}

	start := time.Now()
	results, err := recognizeInputs(ctx, ctrl, inputs, pcfg)
	if err != nil {
		return err
	}

	var all []pipeline.PageResult
	for _, r := range results {
		all = append(all, r.Pages...)
	}
	stats := pipeline.CalculateBatchStats(all)
	slog.Info("OCR complete",
		"files", len(inputs),
		"pages", stats.Pages,
		"succeeded", stats.Succeeded,
		"partial", stats.Partial,
		"failed", stats.Failed,
		"ocr_ms", stats.TotalOCRDur.Milliseconds(),
		"duration_ms", time.Since(start).Milliseconds())

	out := cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile) //nolint:gosec // G304: user-chosen output path
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := writeResults(out, format, results); err != nil {
		return err
	}

	if bad := stats.Failed + stats.Partial; bad > 0 {
		return fmt.Errorf("%d of %d pages incomplete", bad, stats.Pages)
	}
	return nil
}

// fileResult holds the merged page results of one input file.
type fileResult struct {
	File  string
	Pages []pipeline.PageResult
	Err   error
}

// recognizeInputs runs OCR on every pending page, one document per worker,
// and merges the results with pages that were already known.
func recognizeInputs(ctx context.Context, ctrl *pipeline.Controller, inputs []*preparedInput,
	pcfg pipeline.ParallelConfig,
) ([]fileResult, error) {
	docs := make([]pipeline.DocumentInput, 0, len(inputs))
	index := make(map[string]int, len(inputs))
	for i, in := range inputs {
		if len(in.Pending) == 0 {
			continue
		}
		id := fmt.Sprintf("%d:%s", i+1, in.Path)
		index[id] = i
		docs = append(docs, pipeline.DocumentInput{ID: id, Pages: in.Pending})
	}

	recognized := make([][]pipeline.PageResult, len(inputs))
	docErrs := make([]error, len(inputs))
	if len(docs) > 0 {
		results, err := ctrl.ProcessDocuments(ctx, docs, pcfg)
		if err != nil {
			return nil, fmt.Errorf("OCR interrupted: %w", err)
		}
		for _, r := range results {
			i := index[r.ID]
			recognized[i] = r.Pages
			docErrs[i] = r.Err
		}
	}

	out := make([]fileResult, len(inputs))
	for i, in := range inputs {
		out[i] = fileResult{File: in.Path, Pages: mergeResults(in.Ready, recognized[i]), Err: docErrs[i]}
	}
	return out, nil
}

func writeResults(w io.Writer, format string, results []fileResult) error {
	if format == outputFormatJSON {
		docs := make([]documentOutput, 0, len(results))
		for _, r := range results {
			pages, err := pipeline.ToJSONPages(r.Pages)
			if err != nil {
				return fmt.Errorf("failed to encode results: %w", err)
			}
			d := documentOutput{File: r.File, Pages: json.RawMessage(pages)}
			if r.Err != nil {
				d.Error = r.Err.Error()
			}
			docs = append(docs, d)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}

	var sb strings.Builder
	for i, r := range results {
		if len(results) > 1 {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "=== %s ===\n", r.File)
		}
		sb.WriteString(pipeline.ToPlainTextPages(r.Pages))
		if r.Err != nil {
			fmt.Fprintf(&sb, "\n[error: %v]", r.Err)
		}
	}
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func init() {
	rootCmd.AddCommand(ocrCmd)
	commandBindings[ocrCmd] = [][]flagBinding{pipelineBindings, {{"batch.workers", "workers"}}}
	ocrCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	ocrCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	ocrCmd.Flags().Int("timeout", 0, "overall timeout in seconds (0 = none)")
	ocrCmd.Flags().String("pages", "", "PDF page range, e.g. 1-3,7")
	ocrCmd.Flags().String("password", "", "password for encrypted PDFs")
	ocrCmd.Flags().Float64("text-quality", pdf.DefaultTextQuality,
		"minimum embedded text score for PDF pages to skip OCR (0 = always OCR)")
	ocrCmd.Flags().Int("workers", 4, "number of files processed in parallel")
	ocrCmd.Flags().Bool("progress", false, "draw a progress bar on stderr")
	addDiscoveryFlags(ocrCmd)
	addPipelineFlags(ocrCmd)
}

// newProgress always logs at debug level and adds a console bar on request.
func newProgress(w io.Writer, console bool, docID string) pipeline.ProgressCallback {
	logged := pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug, docID)
	if !console {
		return logged
	}
	return pipeline.NewMultiProgressCallback(pipeline.NewConsoleProgressCallback(w, docID), logged)
}
