package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/folio/internal/document"
	"github.com/MeKo-Tech/folio/internal/docx"
	"github.com/MeKo-Tech/folio/internal/pdf"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/spf13/cobra"
)

// exportCmd represents the export command.
var exportCmd = &cobra.Command{
	Use:   "export [files...]",
	Short: "Assemble pages into a DOCX document",
	Long: `Assemble one or more pages into a Word document.

Images and PDFs are recognized first. Markdown and text files are taken
as already recognized pages. Pages keep the order of the arguments and
are numbered consecutively.

Examples:
  folio export --out report.docx page1.png page2.png
  folio export --title "Minutes" --out minutes.docx minutes.md
  folio export --out scan.docx scan.pdf --pages 2-4`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no input files provided")
	}
	args, err := expandInputs(cmd, args, true)
	if err != nil {
		return err
	}
	cfg := GetConfig()

	title, _ := cmd.Flags().GetString("title")
	outPath, _ := cmd.Flags().GetString("out")
	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		outPath = base + docx.Extension
	}
	if !strings.EqualFold(filepath.Ext(outPath), docx.Extension) {
		outPath += docx.Extension
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(outPath), filepath.Ext(outPath))
	}

	opts := inputOptions{AllowText: true}
	opts.PageRange, _ = cmd.Flags().GetString("pages")
	opts.Password, _ = cmd.Flags().GetString("password")
	opts.TextQuality, _ = cmd.Flags().GetFloat64("text-quality")

	assembler, err := document.NewAssembler(cfg.ToExportStyle())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	workDir, err := os.MkdirTemp("", "folio-export-*")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	inputs := make([]*preparedInput, 0, len(args))
	needOCR := false
	for _, path := range args {
		in, err := prepareInput(ctx, path, workDir, opts)
		if err != nil {
			return err
		}
		needOCR = needOCR || len(in.Pending) > 0
		inputs = append(inputs, in)
	}

	var ctrl *pipeline.Controller
	if needOCR {
		c, cleanup, err := buildController(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		ctrl = c
	}

	pages, err := exportPages(ctx, ctrl, cfg.ToPipelineConfig(), inputs)
	if err != nil {
		return err
	}

	doc := assembler.Build(title, pages)
	if err := writeDOCX(outPath, doc); err != nil {
		return err
	}
	slog.Info("Export complete", "file", outPath, "pages", len(pages), "title", doc.Title)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d pages)\n", outPath, len(pages))
	return nil
}

// exportPages recognizes pending pages and numbers all pages consecutively
// across inputs. Pages that produced no text fail the export.
func exportPages(ctx context.Context, ctrl *pipeline.Controller, cfg pipeline.Config,
	inputs []*preparedInput,
) ([]document.PageExportInput, error) {
	var pages []document.PageExportInput
	for _, in := range inputs {
		var recognized []pipeline.PageResult
		if len(in.Pending) > 0 {
			res, err := ctrl.ProcessPages(ctx, in.Pending, cfg, nil)
			if err != nil {
				return nil, fmt.Errorf("OCR of %s interrupted: %w", in.Path, err)
			}
			recognized = res
		}
		for _, r := range mergeResults(in.Ready, recognized) {
			if r.Outcome == nil {
				return nil, fmt.Errorf("%s page %d: %w", in.Path, r.Number, r.Err)
			}
			if r.Err != nil {
				slog.Warn("Exporting partially recognized page", "file", in.Path, "page", r.Number, "error", r.Err)
			}
			pages = append(pages, document.PageExportInput{
				PageNumber: len(pages) + 1,
				RawText:    r.Outcome.CombinedText,
			})
		}
	}
	return pages, nil
}

func writeDOCX(path string, doc *document.AssembledDocument) (err error) {
	f, err := os.Create(path) //nolint:gosec // G304: user-chosen output path
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := docx.NewWriter().Serialize(f, doc); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	commandBindings[exportCmd] = [][]flagBinding{pipelineBindings}
	exportCmd.Flags().String("title", "", "document title (default: output file name)")
	exportCmd.Flags().String("out", "", "output .docx file (default: first input name)")
	exportCmd.Flags().String("pages", "", "PDF page range, e.g. 1-3,7")
	exportCmd.Flags().String("password", "", "password for encrypted PDFs")
	exportCmd.Flags().Float64("text-quality", pdf.DefaultTextQuality,
		"minimum embedded text score for PDF pages to skip OCR (0 = always OCR)")
	addDiscoveryFlags(exportCmd)
	addPipelineFlags(exportCmd)
}
