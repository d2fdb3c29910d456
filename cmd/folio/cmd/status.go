package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/folio/internal/config"
	"github.com/MeKo-Tech/folio/internal/models"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/onnx"
	"github.com/spf13/cobra"
)

// statusReport is the output of folio status.
type statusReport struct {
	Engine      ocr.Status    `json:"engine"`
	Layout      layoutReport  `json:"layout"`
	Models      []modelReport `json:"models"`
	EngineError string        `json:"engine_error,omitempty"`
}

type layoutReport struct {
	Enabled      bool   `json:"enabled"`
	ModelPath    string `json:"model_path"`
	ModelFound   bool   `json:"model_found"`
	RuntimePath  string `json:"runtime_path,omitempty"`
	RuntimeError string `json:"runtime_error,omitempty"`
}

type modelReport struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Available bool   `json:"available"`
}

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check OCR engine reachability and layout model setup",
	Long: `Check that the configured OCR engine is reachable and its model is
loaded, and report which layout models and ONNX Runtime library are found.

Exits with an error when the engine is offline.

Examples:
  folio status
  folio status --backend ollama --ollama-url http://gpu-box:11434
  folio status --format json`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		format, _ := cmd.Flags().GetString("format")
		if format != outputFormatText && format != outputFormatJSON {
			return fmt.Errorf("invalid output format %q (must be %s or %s)", format, outputFormatText, outputFormatJSON)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		report := collectStatus(ctx, cfg)
		if err := writeStatus(cmd.OutOrStdout(), format, report); err != nil {
			return err
		}
		if !report.Engine.Online {
			return errors.New("OCR engine is not running")
		}
		return nil
	},
}

func collectStatus(ctx context.Context, cfg *config.Config) statusReport {
	var report statusReport

	engineCfg := cfg.ToEngineConfig()
	engine, err := ocr.NewEngine(ctx, engineCfg)
	if err != nil {
		report.Engine = ocr.Status{Backend: engineCfg.Backend}
		report.EngineError = err.Error()
	} else {
		defer func() { _ = ocr.CloseEngine(engine) }()
		if sr, ok := engine.(ocr.StatusReporter); ok {
			report.Engine = sr.Status(ctx)
		} else {
			report.Engine = ocr.Status{Online: true, ModelLoaded: true, Backend: engineCfg.Backend}
		}
	}

	onnxCfg := cfg.ToONNXConfig()
	report.Layout = layoutReport{Enabled: cfg.Layout.Enabled, ModelPath: onnxCfg.ModelPath}
	_, statErr := os.Stat(onnxCfg.ModelPath)
	report.Layout.ModelFound = statErr == nil
	if lib, err := onnx.ResolveLibraryPath(onnxCfg.LibraryPath, onnxCfg.GPU.UseGPU); err != nil {
		report.Layout.RuntimeError = err.Error()
	} else {
		report.Layout.RuntimePath = lib
	}

	for _, m := range models.ListAvailableModels() {
		path := models.ResolveModelPath(cfg.ModelsDir, m.Type, m.Filename)
		_, err := os.Stat(path)
		report.Models = append(report.Models, modelReport{Name: m.Name, Path: path, Available: err == nil})
	}
	return report
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func writeStatus(w io.Writer, format string, r statusReport) error {
	if format == outputFormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	_, _ = fmt.Fprintf(w, "Engine backend:   %s\n", r.Engine.Backend)
	_, _ = fmt.Fprintf(w, "Engine online:    %s\n", yesNo(r.Engine.Online))
	_, _ = fmt.Fprintf(w, "Model loaded:     %s\n", yesNo(r.Engine.ModelLoaded))
	if len(r.Engine.Models) > 0 {
		_, _ = fmt.Fprintf(w, "Engine models:    %v\n", r.Engine.Models)
	}
	if r.EngineError != "" {
		_, _ = fmt.Fprintf(w, "Engine error:     %s\n", r.EngineError)
	}
	_, _ = fmt.Fprintf(w, "Layout detection: %s\n", yesNo(r.Layout.Enabled))
	_, _ = fmt.Fprintf(w, "Layout model:     %s (found: %s)\n", r.Layout.ModelPath, yesNo(r.Layout.ModelFound))
	if r.Layout.RuntimeError != "" {
		_, _ = fmt.Fprintf(w, "ONNX Runtime:     %s\n", r.Layout.RuntimeError)
	} else {
		_, _ = fmt.Fprintf(w, "ONNX Runtime:     %s\n", r.Layout.RuntimePath)
	}
	_, _ = fmt.Fprintln(w, "Available layout models:")
	for _, m := range r.Models {
		mark := "-"
		if m.Available {
			mark = "+"
		}
		_, _ = fmt.Fprintf(w, "  %s %s (%s)\n", mark, m.Name, m.Path)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
	commandBindings[statusCmd] = [][]flagBinding{pipelineBindings}
	statusCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	addPipelineFlags(statusCmd)
}
