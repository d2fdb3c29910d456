package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/folio/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagBinding maps a command flag to a configuration key.
type flagBinding struct {
	key  string
	flag string
}

// pipelineBindings are shared by every command that runs OCR.
var pipelineBindings = []flagBinding{
	{"engine.backend", "backend"},
	{"engine.ollama.base_url", "ollama-url"},
	{"engine.ollama.model", "model"},
	{"engine.timeout_sec", "engine-timeout"},
	{"layout.enabled", "layout"},
	{"layout.model_path", "layout-model"},
	{"layout.score_threshold", "score-threshold"},
	{"fallback.max_height", "max-height"},
	{"fallback.overlap", "overlap"},
	{"normalize.tables_file", "tables"},
	{"gpu.enabled", "gpu"},
	{"gpu.device", "gpu-device"},
}

// addPipelineFlags registers the flags listed in pipelineBindings.
func addPipelineFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	cmd.Flags().String("backend", d.Engine.Backend, "OCR backend: ollama, documentai or tesseract")
	cmd.Flags().String("ollama-url", d.Engine.Ollama.BaseURL, "Ollama base URL")
	cmd.Flags().String("model", d.Engine.Ollama.Model, "Ollama model name")
	cmd.Flags().Int("engine-timeout", d.Engine.TimeoutSec, "per-request OCR engine timeout in seconds")
	cmd.Flags().Bool("layout", d.Layout.Enabled, "enable ONNX layout detection")
	cmd.Flags().String("layout-model", d.Layout.ModelPath, "layout model file (resolved against --models-dir)")
	cmd.Flags().Float64("score-threshold", d.Layout.ScoreThreshold, "minimum layout region score (0..1)")
	cmd.Flags().Int("max-height", d.Fallback.MaxHeight, "fallback chunk height in pixels")
	cmd.Flags().Int("overlap", d.Fallback.Overlap, "fallback chunk overlap in pixels")
	cmd.Flags().String("tables", d.Normalize.TablesFile, "YAML overlay for the normalization tables")
	cmd.Flags().Bool("gpu", d.GPU.Enabled, "run the layout model on CUDA")
	cmd.Flags().Int("gpu-device", d.GPU.Device, "CUDA device ID")
}

// commandBindings lists the flag bindings of each command. They are bound
// when the command runs so that commands sharing a key do not steal each
// other's binding.
var commandBindings = map[*cobra.Command][][]flagBinding{}

// bindFlags binds flags to viper keys.
func bindFlags(cmd *cobra.Command, bindings ...[]flagBinding) error {
	for _, group := range bindings {
		for _, b := range group {
			f := cmd.Flags().Lookup(b.flag)
			if f == nil {
				continue
			}
			if err := viper.BindPFlag(b.key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", b.flag, err)
			}
		}
	}
	return nil
}
