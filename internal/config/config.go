package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/folio/internal/document"
	"github.com/MeKo-Tech/folio/internal/layout"
	"github.com/MeKo-Tech/folio/internal/models"
	"github.com/MeKo-Tech/folio/internal/normalize"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/onnx"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/segment"
	"github.com/MeKo-Tech/folio/internal/store"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	onnxDefaults := layout.DefaultONNXConfig()
	split := segment.DefaultConfig()
	ollama := ocr.DefaultOllamaConfig()
	docai := ocr.DefaultDocumentAIConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Layout: LayoutConfig{
			Enabled:        false,
			InputSize:      onnxDefaults.InputSize,
			ScoreThreshold: layout.DefaultScoreThreshold,
			SkipLabels:     slices.Clone(layout.DefaultSkipLabels),
			UseNMS:         onnxDefaults.UseNMS,
			NMSThreshold:   onnxDefaults.NMSThreshold,
			NumThreads:     0,
		},
		Fallback: FallbackConfig{
			MaxHeight: split.MaxHeight,
			Overlap:   split.Overlap,
		},
		Engine: EngineConfig{
			Backend:    ocr.BackendOllama,
			TimeoutSec: int(ollama.Timeout / time.Second),
			Ollama: OllamaConfig{
				BaseURL: ollama.BaseURL,
				Model:   ollama.Model,
				Prompt:  ollama.Prompt,
			},
			DocumentAI: DocumentAIConfig{Location: docai.Location},
			Tesseract:  TesseractConfig{Languages: ocr.DefaultTesseractConfig().Languages},
		},
		Export: document.DefaultExportStyle(),
		Server: ServerConfig{
			Host:            "localhost",
			Port:            3000,
			CORSOrigin:      "*",
			MaxUploadMB:     200,
			TimeoutSec:      600,
			ShutdownTimeout: 10,
			UploadDir:       "uploads",
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		},
		Store: store.DefaultConfig(),
		Batch: BatchConfig{
			Workers:         4,
			ContinueOnError: true,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := validateThreshold(c.Layout.ScoreThreshold, "layout.score_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Layout.NMSThreshold, "layout.nms_threshold"); err != nil {
		return err
	}
	if c.Layout.Enabled && c.Layout.InputSize <= 0 {
		return fmt.Errorf("invalid layout input size: %d (must be positive)", c.Layout.InputSize)
	}
	if err := c.ToSplitConfig().Validate(); err != nil {
		return fmt.Errorf("invalid fallback: %w", err)
	}

	validBackends := []string{ocr.BackendOllama, ocr.BackendDocumentAI, ocr.BackendTesseract}
	if !slices.Contains(validBackends, c.Engine.Backend) {
		return fmt.Errorf("invalid engine backend: %s (must be one of: %s)", c.Engine.Backend, strings.Join(validBackends, ", "))
	}
	if c.Engine.TimeoutSec < 0 {
		return fmt.Errorf("invalid engine timeout: %d (must not be negative)", c.Engine.TimeoutSec)
	}
	if c.Engine.Backend == ocr.BackendOllama && c.Engine.Ollama.BaseURL == "" {
		return errors.New("engine.ollama.base_url is required")
	}
	if c.Engine.Backend == ocr.BackendDocumentAI && (c.Engine.DocumentAI.ProjectID == "" || c.Engine.DocumentAI.ProcessorID == "") {
		return errors.New("engine.documentai requires project_id and processor_id")
	}

	if err := c.Export.Validate(); err != nil {
		return fmt.Errorf("invalid export style: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.UploadDir == "" {
		return errors.New("server.upload_dir is required")
	}

	switch c.Store.Driver {
	case store.DriverMemory, store.DriverSQLite:
	default:
		return fmt.Errorf("invalid store driver: %s (must be one of: %s, %s)", c.Store.Driver, store.DriverMemory, store.DriverSQLite)
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}
	return nil
}

// ToSelectorConfig converts to layout.SelectorConfig.
func (c *Config) ToSelectorConfig() layout.SelectorConfig {
	cfg := layout.DefaultSelectorConfig()
	cfg.ScoreThreshold = c.Layout.ScoreThreshold
	if c.Layout.SkipLabels != nil {
		cfg.SkipLabels = slices.Clone(c.Layout.SkipLabels)
	}
	return cfg
}

// ToSplitConfig converts to segment.Config.
func (c *Config) ToSplitConfig() segment.Config {
	return segment.Config{MaxHeight: c.Fallback.MaxHeight, Overlap: c.Fallback.Overlap}
}

// ToPipelineConfig converts the config to the per-page controller configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Selector = c.ToSelectorConfig()
	cfg.Split = c.ToSplitConfig()
	if c.Batch.ContinueOnError {
		cfg.Policy = pipeline.ContinueOnError
	}
	return cfg
}

// ToParallelConfig converts to pipeline.ParallelConfig.
func (c *Config) ToParallelConfig() pipeline.ParallelConfig {
	cfg := pipeline.DefaultParallelConfig()
	cfg.MaxWorkers = c.Batch.Workers
	cfg.Pipeline = c.ToPipelineConfig()
	return cfg
}

// ToONNXConfig converts to layout.ONNXConfig, resolving the model path
// against the models directory.
func (c *Config) ToONNXConfig() layout.ONNXConfig {
	cfg := layout.DefaultONNXConfig()
	cfg.ModelPath = models.GetLayoutModelPath(c.ModelsDir, c.Layout.ModelPath)
	cfg.LibraryPath = c.Layout.LibraryPath
	if c.Layout.InputSize > 0 {
		cfg.InputSize = c.Layout.InputSize
	}
	cfg.UseNMS = c.Layout.UseNMS
	cfg.NMSThreshold = c.Layout.NMSThreshold
	cfg.NumThreads = c.Layout.NumThreads
	cfg.GPU = c.toGPUConfig()
	return cfg
}

func (c *Config) toGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	if limit, err := parseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPUMemLimit = limit
	}
	return cfg
}

// ToEngineConfig converts to ocr.Config.
func (c *Config) ToEngineConfig() ocr.Config {
	cfg := ocr.DefaultConfig()
	cfg.Backend = c.Engine.Backend
	cfg.Ollama.BaseURL = c.Engine.Ollama.BaseURL
	if c.Engine.Ollama.Model != "" {
		cfg.Ollama.Model = c.Engine.Ollama.Model
	}
	if c.Engine.Ollama.Prompt != "" {
		cfg.Ollama.Prompt = c.Engine.Ollama.Prompt
	}
	cfg.Ollama.Timeout = time.Duration(c.Engine.TimeoutSec) * time.Second
	cfg.DocumentAI = ocr.DocumentAIConfig{
		ProjectID:       c.Engine.DocumentAI.ProjectID,
		Location:        c.Engine.DocumentAI.Location,
		ProcessorID:     c.Engine.DocumentAI.ProcessorID,
		CredentialsFile: c.Engine.DocumentAI.CredentialsFile,
	}
	if c.Engine.Tesseract.Languages != "" {
		cfg.Tesseract.Languages = c.Engine.Tesseract.Languages
	}
	return cfg
}

// ToExportStyle returns the DOCX styling.
func (c *Config) ToExportStyle() document.ExportStyle {
	return c.Export
}

// ToStoreConfig returns the store configuration.
func (c *Config) ToStoreConfig() store.Config {
	return c.Store
}

// NormalizerTables loads the built-in substitution tables plus the configured overlay.
func (c *Config) NormalizerTables() (*normalize.Tables, error) {
	return normalize.LoadTables(models.GetTablesPath(c.ModelsDir, c.Normalize.TablesFile))
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit parses GPU memory limits such as "1GB" or "512MB" into
// bytes. "" and "auto" mean no limit.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	// Longest suffix first so "MB" is not read as "B".
	for _, unit := range []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if !strings.HasSuffix(upper, unit.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, unit.suffix), 64)
		if err != nil || n < 0 || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * unit.scale), nil
	}
	return 0, errors.New("memory limit must end with one of: B, KB, MB, GB")
}
