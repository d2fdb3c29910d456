package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/folio/internal/layout"
	"github.com/MeKo-Tech/folio/internal/models"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, models.DefaultModelsDir, cfg.ModelsDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Layout.Enabled)
	assert.InDelta(t, layout.DefaultScoreThreshold, cfg.Layout.ScoreThreshold, 1e-9)
	assert.Equal(t, layout.DefaultSkipLabels, cfg.Layout.SkipLabels)
	assert.Equal(t, 1600, cfg.Fallback.MaxHeight)
	assert.Equal(t, 80, cfg.Fallback.Overlap)
	assert.Equal(t, ocr.BackendOllama, cfg.Engine.Backend)
	assert.Equal(t, 300, cfg.Engine.TimeoutSec)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, store.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "Times New Roman", cfg.Export.LatinFont)

	require.NoError(t, cfg.Validate())
}

func TestDefaultConfig_SkipLabelsAreCopied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Layout.SkipLabels[0] = "changed"
	assert.NotEqual(t, "changed", layout.DefaultSkipLabels[0])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "invalid log level"},
		{name: "score threshold above one", mutate: func(c *Config) { c.Layout.ScoreThreshold = 1.5 }, wantErr: "layout.score_threshold"},
		{name: "negative nms threshold", mutate: func(c *Config) { c.Layout.NMSThreshold = -0.1 }, wantErr: "layout.nms_threshold"},
		{name: "layout enabled without input size", mutate: func(c *Config) {
			c.Layout.Enabled = true
			c.Layout.InputSize = 0
		}, wantErr: "input size"},
		{name: "overlap not below max height", mutate: func(c *Config) { c.Fallback.Overlap = 1600 }, wantErr: "invalid fallback"},
		{name: "unknown backend", mutate: func(c *Config) { c.Engine.Backend = "magic" }, wantErr: "invalid engine backend"},
		{name: "negative timeout", mutate: func(c *Config) { c.Engine.TimeoutSec = -1 }, wantErr: "engine timeout"},
		{name: "ollama without url", mutate: func(c *Config) { c.Engine.Ollama.BaseURL = "" }, wantErr: "base_url"},
		{name: "documentai without processor", mutate: func(c *Config) {
			c.Engine.Backend = ocr.BackendDocumentAI
			c.Engine.DocumentAI.ProjectID = "p"
		}, wantErr: "processor_id"},
		{name: "bad footer color", mutate: func(c *Config) { c.Export.FooterColor = "grey" }, wantErr: "invalid export style"},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "zero upload size", mutate: func(c *Config) { c.Server.MaxUploadMB = 0 }, wantErr: "max upload size"},
		{name: "zero server timeout", mutate: func(c *Config) { c.Server.TimeoutSec = 0 }, wantErr: "invalid timeout"},
		{name: "missing upload dir", mutate: func(c *Config) { c.Server.UploadDir = "" }, wantErr: "upload_dir"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "redis" }, wantErr: "invalid store driver"},
		{name: "no workers", mutate: func(c *Config) { c.Batch.Workers = 0 }, wantErr: "batch workers"},
		{name: "bad memory limit", mutate: func(c *Config) { c.GPU.MemoryLimit = "lots" }, wantErr: "GPU memory limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "auto", want: 0},
		{in: "512MB", want: 512 << 20},
		{in: "1gb", want: 1 << 30},
		{in: "2KB", want: 2 << 10},
		{in: "100B", want: 100},
		{in: "1.5GB", want: 3 << 29},
		{in: "MB", wantErr: true},
		{in: "-1MB", wantErr: true},
		{in: "12", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMemoryLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	cfg.Layout.ScoreThreshold = 0.7
	cfg.Layout.SkipLabels = []string{"footer"}
	cfg.Layout.InputSize = 640
	cfg.Fallback.MaxHeight = 1000
	cfg.Fallback.Overlap = 50
	cfg.Batch.Workers = 2
	cfg.Batch.ContinueOnError = false
	cfg.Engine.TimeoutSec = 30
	cfg.Engine.Ollama.Model = "custom"
	cfg.GPU.Enabled = true
	cfg.GPU.Device = 1
	cfg.GPU.MemoryLimit = "1GB"

	sel := cfg.ToSelectorConfig()
	assert.InDelta(t, 0.7, sel.ScoreThreshold, 1e-9)
	assert.Equal(t, []string{"footer"}, sel.SkipLabels)

	pc := cfg.ToParallelConfig()
	assert.Equal(t, 2, pc.MaxWorkers)
	assert.Equal(t, pipeline.FailFast, pc.Pipeline.Policy)
	assert.Equal(t, 1000, pc.Pipeline.Split.MaxHeight)
	assert.Equal(t, 50, pc.Pipeline.Split.Overlap)

	cfg.Batch.ContinueOnError = true
	assert.Equal(t, pipeline.ContinueOnError, cfg.ToPipelineConfig().Policy)

	oc := cfg.ToONNXConfig()
	assert.Equal(t, filepath.Join(cfg.ModelsDir, models.DefaultLayoutModel), oc.ModelPath)
	assert.Equal(t, 640, oc.InputSize)
	assert.True(t, oc.GPU.UseGPU)
	assert.Equal(t, 1, oc.GPU.DeviceID)
	assert.Equal(t, uint64(1<<30), oc.GPU.GPUMemLimit)

	ec := cfg.ToEngineConfig()
	assert.Equal(t, ocr.BackendOllama, ec.Backend)
	assert.Equal(t, 30*time.Second, ec.Ollama.Timeout)
	assert.Equal(t, "custom", ec.Ollama.Model)
	assert.Equal(t, cfg.Engine.Ollama.Prompt, ec.Ollama.Prompt)

	assert.Equal(t, cfg.Export, cfg.ToExportStyle())
	assert.Equal(t, cfg.Store, cfg.ToStoreConfig())
}

func TestNormalizerTables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelsDir = t.TempDir()

	tables, err := cfg.NormalizerTables()
	require.NoError(t, err)
	assert.NotNil(t, tables)

	cfg.Normalize.TablesFile = "missing.yaml"
	_, err = cfg.NormalizerTables()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.ModelsDir, "broken.yaml"), []byte("{{"), 0o600))
	cfg.Normalize.TablesFile = "broken.yaml"
	_, err = cfg.NormalizerTables()
	assert.Error(t, err)
}
