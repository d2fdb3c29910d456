//nolint:lll
package config

import (
	"github.com/MeKo-Tech/folio/internal/document"
	"github.com/MeKo-Tech/folio/internal/store"
)

// Config represents the complete configuration for folio.
// It covers every command (ocr, export, serve, status) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Layout detection and region selection
	Layout LayoutConfig `mapstructure:"layout" yaml:"layout" json:"layout"`

	// Tall-image splitting used when no regions survive
	Fallback FallbackConfig `mapstructure:"fallback" yaml:"fallback" json:"fallback"`

	// OCR engine
	Engine EngineConfig `mapstructure:"engine" yaml:"engine" json:"engine"`

	// Text normalization
	Normalize NormalizeConfig `mapstructure:"normalize" yaml:"normalize" json:"normalize"`

	// DOCX export styling
	Export document.ExportStyle `mapstructure:"export" yaml:"export" json:"export"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Document store
	Store store.Config `mapstructure:"store" yaml:"store" json:"store"`

	// Batch processing configuration
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// GPU configuration for the layout model
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// LayoutConfig contains layout detector and region selection settings.
type LayoutConfig struct {
	// Enabled turns the ONNX layout detector on. When off every page takes the fallback path.
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ModelPath      string   `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath    string   `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	InputSize      int      `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	ScoreThreshold float64  `mapstructure:"score_threshold" yaml:"score_threshold" json:"score_threshold"`
	SkipLabels     []string `mapstructure:"skip_labels" yaml:"skip_labels" json:"skip_labels"`
	UseNMS         bool     `mapstructure:"use_nms" yaml:"use_nms" json:"use_nms"`
	NMSThreshold   float64  `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
	NumThreads     int      `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// FallbackConfig contains tall-image splitting settings.
type FallbackConfig struct {
	MaxHeight int `mapstructure:"max_height" yaml:"max_height" json:"max_height"`
	Overlap   int `mapstructure:"overlap" yaml:"overlap" json:"overlap"`
}

// EngineConfig selects the OCR backend.
type EngineConfig struct {
	Backend    string           `mapstructure:"backend" yaml:"backend" json:"backend"`
	TimeoutSec int              `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	Ollama     OllamaConfig     `mapstructure:"ollama" yaml:"ollama" json:"ollama"`
	DocumentAI DocumentAIConfig `mapstructure:"documentai" yaml:"documentai" json:"documentai"`
	Tesseract  TesseractConfig  `mapstructure:"tesseract" yaml:"tesseract" json:"tesseract"`
}

// OllamaConfig contains Ollama backend settings.
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Model   string `mapstructure:"model" yaml:"model" json:"model"`
	Prompt  string `mapstructure:"prompt" yaml:"prompt" json:"prompt"`
}

// DocumentAIConfig contains Google Document AI settings.
type DocumentAIConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id" json:"project_id"`
	Location        string `mapstructure:"location" yaml:"location" json:"location"`
	ProcessorID     string `mapstructure:"processor_id" yaml:"processor_id" json:"processor_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
}

// TesseractConfig contains Tesseract settings.
type TesseractConfig struct {
	Languages string `mapstructure:"languages" yaml:"languages" json:"languages"`
}

// NormalizeConfig contains normalizer settings.
type NormalizeConfig struct {
	// TablesFile is a YAML overlay for the built-in substitution tables.
	TablesFile string `mapstructure:"tables_file" yaml:"tables_file" json:"tables_file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	UploadDir       string          `mapstructure:"upload_dir" yaml:"upload_dir" json:"upload_dir"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
