package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Layout model file names.
const (
	LayoutPPDocLayoutL     = "PP-DocLayout-L.onnx"
	LayoutPPDocLayoutM     = "PP-DocLayout-M.onnx"
	LayoutPPDocLayoutS     = "PP-DocLayout-S.onnx"
	LayoutPPDocLayoutPlusL = "PP-DocLayout_plus-L.onnx"
)

// Model type directories.
const (
	TypeLayout = "layout"
	TypeTables = "tables"
)

// DefaultModelsDir is the models directory relative to the project root.
const DefaultModelsDir = "models"

// DefaultLayoutModel is used when no layout model is configured.
const DefaultLayoutModel = LayoutPPDocLayoutPlusL

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "FOLIO_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

// GetModelsDir returns the models directory path from various sources.
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath resolves a model filename to its full path. The typed
// subdirectory (models/layout/x.onnx) wins over the flat layout (models/x.onnx).
// Absolute and explicitly relative paths are returned unchanged.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	if filepath.IsAbs(filename) || filepath.Dir(filename) != "." {
		return filename
	}
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetLayoutModelPath returns the path for a layout model; an empty filename
// selects DefaultLayoutModel.
func GetLayoutModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = DefaultLayoutModel
	}
	return ResolveModelPath(modelsDir, TypeLayout, filename)
}

// GetTablesPath returns the path of a normalization table overlay.
func GetTablesPath(modelsDir, filename string) string {
	if filename == "" {
		return ""
	}
	return ResolveModelPath(modelsDir, TypeTables, filename)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the known layout models.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{Name: "pp-doclayout-plus-l", Type: TypeLayout, Description: "PP-DocLayout_plus-L, 20 classes", Filename: LayoutPPDocLayoutPlusL},
		{Name: "pp-doclayout-l", Type: TypeLayout, Description: "PP-DocLayout-L, 23 classes", Filename: LayoutPPDocLayoutL},
		{Name: "pp-doclayout-m", Type: TypeLayout, Description: "PP-DocLayout-M", Filename: LayoutPPDocLayoutM},
		{Name: "pp-doclayout-s", Type: TypeLayout, Description: "PP-DocLayout-S", Filename: LayoutPPDocLayoutS},
	}
}
