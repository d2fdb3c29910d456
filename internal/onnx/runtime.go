package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"

	// EnvLibraryPath overrides every other library lookup when set.
	EnvLibraryPath = "FOLIO_ONNXRUNTIME_LIB"
)

// ErrLibraryNotFound is returned when no ONNX Runtime shared library could be located.
var ErrLibraryNotFound = errors.New("onnxruntime shared library not found")

var envMu sync.Mutex

// InitEnvironment points onnxruntime_go at a shared library and initializes the
// runtime environment once per process. explicitPath wins over the environment
// variable, which wins over well-known system and project locations.
func InitEnvironment(explicitPath string, useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}

	path, err := ResolveLibraryPath(explicitPath, useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)

	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime from %s: %w", path, err)
	}
	return nil
}

// ResolveLibraryPath returns the first existing ONNX Runtime library candidate.
func ResolveLibraryPath(explicitPath string, useGPU bool) (string, error) {
	candidates := make([]string, 0, 8)
	if explicitPath != "" {
		candidates = append(candidates, explicitPath)
	}
	if env := os.Getenv(EnvLibraryPath); env != "" {
		candidates = append(candidates, env)
	}
	candidates = append(candidates, systemLibraryPaths(useGPU)...)

	if root, err := findProjectRoot(); err == nil {
		if libName, err := libraryName(); err == nil {
			if useGPU {
				candidates = append(candidates, filepath.Join(root, "onnxruntime", "gpu", "lib", libName))
			}
			candidates = append(candidates, filepath.Join(root, "onnxruntime", "lib", libName))
		}
	}

	for _, c := range candidates {
		if fileExists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w (tried %d locations, set %s)", ErrLibraryNotFound, len(candidates), EnvLibraryPath)
}

func systemLibraryPaths(useGPU bool) []string {
	if useGPU {
		return []string{
			"/opt/onnxruntime/gpu/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
		}
	}
	return []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

func libraryName() (string, error) {
	switch runtime.GOOS {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
