package support

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/folio/internal/server"
	"github.com/MeKo-Tech/folio/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	WorkingDir string
	TempDir    string
	EnvVars    []string

	// Fake OCR engine and in-process API server
	Engine     *testutil.FakeOllama
	EngineURL  string
	API        *server.Server
	HTTPServer *httptest.Server

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    http.Header
	DocumentID         string
}

// NewTestContext creates a scenario context rooted at the project directory.
func NewTestContext() (*TestContext, error) {
	root, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "folio-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &TestContext{
		WorkingDir: root,
		TempDir:    tempDir,
		EnvVars: []string{
			"HOME=" + tempDir,
			"XDG_CONFIG_HOME=" + filepath.Join(tempDir, ".config"),
		},
	}, nil
}

// Cleanup stops servers and removes the scenario's temp directory.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.API != nil {
		_ = testCtx.API.Close()
		testCtx.API = nil
	}
	if testCtx.Engine != nil {
		testCtx.Engine.Close()
		testCtx.Engine = nil
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err)
	}
	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// Path resolves a scenario file name inside the temp directory.
func (testCtx *TestContext) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// substitute expands the ${TMP}, ${OLLAMA_URL} and ${DOC} placeholders.
func (testCtx *TestContext) substitute(s string) string {
	return strings.NewReplacer(
		"${TMP}", testCtx.TempDir,
		"${OLLAMA_URL}", testCtx.EngineURL,
		"${DOC}", testCtx.DocumentID,
	).Replace(s)
}

// unescape turns the \n sequences used in feature files into newlines.
func unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
