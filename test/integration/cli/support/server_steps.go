package support

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/folio/internal/document"
	"github.com/MeKo-Tech/folio/internal/ocr"
	"github.com/MeKo-Tech/folio/internal/pipeline"
	"github.com/MeKo-Tech/folio/internal/server"
	"github.com/MeKo-Tech/folio/internal/store"
	"github.com/MeKo-Tech/folio/internal/testutil"
)

// theFolioServerIsRunning starts the API in process against the fake engine.
func (testCtx *TestContext) theFolioServerIsRunning() error {
	if testCtx.Engine == nil {
		if err := testCtx.startEngine("Recognized text"); err != nil {
			return err
		}
	}

	engCfg := ocr.DefaultConfig()
	engCfg.Ollama.BaseURL = testCtx.EngineURL
	engine, err := ocr.NewEngine(context.Background(), engCfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	ctrl, err := pipeline.NewBuilder().WithEngine(engine).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	api, err := server.NewServer(server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 10,
		TimeoutSec:  30,
		UploadDir:   filepath.Join(testCtx.TempDir, "uploads"),
		ModelsDir:   filepath.Join(testCtx.TempDir, "models"),
		Version:     "test",
		Pipeline:    pipeline.DefaultConfig(),
		ExportStyle: document.DefaultExportStyle(),
	}, ctrl, store.NewMemoryStore())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	testCtx.API = api
	testCtx.HTTPServer = httptest.NewServer(api.Handler())
	return nil
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = resp.Header
	return nil
}

// iUpload posts the named scenario files as one document and remembers its id.
func (testCtx *TestContext) iUpload(names string) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		data, err := os.ReadFile(testCtx.Path(name))
		if err != nil {
			return err
		}
		part, err := mw.CreateFormFile("files", filepath.Base(name))
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+"/api/upload", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := testCtx.do(req); err != nil {
		return err
	}

	scanner := bufio.NewScanner(bytes.NewReader(testCtx.LastHTTPResponse))
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev struct {
			Type  string `json:"type"`
			DocID string `json:"doc_id"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return fmt.Errorf("invalid upload event %q: %w", line, err)
		}
		if ev.Type == "error" {
			return fmt.Errorf("upload failed: %s", ev.Error)
		}
		if ev.DocID != "" && testCtx.DocumentID == "" {
			testCtx.DocumentID = ev.DocID
		}
	}
	if testCtx.DocumentID == "" {
		return fmt.Errorf("upload returned no document id: %s", testCtx.LastHTTPResponse)
	}
	return nil
}

// iSendRequest sends a request to the API with placeholders expanded.
func (testCtx *TestContext) iSendRequest(method, path string) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	req, err := http.NewRequest(method, testCtx.HTTPServer.URL+testCtx.substitute(path), http.NoBody)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iRequestOCRForPage(page int) error {
	return testCtx.iSendRequest(http.MethodPost, fmt.Sprintf("/api/ocr/${DOC}/%d", page))
}

func (testCtx *TestContext) iRequestOCRForAllPages() error {
	return testCtx.iSendRequest(http.MethodPost, "/api/ocr/${DOC}/all")
}

func (testCtx *TestContext) iExportTheDocumentAs(title string) error {
	return testCtx.iSendRequest(http.MethodGet, "/api/export/${DOC}?title="+url.QueryEscape(title))
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("status %d, want %d\nBody: %s", testCtx.LastHTTPStatusCode, code, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(string(testCtx.LastHTTPResponse), unescape(expected)) {
		return fmt.Errorf("response does not contain %q\nBody: %s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldContain(name, expected string) error {
	if got := testCtx.LastHTTPHeaders.Get(name); !strings.Contains(got, expected) {
		return fmt.Errorf("header %s is %q, want it to contain %q", name, got, expected)
	}
	return nil
}

// theJSONFieldShouldBe compares a top-level field of the JSON response.
func (testCtx *TestContext) theJSONFieldShouldBe(field, expected string) error {
	var obj map[string]any
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &obj); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := obj[field]
	if !ok {
		return fmt.Errorf("field %q missing in %s", field, testCtx.LastHTTPResponse)
	}
	if got := fmt.Sprint(v); got != unescape(expected) {
		return fmt.Errorf("field %q is %q, want %q", field, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theExportedDocumentShouldContain(expected string) error {
	body, err := testutil.ReadDocumentXML(testCtx.LastHTTPResponse)
	if err != nil {
		return err
	}
	if !strings.Contains(body, expected) {
		return fmt.Errorf("exported document does not contain %q", expected)
	}
	return nil
}

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the folio server is running$`, testCtx.theFolioServerIsRunning)
	sc.Step(`^I upload "([^"]*)"$`, testCtx.iUpload)
	sc.Step(`^I send a (GET|POST|DELETE) request to "([^"]*)"$`, testCtx.iSendRequest)
	sc.Step(`^I request OCR for page (\d+)$`, testCtx.iRequestOCRForPage)
	sc.Step(`^I request OCR for all pages$`, testCtx.iRequestOCRForAllPages)
	sc.Step(`^I export the document as "([^"]*)"$`, testCtx.iExportTheDocumentAs)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should contain "([^"]*)"$`, testCtx.theResponseHeaderShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the exported document should contain "([^"]*)"$`, testCtx.theExportedDocumentShouldContain)
}
