package support

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/folio/internal/testutil"
	"github.com/MeKo-Tech/folio/internal/utils"
)

// anOCREngineThatReplies starts a fake Ollama answering every page with reply.
func (testCtx *TestContext) anOCREngineThatReplies(reply string) error {
	return testCtx.startEngine(unescape(reply))
}

// anOCREngineThatRepliesInOrder starts a fake Ollama answering pages in order.
func (testCtx *TestContext) anOCREngineThatRepliesInOrder(table *godog.Table) error {
	var replies []string
	for _, row := range table.Rows {
		replies = append(replies, unescape(row.Cells[0].Value))
	}
	return testCtx.startEngine(replies...)
}

func (testCtx *TestContext) startEngine(replies ...string) error {
	if testCtx.Engine != nil {
		testCtx.Engine.SetReplies(replies...)
		return nil
	}
	testCtx.Engine = testutil.StartFakeOllama(replies...)
	testCtx.EngineURL = testCtx.Engine.URL
	testCtx.AddEnvVar("FOLIO_ENGINE_OLLAMA_BASE_URL", testCtx.EngineURL)
	return nil
}

// theOCREngineIsOffline points folio at an address nothing listens on.
func (testCtx *TestContext) theOCREngineIsOffline() error {
	engine := testutil.StartFakeOllama()
	testCtx.EngineURL = engine.URL
	engine.Close()
	testCtx.AddEnvVar("FOLIO_ENGINE_OLLAMA_BASE_URL", testCtx.EngineURL)
	return nil
}

// theOCREngineFailsWithStatus makes every recognition request fail.
func (testCtx *TestContext) theOCREngineFailsWithStatus(status int) error {
	if testCtx.Engine == nil {
		if err := testCtx.startEngine(); err != nil {
			return err
		}
	}
	testCtx.Engine.FailWith(status)
	return nil
}

// aScannedPage writes a synthetic page image into the scenario directory.
func (testCtx *TestContext) aScannedPage(name string) error {
	path := testCtx.Path(name)
	if err := testutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return utils.SavePNG(path, testutil.GeneratePage(testutil.DefaultPageConfig()))
}

// aTextFileContaining writes a Markdown or plain text input file.
func (testCtx *TestContext) aTextFileContaining(name, content string) error {
	return os.WriteFile(testCtx.Path(name), []byte(unescape(content)), 0o600)
}

// iRunCommand executes a folio command line with placeholders expanded.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substitute(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	output, err := cmd.CombinedOutput()
	testCtx.LastOutput = string(output)
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(start)

	testCtx.LastExitCode = 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	}
	return nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	expected = testCtx.substitute(unescape(expected))
	if !strings.Contains(testCtx.LastOutput, expected) {
		return fmt.Errorf("output does not contain %q\nOutput: %s", expected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(unexpected string) error {
	if strings.Contains(testCtx.LastOutput, unexpected) {
		return fmt.Errorf("output unexpectedly contains %q\nOutput: %s", unexpected, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldBeValidJSON checks the first JSON value on stdout. Log
// lines go to stderr and follow the JSON in combined output.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	start := strings.IndexAny(testCtx.LastOutput, "[{")
	if start < 0 {
		return fmt.Errorf("no JSON in output: %s", testCtx.LastOutput)
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(testCtx.LastOutput[start:]))
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if !testutil.FileExists(testCtx.Path(testCtx.substitute(name))) {
		return fmt.Errorf("file %s does not exist", name)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name, expected string) error {
	data, err := os.ReadFile(testCtx.Path(testCtx.substitute(name)))
	if err != nil {
		return err
	}
	if !strings.Contains(string(data), unescape(expected)) {
		return fmt.Errorf("file %s does not contain %q:\n%s", name, expected, data)
	}
	return nil
}

// theDocumentShouldContain checks the body text of a written DOCX file.
func (testCtx *TestContext) theDocumentShouldContain(name, expected string) error {
	data, err := os.ReadFile(testCtx.Path(testCtx.substitute(name)))
	if err != nil {
		return err
	}
	body, err := testutil.ReadDocumentXML(data)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !strings.Contains(body, expected) {
		return fmt.Errorf("document %s does not contain %q", name, expected)
	}
	return nil
}

func (testCtx *TestContext) theEngineShouldHaveReceivedRequests(n int) error {
	if testCtx.Engine == nil {
		return errors.New("no OCR engine is running")
	}
	if got := testCtx.Engine.Chats(); got != n {
		return fmt.Errorf("engine received %d requests, want %d", got, n)
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, testCtx.substitute(value))
	return nil
}

// RegisterCommonSteps registers the command line steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	// Environment
	sc.Step(`^an OCR engine that replies "([^"]*)"$`, testCtx.anOCREngineThatReplies)
	sc.Step(`^an OCR engine that replies in order:$`, testCtx.anOCREngineThatRepliesInOrder)
	sc.Step(`^the OCR engine is offline$`, testCtx.theOCREngineIsOffline)
	sc.Step(`^the OCR engine fails with status (\d+)$`, testCtx.theOCREngineFailsWithStatus)
	sc.Step(`^a scanned page "([^"]*)"$`, testCtx.aScannedPage)
	sc.Step(`^a text file "([^"]*)" containing "([^"]*)"$`, testCtx.aTextFileContaining)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)

	// Commands
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	// Output
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
	sc.Step(`^the document "([^"]*)" should contain "([^"]*)"$`, testCtx.theDocumentShouldContain)
	sc.Step(`^the engine should have received (\d+) requests?$`, testCtx.theEngineShouldHaveReceivedRequests)
}
