package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/folio/internal/testutil"
)

func TestExportCommand_TextOnly(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "one.md")
	second := filepath.Join(dir, "two.txt")
	require.NoError(t, os.WriteFile(first, []byte("# Intro\n\nSome **bold** words"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("| a | b |\n|---|---|\n| 1 | 2 |"), 0o644))
	outPath := filepath.Join(dir, "report")

	// No engine is contacted for text inputs.
	out, err := runCommand(t, "export", first, second, "--out", outPath, "--title", "Quarterly",
		"--ollama-url", "http://127.0.0.1:1")
	require.NoError(t, err)
	assert.Contains(t, out, "report.docx (2 pages)")

	body := testutil.DocumentXMLFile(t, outPath+".docx")
	assert.Contains(t, body, "Quarterly")
	assert.Contains(t, body, "Intro")
	assert.Contains(t, body, "bold")
	assert.Contains(t, body, "<w:tbl>")
}

func TestExportCommand_RecognizesImages(t *testing.T) {
	engine := testutil.NewFakeOllama(t, "Recognized paragraph")
	dir := t.TempDir()
	page := writePage(t, dir, "scan.png")
	notes := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(notes, []byte("Typed notes"), 0o644))

	_, err := runCommand(t, "export", page, notes, "--ollama-url", engine.URL,
		"--out", filepath.Join(dir, "scan.docx"))
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Chats())

	body := testutil.DocumentXMLFile(t, filepath.Join(dir, "scan.docx"))
	assert.Contains(t, body, "Recognized paragraph")
	assert.Contains(t, body, "Typed notes")
	assert.Less(t, strings.Index(body, "Recognized paragraph"), strings.Index(body, "Typed notes"))
	assert.Contains(t, body, ">scan<", "title defaults to the output name")
}

func TestExportCommand_FailedPage(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "scan.png")
	engine := testutil.NewFakeOllama(t, "")
	url := engine.URL
	engine.Close()

	// Lenient pages still export, with whatever text they carry.
	_, err := runCommand(t, "export", page, "--ollama-url", url, "--out", filepath.Join(dir, "x.docx"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "x.docx"))
}

func TestExportCommand_NoInputs(t *testing.T) {
	_, err := runCommand(t, "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input files")
}
