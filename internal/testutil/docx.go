package testutil

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// ReadDocumentXML returns word/document.xml from a serialized DOCX package.
func ReadDocumentXML(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a zip package: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer func() { _ = rc.Close() }()
		b, err := io.ReadAll(rc)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return "", errors.New("word/document.xml missing")
}

// DocumentXML is ReadDocumentXML for tests.
func DocumentXML(t testing.TB, data []byte) string {
	t.Helper()
	body, err := ReadDocumentXML(data)
	require.NoError(t, err)
	return body
}

// DocumentXMLFile reads a DOCX file from disk and returns its body XML.
func DocumentXMLFile(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // G304: test output path
	require.NoError(t, err)
	return DocumentXML(t, data)
}
