// Package extract turns uploaded file bytes into a single raw text string.
// Supported formats: PDF (via the pdftotext binary), DOCX, CSV.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFile is returned for file types the extractor cannot handle.
var ErrUnsupportedFile = errors.New("unsupported file type")

// CommandRunner executes an external command and returns its stdout. It
// exists so PDF extraction can be tested without a pdftotext install.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor extracts raw text from uploaded documents.
type Extractor struct {
	runner CommandRunner
}

func New(runner CommandRunner) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Extractor{runner: runner}
}

// Text extracts raw text from the file bytes, dispatching on the filename
// extension. Unknown extensions return ErrUnsupportedFile.
func (e *Extractor) Text(ctx context.Context, filename string, data []byte) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "pdf":
		return e.PDF(ctx, data)
	case "docx":
		return DOCX(data)
	case "csv":
		return CSV(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filename)
	}
}

// PDF extracts text with pdftotext (poppler-utils). The bytes are written to
// a temporary file because pdftotext reads from disk.
func (e *Extractor) PDF(ctx context.Context, data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "docuchat-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	out, err := e.runner.Run(ctx, "pdftotext", "-q", tmp.Name(), "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return string(out), nil
}
