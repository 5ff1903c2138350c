// Package textextract pulls indexable text out of attachment content.
package textextract

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// MaxTextBytes caps text extracted from text/* attachments.
const MaxTextBytes = 50 * 1024

// Extractor converts PDF and text attachments to plain text. A missing
// pdftotext binary disables PDF extraction; every other failure is logged
// and yields nil.
type Extractor struct {
	logger *slog.Logger

	once    sync.Once
	pdfTool string

	// lookPath is swapped in tests.
	lookPath func(string) (string, error)
}

// New returns an Extractor. The pdftotext probe runs on first use.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Extractor{logger: logger, lookPath: exec.LookPath}
}

// CanExtract reports whether Extract may return text for mimeType.
func (x *Extractor) CanExtract(mimeType string) bool {
	switch {
	case strings.HasPrefix(mimeType, "application/pdf"):
		return x.pdftotext() != ""
	case strings.HasPrefix(mimeType, "text/"):
		return true
	}
	return false
}

// Extract returns the text of content, or nil when there is none.
func (x *Extractor) Extract(ctx context.Context, mimeType string, content []byte) *string {
	var text string
	switch {
	case strings.HasPrefix(mimeType, "application/pdf"):
		text = x.fromPDF(ctx, content)
	case strings.HasPrefix(mimeType, "text/"):
		text = fromText(content)
	default:
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &text
}

func (x *Extractor) pdftotext() string {
	x.once.Do(func() {
		path, err := x.lookPath("pdftotext")
		if err != nil {
			x.logger.Debug("pdftotext not available, PDF text extraction disabled")
			return
		}
		x.pdfTool = path
	})
	return x.pdfTool
}

func (x *Extractor) fromPDF(ctx context.Context, content []byte) string {
	tool := x.pdftotext()
	if tool == "" {
		return ""
	}

	dir, err := os.MkdirTemp("", "mailarchive-pdf-")
	if err != nil {
		x.logger.Error("pdf text extraction", "error", err)
		return ""
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, content, 0o600); err != nil {
		x.logger.Error("pdf text extraction", "error", err)
		return ""
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, "-enc", "UTF-8", in, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		x.logger.Debug("pdftotext extraction failed", "error", err, "output", stderr.String())
		return ""
	}
	return strings.ToValidUTF8(stdout.String(), "")
}

// fromText returns at most MaxTextBytes of content as valid UTF-8. A rune
// cut by the limit is dropped.
func fromText(content []byte) string {
	if len(content) > MaxTextBytes {
		content = content[:MaxTextBytes]
	}
	return strings.ToValidUTF8(string(content), "")
}
