package textextract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestExtractor(available bool) (*Extractor, *int) {
	calls := 0
	x := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	x.lookPath = func(string) (string, error) {
		calls++
		if !available {
			return "", errors.New("not found")
		}
		return "/nonexistent/pdftotext", nil
	}
	return x, &calls
}

func TestExtractText(t *testing.T) {
	x, _ := newTestExtractor(false)
	got := x.Extract(context.Background(), "text/plain; charset=utf-8", []byte("hello world"))
	if got == nil || *got != "hello world" {
		t.Fatalf("Extract = %v", got)
	}
}

func TestExtractTextIsCapped(t *testing.T) {
	x, _ := newTestExtractor(false)
	// Multi-byte runes straddle the limit.
	content := []byte(strings.Repeat("ä", MaxTextBytes))
	got := x.Extract(context.Background(), "text/csv", content)
	if got == nil {
		t.Fatalf("expected text")
	}
	if len(*got) > MaxTextBytes {
		t.Fatalf("len = %d, want <= %d", len(*got), MaxTextBytes)
	}
	if !utf8.ValidString(*got) {
		t.Fatalf("result is not valid UTF-8")
	}
}

func TestExtractUnsupportedAndEmpty(t *testing.T) {
	x, _ := newTestExtractor(true)
	if got := x.Extract(context.Background(), "image/png", []byte{0x89, 'P'}); got != nil {
		t.Fatalf("image: got %q", *got)
	}
	if got := x.Extract(context.Background(), "text/plain", []byte("  \n")); got != nil {
		t.Fatalf("blank text: got %q", *got)
	}
}

func TestPDFWithoutToolYieldsNil(t *testing.T) {
	x, calls := newTestExtractor(false)
	for i := 0; i < 3; i++ {
		if got := x.Extract(context.Background(), "application/pdf", []byte("%PDF-1.4")); got != nil {
			t.Fatalf("got %q", *got)
		}
	}
	if *calls != 1 {
		t.Fatalf("probe ran %d times, want 1", *calls)
	}
	if x.CanExtract("application/pdf") {
		t.Fatalf("CanExtract(pdf) should be false without pdftotext")
	}
	if !x.CanExtract("text/html") {
		t.Fatalf("CanExtract(text/html) should be true")
	}
}

func TestPDFToolFailureYieldsNil(t *testing.T) {
	x, _ := newTestExtractor(true)
	// The probed path does not exist, so running it fails.
	if got := x.Extract(context.Background(), "application/pdf", []byte("%PDF-1.4")); got != nil {
		t.Fatalf("got %q", *got)
	}
}
