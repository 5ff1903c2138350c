package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	in := []byte(strings.Repeat("Subject: quarterly report\r\n", 200))

	out, err := Compress(in)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(out) >= len(in) {
		t.Fatalf("expected compressed output smaller than %d, got %d", len(in), len(out))
	}

	back, err := Decompress(out)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(back, in) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("definitely not gzip"))
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestShouldCompress(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		threshold int
		want      bool
	}{
		{name: "below", size: 1023, threshold: DefaultThreshold, want: false},
		{name: "equal", size: 1024, threshold: DefaultThreshold, want: true},
		{name: "above", size: 4096, threshold: DefaultThreshold, want: true},
		{name: "zero-threshold", size: 0, threshold: 0, want: true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldCompress(tc.size, tc.threshold); got != tc.want {
				t.Fatalf("ShouldCompress(%d, %d) = %v, want %v", tc.size, tc.threshold, got, tc.want)
			}
		})
	}
}

func TestRatio(t *testing.T) {
	if got := Ratio(nil, nil); got != 0 {
		t.Fatalf("empty original: got %v", got)
	}
	if got := Ratio(make([]byte, 1000), make([]byte, 250)); got != 75 {
		t.Fatalf("got %v, want 75", got)
	}
	if got := Ratio(make([]byte, 3), make([]byte, 1)); got != 66.67 {
		t.Fatalf("got %v, want 66.67", got)
	}
}

func TestEncodeRespectsThreshold(t *testing.T) {
	small := []byte("short body")
	stored, compressed, err := Encode(small, DefaultThreshold)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if compressed || !bytes.Equal(stored, small) {
		t.Fatalf("small input should be stored as-is")
	}

	large := []byte(strings.Repeat("a line of mail text\n", 100))
	stored, compressed, err = Encode(large, DefaultThreshold)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !compressed {
		t.Fatalf("large input should be compressed")
	}
	back, err := Decode(stored, compressed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(back, large) {
		t.Fatalf("decode mismatch")
	}
}

func TestEncodeKeepsIncompressibleContent(t *testing.T) {
	data := make([]byte, 8*DefaultThreshold)
	rand.New(rand.NewSource(1)).Read(data)

	stored, compressed, err := Encode(data, DefaultThreshold)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if compressed || !bytes.Equal(stored, data) {
		t.Fatalf("random bytes should be stored verbatim, compressed=%v len=%d", compressed, len(stored))
	}
}
