// Package codec compresses stored email and attachment bytes.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
)

// DefaultThreshold is the size in bytes at which content gets compressed.
const DefaultThreshold = 1024

var (
	// ErrIO reports that the compressor itself failed.
	ErrIO = errors.New("compression failed")

	// ErrIntegrity reports input that is not a valid compressed stream.
	ErrIntegrity = errors.New("invalid compressed data")
)

// Compress gzips data at maximum compression.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return out, nil
}

// ShouldCompress reports whether content of size bytes meets threshold.
func ShouldCompress(size, threshold int) bool {
	return size >= threshold
}

// Ratio returns the space saved as a percentage rounded to two decimals.
// An empty original yields 0.
func Ratio(original, compressed []byte) float64 {
	if len(original) == 0 {
		return 0
	}
	r := (1 - float64(len(compressed))/float64(len(original))) * 100
	return math.Round(r*100) / 100
}

// Encode compresses data when it meets threshold and returns the bytes to
// store along with whether they are compressed. Content that gzip does not
// shrink is stored as is.
func Encode(data []byte, threshold int) ([]byte, bool, error) {
	if !ShouldCompress(len(data), threshold) {
		return data, false, nil
	}
	out, err := Compress(data)
	if err != nil {
		return nil, false, err
	}
	if len(out) >= len(data) {
		return data, false, nil
	}
	return out, true, nil
}

// Decode returns the original bytes of stored content.
func Decode(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	return Decompress(stored)
}
