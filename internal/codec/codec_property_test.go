package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// mailLike builds compressible text of at least minLen bytes from a seed line.
func mailLike(seed string, minLen int) []byte {
	if seed == "" {
		seed = "x"
	}
	line := "Received: from relay " + seed + "\r\n"
	n := minLen/len(line) + 1
	return []byte(strings.Repeat(line, n))
}

func TestPropertyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("decompress(compress(x)) == x", prop.ForAll(
		func(data []byte) bool {
			out, err := Compress(data)
			if err != nil {
				return false
			}
			back, err := Decompress(out)
			if err != nil {
				return false
			}
			return bytes.Equal(back, data)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestPropertyThresholdPolicy(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("above threshold stored smaller and flagged", prop.ForAll(
		func(seed string, extra int) bool {
			data := mailLike(seed, DefaultThreshold+extra)
			stored, compressed, err := Encode(data, DefaultThreshold)
			if err != nil {
				return false
			}
			return compressed && len(stored) < len(data)
		},
		gen.AlphaString(),
		gen.IntRange(0, 8192),
	))

	properties.Property("never stored larger than the original", prop.ForAll(
		func(data []byte) bool {
			stored, compressed, err := Encode(data, DefaultThreshold)
			if err != nil {
				return false
			}
			if compressed {
				return len(stored) < len(data)
			}
			return bytes.Equal(stored, data)
		},
		gen.SliceOfN(4096, gen.UInt8()),
	))

	properties.Property("below threshold stored verbatim", prop.ForAll(
		func(data []byte) bool {
			if len(data) >= DefaultThreshold {
				data = data[:DefaultThreshold-1]
			}
			stored, compressed, err := Encode(data, DefaultThreshold)
			if err != nil {
				return false
			}
			return !compressed && bytes.Equal(stored, data)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
