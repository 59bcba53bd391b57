// Package phash fingerprints images with a perceptual hash and detects
// near-duplicates by Hamming distance. The fingerprint is intentionally
// coarse: it survives re-encoding and resizing but is not a frequency
// transform, so it only has to be consistent within this system.
package phash

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// hashGrid is the sample region reduced from the resized image.
	hashGrid = 8
	// resizeDim is the working size hashes are computed from.
	resizeDim = 32

	// DefaultThreshold is the similarity at or above which two
	// fingerprints count as duplicates.
	DefaultThreshold = 0.95
)

// ErrDecode reports input bytes that are not a readable image.
var ErrDecode = errors.New("image decode failed")

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// AllowedContentType reports whether the declared content type is one the
// engine will attempt to decode. Cheap pre-check before any pixel work.
func AllowedContentType(contentType string) bool {
	return allowedContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
}

// Hash computes the 64-bit perceptual fingerprint of an image, encoded as
// 16 hex characters.
func Hash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return hashImage(img), nil
}

func hashImage(img image.Image) string {
	resized := resize(img, resizeDim, resizeDim)
	gray := toLuminance(resized)

	// Mean intensity over the top-left 8x8 sample block.
	var sum float64
	for y := 0; y < hashGrid; y++ {
		for x := 0; x < hashGrid; x++ {
			sum += gray[y][x]
		}
	}
	mean := sum / float64(hashGrid*hashGrid)

	var hash uint64
	for y := 0; y < hashGrid; y++ {
		for x := 0; x < hashGrid; x++ {
			hash <<= 1
			if gray[y][x] > mean {
				hash |= 1
			}
		}
	}

	return fmt.Sprintf("%016x", hash)
}

func resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toLuminance converts to row-major grayscale values (0-255).
func toLuminance(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, height)
	for y := 0; y < height; y++ {
		gray[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			gray[y][x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return gray
}

// Similarity scores two hex-encoded fingerprints in [0.0, 1.0], where 1.0 is
// identical. Hashes of different lengths are maximally dissimilar.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	maxBits := 4 * max(len(a), len(b))
	return 1.0 - float64(hammingDistance(a, b))/float64(maxBits)
}

// hammingDistance counts differing bits between two hex strings. A length
// mismatch counts as every bit differing.
func hammingDistance(a, b string) int {
	if len(a) != len(b) {
		return 4 * max(len(a), len(b))
	}

	distance := 0
	for i := 0; i < len(a); i++ {
		if a[i] == b[i] {
			continue
		}
		va := hexValue(a[i])
		vb := hexValue(b[i])
		if va < 0 || vb < 0 {
			distance += 4
			continue
		}
		distance += bits.OnesCount8(uint8(va ^ vb))
	}
	return distance
}

func hexValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// FindDuplicate returns the first existing fingerprint whose similarity to
// candidate is at or above threshold. "First encountered" is just iteration
// order, not a ranking.
func FindDuplicate(candidate string, existing []string, threshold float64) (string, bool) {
	for _, h := range existing {
		if Similarity(candidate, h) >= threshold {
			return h, true
		}
	}
	return "", false
}
