// Package dedup computes the content fingerprints the ingestion pipeline
// uses to detect exact and near-duplicate content before it reaches the
// graph bundle writer: a streaming SHA-256 digest for exact matches, a
// 64-bit simhash over text shingles for near-duplicate text, and a
// perceptual average-hash for near-duplicate images.
package dedup

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"image"
	"image/color"
	"io"
	"math/bits"
	"sort"
	"strings"
)

// streamChunkSize matches the original implementation's 1 MiB read chunks
// so large files are hashed without loading them fully into memory.
const streamChunkSize = 1 << 20

// SHA256 streams r in streamChunkSize blocks and returns the lowercase hex
// digest. Used both for the content-addressed entity ID and for exact-match
// dedup lookups against the state KV.
func SHA256(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, streamChunkSize)
	br := bufio.NewReaderSize(r, streamChunkSize)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Distance returns the Hamming distance between two 64-bit fingerprints,
// used for both simhash and average-hash comparisons.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Simhash computes a 64-bit simhash over whitespace-delimited word shingles
// of text: each distinct token is hashed to 64 bits with FNV-1a, weighted by
// its frequency, and the result is the bitwise majority vote across all
// weighted token hashes. Near-duplicate documents land within a small
// Hamming distance of one another even after minor edits.
func Simhash(text string) uint64 {
	counts := make(map[string]int)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		counts[tok]++
	}
	if len(counts) == 0 {
		return 0
	}

	var weights [64]int
	for tok, freq := range counts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				weights[bit] += freq
			} else {
				weights[bit] -= freq
			}
		}
	}

	var out uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			out |= 1 << uint(bit)
		}
	}
	return out
}

// averageHashSize is the side length of the grayscale thumbnail the
// perceptual hash is computed from; 8x8 yields a 64-bit fingerprint.
const averageHashSize = 8

// PHash computes a 64-bit perceptual average-hash of an image: the image is
// reduced to an 8x8 grayscale thumbnail, the mean luminance is computed, and
// each bit records whether that pixel is at or above the mean. Visually
// similar images (re-encodes, thumbnails, light crops) hash to a small
// Hamming distance of one another.
func PHash(img image.Image) uint64 {
	gray := shrinkGray(img, averageHashSize, averageHashSize)

	var sum int
	for _, v := range gray {
		sum += int(v)
	}
	mean := sum / len(gray)

	var out uint64
	for i, v := range gray {
		if int(v) >= mean {
			out |= 1 << uint(i)
		}
	}
	return out
}

// shrinkGray resizes img to w x h using nearest-neighbor sampling and
// returns row-major grayscale luminance values.
func shrinkGray(img image.Image, w, h int) []uint8 {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	out := make([]uint8, w*h)

	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*srcW/w
			gray := color.GrayModel.Convert(img.At(sx, sy)).(color.Gray)
			out[y*w+x] = gray.Y
		}
	}
	return out
}

// ExactMatches returns true if a and b are the same content digest.
func ExactMatches(a, b string) bool {
	return a != "" && a == b
}

// NearestByDistance returns the id with the smallest Hamming distance to
// target among candidates, along with that distance. It is used to find the
// best near-duplicate match among several existing fingerprints pulled from
// the state KV. Returns ok=false when candidates is empty.
func NearestByDistance(target uint64, candidates map[string]uint64) (id string, distance int, ok bool) {
	if len(candidates) == 0 {
		return "", 0, false
	}
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic tie-break on equal distances

	best := -1
	var bestID string
	for _, id := range ids {
		d := Distance(target, candidates[id])
		if best == -1 || d < best {
			best = d
			bestID = id
		}
	}
	return bestID, best, true
}
