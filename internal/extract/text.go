package extract

import (
	"os"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Text reads a text-like file from disk. Non-UTF-8 content is decoded with
// charset detection; if detection fails, or the detected charset can't be
// resolved to a decoder, it falls back to a permissive UTF-8 decode that
// drops invalid byte sequences rather than failing the whole ingest.
func Text(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	if decoded, ok := decodeDetected(raw); ok {
		return decoded, nil
	}
	return sanitizeUTF8(raw), nil
}

// minDetectConfidence is the lowest chardet confidence (0-100) trusted
// enough to decode with; short or genuinely ambiguous byte runs score below
// this and fall through to the lossy UTF-8 sanitizer instead.
const minDetectConfidence = 50

func decodeDetected(raw []byte) (string, bool) {
	best, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || best == nil || best.Confidence < minDetectConfidence {
		return "", false
	}
	enc, err := htmlindex.Get(best.Charset)
	if err != nil {
		return "", false
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

func sanitizeUTF8(raw []byte) string {
	out := make([]rune, 0, len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r != utf8.RuneError || size > 1 {
			out = append(out, r)
		}
		raw = raw[size:]
	}
	return string(out)
}
