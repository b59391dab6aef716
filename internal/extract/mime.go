// Package extract turns a file on disk into text content ready for
// embedding and indexing: plain text, PDF pages, audio transcripts, and
// readable HTML-to-article extraction. Image OCR (OCRImage) is a no-op that
// returns no text.
package extract

import (
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// DetectMIME sniffs the first 261 bytes of path and falls back to the file
// extension when the content can't be identified.
func DetectMIME(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 261)
	n, err := f.Read(head)
	if err != nil && n == 0 {
		return extByExtension(path), nil
	}
	head = head[:n]

	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value, nil
	}
	return extByExtension(path), nil
}

func extByExtension(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return strings.SplitN(t, ";", 2)[0]
	}
	return "application/octet-stream"
}

// IsTextLike reports whether mimeType or path's extension indicates plain
// text content that should be read verbatim rather than parsed.
func IsTextLike(mimeType, path string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/xml", "application/xhtml+xml":
		return true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt", ".csv", ".log":
		return true
	}
	return false
}
