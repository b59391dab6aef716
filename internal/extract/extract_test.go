package extract

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTextLikeByMimeType(t *testing.T) {
	assert.True(t, IsTextLike("text/plain", "notes"))
	assert.True(t, IsTextLike("application/json", "data"))
	assert.False(t, IsTextLike("application/pdf", "report"))
}

func TestIsTextLikeByExtension(t *testing.T) {
	assert.True(t, IsTextLike("application/octet-stream", "notes.md"))
	assert.True(t, IsTextLike("application/octet-stream", "log.csv"))
	assert.False(t, IsTextLike("application/octet-stream", "image.png"))
}

func TestTextReadsValidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	got, err := Text(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestTextSanitizesInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte{'o', 'k', 0xff, 0xfe, '!'}, 0o644))

	got, err := Text(path)
	require.NoError(t, err)
	assert.Equal(t, "ok!", got)
}

func TestDetectMIMEByExtensionFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# hi"), 0o644))

	got, err := DetectMIME(path)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestDetectMIMESniffsPNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixel.png")

	f, err := os.Create(path)
	require.NoError(t, err)
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	got, err := DetectMIME(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", got)
}

func TestDecodeImageRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixel.png")

	f, err := os.Create(path)
	require.NoError(t, err)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	decoded, err := DecodeImage(path)
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())
}

func TestOCRImageIsANoOp(t *testing.T) {
	text, err := OCRImage("/does/not/matter")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestHTMLFallsBackToRawWhenNoArticle(t *testing.T) {
	art, err := HTML("<b>hi</b>", "https://example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, art.Text)
}
