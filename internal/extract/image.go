package extract

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// DecodeImage opens and decodes an image file for downstream perceptual
// hashing and embedding.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// OCRImage is a placeholder for optical character recognition: no OCR
// library is available in this project's dependency set, so image blocks
// carry an empty text body and rely on the image embedding and perceptual
// hash channels for search and dedup instead of extracted text.
func OCRImage(path string) (string, error) {
	return "", nil
}
