package embedrerank

import (
	"context"
	"encoding/base64"
	"fmt"

	"pkb/internal/config"
	"pkb/internal/embedding"
	"pkb/internal/modelregistry"
)

const imageEmbedModelName = "image-embedder"

// ImageEmbedder embeds single images through the same OpenAI-compatible
// embedding endpoint as the text embedder, keyed to a separate model name.
// Images are sent as base64 data URIs rather than raw bytes so the existing
// string-input embedding client can serve both modalities without a second
// wire format.
type ImageEmbedder struct {
	cfg      config.EmbeddingConfig
	registry *modelregistry.Registry
}

// NewImageEmbedder constructs an ImageEmbedder bound to cfg's remote endpoint.
func NewImageEmbedder(cfg config.EmbeddingConfig, registry *modelregistry.Registry) *ImageEmbedder {
	return &ImageEmbedder{cfg: cfg, registry: registry}
}

// Embed returns an L2-normalized vector for a single image.
func (e *ImageEmbedder) Embed(ctx context.Context, imageBytes []byte, mimeType string) ([]float32, error) {
	if _, err := e.registry.GetOrLoad(ctx, imageEmbedModelName, func(ctx context.Context) (any, error) {
		return e.cfg.ImageModel, nil
	}); err != nil {
		return nil, fmt.Errorf("image embedder not available: %w", err)
	}

	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(imageBytes)

	imageCfg := e.cfg
	imageCfg.Model = e.cfg.ImageModel
	vecs, err := embedding.EmbedText(ctx, imageCfg, []string{dataURI})
	if err != nil {
		return nil, fmt.Errorf("embed image: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed image: empty response")
	}
	return l2Normalize(vecs[0]), nil
}
