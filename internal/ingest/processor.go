package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pkb/internal/dedup"
	"pkb/internal/embedrerank"
	"pkb/internal/extract"
	"pkb/internal/graphstore"
	"pkb/internal/kv"
	"pkb/internal/modelregistry"
	"pkb/internal/objectstore"
	"pkb/internal/vectorindex"
)

// simhashNearDupDistance and phashNearDupDistance are the Hamming-distance
// thresholds at or below which two files are considered near-duplicates (§4.4).
const (
	simhashNearDupDistance = 3
	phashNearDupDistance   = 6
)

// blockRecord pairs a block's text with the identifiers needed to persist
// its embedding once every file in the payload has been processed.
type blockRecord struct {
	blockID  string
	text     string
	uri      string
	mimeType string
	docID    string
}

// Processor is the Document Processor (C9).
type Processor struct {
	Objects         objectstore.ObjectStore
	ObjectPublicURL string // "{endpoint}/{bucket}" prefix used to build a File's public uri

	Graph           graphstore.Store
	DocumentVectors vectorindex.Index
	ImageVectors    vectorindex.Index
	KV              *kv.Store

	Embedder      *embedrerank.Embedder
	ImageEmbedder *embedrerank.ImageEmbedder
	Registry      *modelregistry.Registry
	WhisperModel  string // path to a whisper.cpp ggml model, empty disables transcription

	HTTPClient *http.Client
	CacheDir   string

	// SimhashMaxDistance and PHashMaxDistance override the default
	// near-duplicate thresholds (§4.4); zero means use the default.
	SimhashMaxDistance int
	PHashMaxDistance   int
}

func (p *Processor) simhashThreshold() int {
	if p.SimhashMaxDistance != 0 {
		return p.SimhashMaxDistance
	}
	return simhashNearDupDistance
}

func (p *Processor) phashThreshold() int {
	if p.PHashMaxDistance != 0 {
		return p.PHashMaxDistance
	}
	return phashNearDupDistance
}

// Process runs the full per-payload pipeline: resolve files, extract,
// dedup, embed, and persist. Per §4.6, the graph bundle write is the commit
// point; vector and side-facet writes that follow are best-effort.
func (p *Processor) Process(ctx context.Context, payload Payload) error {
	logger := log.With().Str("doc_id", payload.Document.DocID).Logger()

	var (
		fileNodes     []graphstore.Node
		pageNodes     []graphstore.Node
		blockNodes    []graphstore.Node
		edges         []graphstore.Edge
		blockVectors  []blockRecord
		imageVecPoints []vectorindex.Point
	)

	for index, fd := range payload.Files {
		localPath, err := p.ensureLocalFile(ctx, fd)
		if err != nil {
			return fmt.Errorf("resolve file %d: %w", index, err)
		}

		mimeType := fd.MimeType
		if mimeType == "" {
			mimeType, err = extract.DetectMIME(localPath)
			if err != nil {
				return fmt.Errorf("detect mime for file %d: %w", index, err)
			}
		}

		sha256, err := hashFile(localPath)
		if err != nil {
			return fmt.Errorf("hash file %d: %w", index, err)
		}

		info, err := os.Stat(localPath)
		if err != nil {
			return fmt.Errorf("stat file %d: %w", index, err)
		}
		sizeBytes := fd.SizeBytes
		if sizeBytes == 0 {
			sizeBytes = info.Size()
		}

		var perceptualHash string
		if strings.HasPrefix(mimeType, "image/") {
			if img, derr := extract.DecodeImage(localPath); derr == nil {
				perceptualHash = fmt.Sprintf("%016x", dedup.PHash(img))
			}
		}

		objectKey := fmt.Sprintf("%s/%s", sanitizeDocID(payload.Document.DocID), filepath.Base(localPath))
		remoteURI, err := p.upload(ctx, objectKey, localPath, mimeType)
		if err != nil {
			return fmt.Errorf("upload file %d: %w", index, err)
		}

		createdAt := payload.Document.CreatedAt
		if fd.CreatedAt != nil {
			createdAt = *fd.CreatedAt
		}

		fileNodes = append(fileNodes, graphstore.Node{
			ID:     sha256,
			Labels: []string{"File"},
			Props: map[string]any{
				"sha256":          sha256,
				"uri":             remoteURI,
				"mime_type":       mimeType,
				"size_bytes":      sizeBytes,
				"perceptual_hash": perceptualHash,
				"created_at":      createdAt,
			},
		})
		edges = append(edges, graphstore.Edge{Source: payload.Document.DocID, Rel: "HAS_FILE", Target: sha256})

		pageID := fmt.Sprintf("%s::page::%d", payload.Document.DocID, index)
		edges = append(edges, graphstore.Edge{Source: pageID, Rel: "BELONGS_TO", Target: payload.Document.DocID})

		var pageTexts []string

		addBlock := func(blockID, blockType, text string) {
			blockNodes = append(blockNodes, graphstore.Node{
				ID:     blockID,
				Labels: []string{"Block"},
				Props: map[string]any{
					"block_type":   blockType,
					"text_content": text,
					"page_id":      pageID,
				},
			})
			edges = append(edges, graphstore.Edge{Source: blockID, Rel: "CHILD_OF", Target: pageID})
			blockVectors = append(blockVectors, blockRecord{blockID: blockID, text: text, uri: remoteURI, mimeType: mimeType, docID: payload.Document.DocID})
			if text != "" {
				pageTexts = append(pageTexts, text)
			}
		}

		switch {
		case extract.IsTextLike(mimeType, localPath):
			text, terr := extract.Text(localPath)
			if terr != nil {
				logger.Warn().Err(terr).Int("file_index", index).Msg("text extraction failed")
			}
			if text != "" {
				blockID := pageID + "#block"
				addBlock(blockID, "text", text)
				p.recordTextDedup(ctx, sha256, text, &logger)
			}

		case mimeType == "application/pdf":
			pages, perr := extract.PDFPages(localPath)
			if perr != nil {
				logger.Warn().Err(perr).Int("file_index", index).Msg("pdf extraction failed")
				break
			}
			for _, pg := range pages {
				blockID := fmt.Sprintf("%s#block#%d", pageID, pg.Index)
				addBlock(blockID, "pdf_page", pg.Text)
			}
			if combined := joinNonEmpty(pages); combined != "" {
				p.recordTextDedup(ctx, sha256, combined, &logger)
			}

		case strings.HasPrefix(mimeType, "image/"):
			ocrText, _ := extract.OCRImage(localPath)
			blockID := pageID + "#image"
			addBlock(blockID, "image", ocrText)
			if ocrText != "" {
				p.recordTextDedup(ctx, sha256, ocrText, &logger)
			}
			if p.ImageEmbedder != nil {
				if raw, rerr := os.ReadFile(localPath); rerr == nil {
					if vec, ierr := p.ImageEmbedder.Embed(ctx, raw, mimeType); ierr == nil {
						imageVecPoints = append(imageVecPoints, vectorindex.Point{
							ID:     blockID,
							Vector: vec,
							Metadata: map[string]any{
								"doc_id": payload.Document.DocID, "uri": remoteURI, "mime_type": mimeType,
							},
						})
					} else {
						logger.Warn().Err(ierr).Msg("image embedding failed")
					}
				}
			}
			if perceptualHash != "" {
				p.recordPHashDedup(ctx, sha256, perceptualHash, &logger)
			}

		case strings.HasPrefix(mimeType, "audio/") && p.WhisperModel != "":
			transcript, terr := extract.Transcribe(ctx, p.Registry, p.WhisperModel, localPath)
			if terr != nil {
				logger.Warn().Err(terr).Int("file_index", index).Msg("transcription failed")
				break
			}
			transcriptID := fmt.Sprintf("%s::transcript::%d", payload.Document.DocID, index)
			audioID := fmt.Sprintf("%s::audio::%d", payload.Document.DocID, index)
			blockNodes = append(blockNodes, graphstore.Node{
				ID: transcriptID, Labels: []string{"Transcript"},
				Props: map[string]any{"text_content": transcript},
			})
			blockVectors = append(blockVectors, blockRecord{blockID: transcriptID, text: transcript, uri: remoteURI, mimeType: mimeType, docID: payload.Document.DocID})
			if transcript != "" {
				pageTexts = append(pageTexts, transcript)
				p.recordTextDedup(ctx, sha256, transcript, &logger)
			}
			duration := fd.DurationSeconds
			fileNodes = append(fileNodes, graphstore.Node{
				ID: audioID, Labels: []string{"Audio"},
				Props: map[string]any{"recorded_at": createdAt, "duration_seconds": duration, "file_uri": remoteURI},
			})
			edges = append(edges, graphstore.Edge{Source: audioID, Rel: "HAS_TRANSCRIPT", Target: transcriptID})
		}

		if len(pageTexts) > 0 {
			vecs, err := p.Embedder.EmbedBatch(ctx, pageTexts)
			if err != nil {
				logger.Warn().Err(err).Msg("page text embedding failed; page pooled vector omitted")
			} else {
				pooled := embedrerank.PooledVector(vecs)
				pageNodes = append(pageNodes, graphstore.Node{
					ID: pageID, Labels: []string{"Page"},
					Props: map[string]any{"page_index": index, "pooled_vector": pooled},
				})
				continue
			}
		}
		pageNodes = append(pageNodes, graphstore.Node{
			ID: pageID, Labels: []string{"Page"},
			Props: map[string]any{"page_index": index},
		})
	}

	if payload.Block != nil {
		b := payload.Block
		blockNodes = append(blockNodes, graphstore.Node{
			ID: b.BlockID, Labels: []string{"Block"},
			Props: map[string]any{
				"block_type":   b.BlockType,
				"text_content": b.TextContent,
				"bounding_box": b.BoundingBox,
				"page_id":      b.PageID,
			},
		})
		if b.PageID != "" {
			edges = append(edges, graphstore.Edge{Source: b.BlockID, Rel: "CHILD_OF", Target: b.PageID})
		}
		blockVectors = append(blockVectors, blockRecord{blockID: b.BlockID, text: b.TextContent, docID: payload.Document.DocID})
	}

	for _, rel := range payload.Relationships {
		edges = append(edges, graphstore.Edge{Source: rel.SourceID, Rel: rel.Type, Target: rel.TargetID})
	}

	docNode := graphstore.Node{
		ID: payload.Document.DocID, Labels: []string{"Document"},
		Props: map[string]any{
			"title":       payload.Document.Title,
			"source":      payload.Document.Source,
			"version":     payload.Document.Version,
			"created_at":  payload.Document.CreatedAt,
			"valid_from":  payload.Document.ValidFrom,
			"valid_to":    payload.Document.ValidTo,
			"system_from": payload.Document.SystemFrom,
			"system_to":   payload.Document.SystemTo,
		},
	}

	bundle := graphstore.Bundle{
		Nodes: append(append([]graphstore.Node{docNode}, fileNodes...), append(pageNodes, blockNodes...)...),
		Edges: edges,
	}
	if err := p.Graph.IngestBundle(ctx, bundle); err != nil {
		return fmt.Errorf("ingest graph bundle: %w", err)
	}

	p.persistVectors(ctx, blockVectors, imageVecPoints, &logger)

	if payload.Email != nil {
		p.ingestEmail(ctx, payload.Document, *payload.Email, &logger)
	}

	if payload.Image != nil {
		p.ingestImage(ctx, *payload.Image, fileNodes, &logger)
	}

	if payload.Entities != nil {
		p.ingestEntities(ctx, *payload.Entities, &logger)
	}

	return nil
}

func (p *Processor) persistVectors(ctx context.Context, blocks []blockRecord, imagePoints []vectorindex.Point, logger *zerolog.Logger) {
	var texts []string
	var withText []blockRecord
	for _, b := range blocks {
		if b.text != "" {
			texts = append(texts, b.text)
			withText = append(withText, b)
		}
	}
	if len(texts) > 0 {
		vecs, err := p.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			logger.Warn().Err(err).Msg("block text embedding failed; documents vector upsert skipped")
		} else {
			points := make([]vectorindex.Point, len(withText))
			for i, b := range withText {
				points[i] = vectorindex.Point{
					ID:     b.blockID,
					Vector: vecs[i],
					Metadata: map[string]any{
						"doc_id": b.docID, "uri": b.uri, "text": b.text, "mime_type": b.mimeType,
					},
				}
			}
			if p.DocumentVectors != nil {
				if err := p.DocumentVectors.Upsert(ctx, points); err != nil {
					logger.Warn().Err(err).Msg("documents vector upsert failed")
				}
			}
		}
	}
	if len(imagePoints) > 0 && p.ImageVectors != nil {
		if err := p.ImageVectors.Upsert(ctx, imagePoints); err != nil {
			logger.Warn().Err(err).Msg("images vector upsert failed")
		}
	}
}

func (p *Processor) recordTextDedup(ctx context.Context, sha256, text string, logger *zerolog.Logger) {
	if p.KV == nil || text == "" {
		return
	}
	sim := dedup.Simhash(text)
	existing, err := p.KV.AllSimhashes(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("simhash lookup failed")
		return
	}
	for otherSHA, otherSim := range existing {
		if otherSHA == sha256 {
			continue
		}
		if dedup.Distance(sim, otherSim) <= p.simhashThreshold() {
			_ = p.Graph.IngestBundle(ctx, graphstore.Bundle{Edges: []graphstore.Edge{
				{Source: sha256, Rel: "NEAR_DUPLICATE", Target: otherSHA},
			}})
		}
	}
	if err := p.KV.RecordSimhash(ctx, sha256, sim); err != nil {
		logger.Warn().Err(err).Msg("simhash record failed")
	}
}

func (p *Processor) recordPHashDedup(ctx context.Context, sha256, phashHex string, logger *zerolog.Logger) {
	if p.KV == nil {
		return
	}
	var target uint64
	_, _ = fmt.Sscanf(phashHex, "%016x", &target)
	existing, err := p.KV.AllPHashes(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("phash lookup failed")
		return
	}
	for otherSHA, otherHash := range existing {
		if otherSHA == sha256 {
			continue
		}
		if dedup.Distance(target, otherHash) <= p.phashThreshold() {
			_ = p.Graph.IngestBundle(ctx, graphstore.Bundle{Edges: []graphstore.Edge{
				{Source: sha256, Rel: "NEAR_DUPLICATE", Target: otherSHA},
			}})
		}
	}
	if err := p.KV.RecordPHash(ctx, sha256, target); err != nil {
		logger.Warn().Err(err).Msg("phash record failed")
	}
}

func (p *Processor) ensureLocalFile(ctx context.Context, fd FileDescriptor) (string, error) {
	if fd.URI == "" {
		return "", fmt.Errorf("file descriptor missing uri")
	}
	if strings.HasPrefix(fd.URI, "http://") || strings.HasPrefix(fd.URI, "https://") {
		return p.downloadRemote(ctx, fd.URI)
	}
	return fd.URI, nil
}

func (p *Processor) downloadRemote(ctx context.Context, uri string) (string, error) {
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("download %s: status %s", uri, resp.Status)
	}

	cacheDir := p.CacheDir
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}

	name := filepath.Base(strings.SplitN(uri, "?", 2)[0])
	localPath := filepath.Join(cacheDir, name)
	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", err
	}
	return localPath, nil
}

func (p *Processor) upload(ctx context.Context, key, localPath, mimeType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := p.Objects.Put(ctx, key, f, objectstore.PutOptions{ContentType: mimeType}); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(p.ObjectPublicURL, "/"), key), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return dedup.SHA256(f)
}

func sanitizeDocID(docID string) string {
	return strings.ReplaceAll(docID, ":", "_")
}

func joinNonEmpty(pages []extract.PDFPage) string {
	var b bytes.Buffer
	for _, pg := range pages {
		if pg.Text != "" {
			b.WriteString(pg.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}
