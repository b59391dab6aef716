package embedrerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"pkb/internal/config"
	"pkb/internal/modelregistry"
)

// Candidate is a single passage to be scored against a query.
type Candidate struct {
	ID   string
	Text string
}

// Scored pairs a Candidate with its cross-encoder relevance score.
type Scored struct {
	Candidate
	Score float64
}

// Reranker scores (query, passage) pairs with a cross-encoder, falling back
// to a secondary model if the primary model errors mid-run. Once a fallback
// is used it stays in effect for the remainder of that Rerank call; the
// reranker does not retry the primary model on the next batch.
type Reranker struct {
	cfg      config.RerankConfig
	endpoint config.EmbeddingConfig
	registry *modelregistry.Registry
	client   *http.Client
}

// NewReranker constructs a Reranker. endpoint describes the HTTP rerank
// server; its Model field is ignored in favor of cfg.PrimaryModel /
// cfg.FallbackModel, selected per request.
func NewReranker(cfg config.RerankConfig, endpoint config.EmbeddingConfig, registry *modelregistry.Registry, client *http.Client) *Reranker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Reranker{cfg: cfg, endpoint: endpoint, registry: registry, client: client}
}

// Rerank scores every candidate against query and returns them sorted by
// descending score. Ties preserve the candidates' original relative order
// (a stable sort), matching the cross-encoder's own tie-breaking.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	model := r.cfg.PrimaryModel
	out := make([]Scored, 0, len(candidates))

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]

		scores, err := r.scoreBatch(ctx, model, query, chunk)
		if err != nil {
			fallback := r.cfg.FallbackModel
			if fallback == "" || fallback == model {
				return nil, fmt.Errorf("rerank batch [%d:%d] with %q: %w", start, end, model, err)
			}
			model = fallback // stays in effect for all remaining batches
			scores, err = r.scoreBatch(ctx, model, query, chunk)
			if err != nil {
				return nil, fmt.Errorf("rerank batch [%d:%d] with fallback %q: %w", start, end, model, err)
			}
		}

		for i, c := range chunk {
			out = append(out, Scored{Candidate: c, Score: scores[i]})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

type rerankReq struct {
	Model string     `json:"model"`
	Pairs [][2]string `json:"pairs"`
}

type rerankResp struct {
	Scores []float64 `json:"scores"`
}

func (r *Reranker) scoreBatch(ctx context.Context, model, query string, chunk []Candidate) ([]float64, error) {
	if _, err := r.registry.GetOrLoad(ctx, model, func(ctx context.Context) (any, error) {
		return model, nil
	}); err != nil {
		return nil, err
	}

	pairs := make([][2]string, len(chunk))
	for i, c := range chunk {
		pairs[i] = [2]string{query, c.Text}
	}

	reqBody, err := json.Marshal(rerankReq{Model: model, Pairs: pairs})
	if err != nil {
		return nil, err
	}

	url := r.endpoint.BaseURL + "/v1/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.endpoint.APIKey.Reveal() != "" {
		req.Header.Set(r.endpoint.APIHeader, "Bearer "+r.endpoint.APIKey.Reveal())
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank endpoint error: %s: %s", resp.Status, string(b))
	}

	var rr rerankResp
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(rr.Scores) != len(chunk) {
		return nil, fmt.Errorf("unexpected score count: got %d, want %d", len(rr.Scores), len(chunk))
	}

	scores := make([]float64, len(rr.Scores))
	for i, logit := range rr.Scores {
		scores[i] = sigmoid(logit)
	}
	return scores, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
