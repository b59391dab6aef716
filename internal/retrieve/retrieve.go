// Package retrieve implements the hybrid retrieval orchestrator (C11): a
// cached fan-out across dense, lexical, and entity-expansion search
// channels, merged, reranked with a cross-encoder, and diversified with
// maximal marginal relevance before being returned to the caller.
package retrieve

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"pkb/internal/embedrerank"
	"pkb/internal/graphstore"
	"pkb/internal/kv"
	"pkb/internal/planner"
	"pkb/internal/vectorindex"
)

// Document is a single retrieved item with its channel scores, final
// combined score, and a human-auditable explanation of how it got there.
type Document struct {
	ID          string
	Snippet     string
	Metadata    map[string]any
	ChannelHits map[string]float64 // e.g. "dense", "lexical", "entity"
	Combined    float64
	Explanation map[string]any
}

// Orchestrator wires together the stores a retrieval request fans out to.
type Orchestrator struct {
	Graph    graphstore.Store
	Vectors  vectorindex.Index
	Embedder *embedrerank.Embedder
	Reranker *embedrerank.Reranker
	Cache    *kv.Store
	CacheTTL time.Duration

	RerankWeight float64 // weight on cross-encoder score; (1-RerankWeight) on mean channel score
	MMRLambda    float64
}

// entityExpandScore is the flat contribution an item receives purely for
// being reachable from an entity match, independent of any lexical or dense
// score it might also carry.
const entityExpandScore = 0.1

// Retrieve runs the full hybrid pipeline and returns up to topK diversified,
// reranked documents.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		topK = 12
	}

	cacheKey := fmt.Sprintf("ask:%s:%d", query, topK)
	if o.Cache != nil {
		var cached []Document
		if found, err := o.Cache.CacheGet(ctx, cacheKey, &cached); err == nil && found {
			return cached, nil
		}
	}

	plan := planner.Plan(query, time.Now())

	merged, err := o.fanOutAndMerge(ctx, query, plan, topK*4)
	if err != nil {
		return nil, err
	}

	reranked, err := o.rerank(ctx, query, merged)
	if err != nil {
		return nil, err
	}

	final := mmr(reranked, o.MMRLambda, topK)

	if o.Cache != nil && o.CacheTTL > 0 {
		_ = o.Cache.CacheSet(ctx, cacheKey, final, o.CacheTTL)
	}

	return final, nil
}

// fanOutAndMerge runs dense, lexical, and entity-expansion search
// concurrently and folds their results into one map keyed by document ID.
func (o *Orchestrator) fanOutAndMerge(ctx context.Context, query string, plan planner.Plan, limit int) ([]Document, error) {
	var (
		wg                       sync.WaitGroup
		denseHits                []vectorindex.Result
		lexicalHits, entityHits  []graphstore.Hit
		denseErr, lexErr, entErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		vecs, err := o.Embedder.EmbedBatch(ctx, []string{query})
		if err != nil {
			denseErr = fmt.Errorf("embed query: %w", err)
			return
		}
		if len(vecs) == 0 {
			return
		}
		denseHits, denseErr = o.Vectors.SimilaritySearch(ctx, vecs[0], limit, nil)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		lexicalHits, lexErr = o.Graph.LexicalSearch(ctx, query, limit)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if len(plan.Entities) == 0 {
			return
		}
		seeds, err := o.Graph.EntitySearch(ctx, strings.Join(plan.Entities, " "), limit)
		if err != nil {
			entErr = err
			return
		}
		seedIDs := make([]string, len(seeds))
		for i, s := range seeds {
			seedIDs[i] = s.ID
		}
		entityHits, entErr = o.Graph.TraverseRelated(ctx, seedIDs, limit)
	}()

	wg.Wait()
	if denseErr != nil {
		return nil, denseErr
	}
	if lexErr != nil {
		return nil, lexErr
	}
	if entErr != nil {
		return nil, entErr
	}

	byID := make(map[string]*Document)
	getOrCreate := func(id string, metadata map[string]any, snippet string) *Document {
		d, ok := byID[id]
		if !ok {
			d = &Document{ID: id, Snippet: snippet, Metadata: metadata, ChannelHits: map[string]float64{}}
			byID[id] = d
		}
		return d
	}

	for _, h := range denseHits {
		text, _ := h.Metadata["text"].(string)
		d := getOrCreate(h.ID, h.Metadata, text)
		d.ChannelHits["dense"] = float64(h.Score)
	}
	for _, h := range lexicalHits {
		d := getOrCreate(h.ID, h.Metadata, h.Snippet)
		d.ChannelHits["lexical"] = h.Score
	}
	for _, h := range entityHits {
		d := getOrCreate(h.ID, h.Metadata, h.Snippet)
		// Entity-expansion contributes a flat score rather than overriding
		// a channel score the item may already carry from dense/lexical.
		if _, exists := d.ChannelHits["entity"]; !exists {
			d.ChannelHits["entity"] = entityExpandScore
		}
	}

	docs := make([]Document, 0, len(byID))
	for _, d := range byID {
		// Items without a usable ID are dropped rather than surfaced with a
		// synthesized key; this matches the source system's own merge step.
		if d.ID == "" {
			continue
		}
		docs = append(docs, *d)
	}
	return docs, nil
}

func meanChannelScore(d Document) float64 {
	if len(d.ChannelHits) == 0 {
		return 0
	}
	var sum float64
	for _, v := range d.ChannelHits {
		sum += v
	}
	return sum / float64(len(d.ChannelHits))
}

// rerank scores merged documents with non-empty text against query with the
// cross-encoder, then combines it with the mean channel score:
// combined = rerankWeight*rerank_score + (1-rerankWeight)*mean_channel_score.
// Documents with no text carry nothing for the cross-encoder to score on and
// are dropped, matching §4.8 step 4's "pairs (doc_id, text) where text is
// non-empty".
func (o *Orchestrator) rerank(ctx context.Context, query string, docs []Document) ([]Document, error) {
	byID := make(map[string]Document, len(docs))
	candidates := make([]embedrerank.Candidate, 0, len(docs))
	for _, d := range docs {
		if d.Snippet == "" {
			continue
		}
		byID[d.ID] = d
		candidates = append(candidates, embedrerank.Candidate{ID: d.ID, Text: d.Snippet})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scored, err := o.Reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("rerank candidates: %w", err)
	}

	weight := o.RerankWeight
	if weight == 0 {
		weight = 0.7
	}

	out := make([]Document, 0, len(scored))
	for _, s := range scored {
		d := byID[s.ID]
		avg := meanChannelScore(d)
		d.Combined = weight*s.Score + (1-weight)*avg
		d.Explanation = map[string]any{
			"rerank_score":        s.Score,
			"mean_channel_score":  avg,
			"channel_hits":        d.ChannelHits,
			"rerank_weight":       weight,
		}
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Combined > out[j].Combined })
	return out, nil
}

// mmr greedily selects topN documents from the already-score-sorted
// candidates, balancing relevance against diversity:
// pick = argmax( lambda*combined - (1-lambda)*max_similarity_to_selected ).
// The first pick is always the top-scored candidate.
func mmr(candidates []Document, lambda float64, topN int) []Document {
	if lambda == 0 {
		lambda = 0.7
	}
	if len(candidates) == 0 {
		return nil
	}
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}

	remaining := append([]Document(nil), candidates...)
	selected := []Document{remaining[0]}
	remaining = remaining[1:]

	for len(selected) < topN && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i, cand := range remaining {
			maxSim := 0.0
			for _, chosen := range selected {
				if sim := wordSetCosine(cand.Snippet, chosen.Snippet); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*cand.Combined - (1-lambda)*maxSim
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// wordSetCosine is the similarity measure: |A∩B| / (sqrt(|A|)*sqrt(|B|))
// over whitespace-split word sets.
func wordSetCosine(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	denom := math.Sqrt(float64(len(setA))) * math.Sqrt(float64(len(setB)))
	if denom == 0 {
		return 0
	}
	return float64(intersection) / denom
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}
