// Command retrievalapi exposes the hybrid Retrieval Orchestrator (C11) over
// HTTP: a single POST /ask endpoint that fans a query out across dense,
// lexical, and entity-expansion search, reranks, and diversifies.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"pkb/internal/config"
	"pkb/internal/embedrerank"
	"pkb/internal/graphstore"
	"pkb/internal/kv"
	"pkb/internal/memguard"
	"pkb/internal/modelregistry"
	"pkb/internal/observability"
	"pkb/internal/retrieve"
	"pkb/internal/vectorindex"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	observability.InitLogger("retrievalapi.log", "info")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN.Reveal())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	graph, err := graphstore.NewPostgresStore(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init graph store")
	}

	docVectors, err := vectorindex.NewQdrantIndex(ctx, cfg.Qdrant.DSN, cfg.Qdrant.DocumentsCollection, cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init document vector index")
	}

	guard := memguard.New(cfg.MemoryGuard.MinFreeBytes)
	registry := modelregistry.New(guard)
	embedder := embedrerank.NewEmbedder(cfg.Embedding, registry, guard)
	reranker := embedrerank.NewReranker(cfg.Rerank, cfg.Embedding, registry, httpClient)

	store := kv.New(cfg.Redis, cfg.QueueName)

	orchestrator := &retrieve.Orchestrator{
		Graph:        graph,
		Vectors:      docVectors,
		Embedder:     embedder,
		Reranker:     reranker,
		Cache:        store,
		CacheTTL:     cfg.Retrieval.CacheTTL.Duration,
		RerankWeight: cfg.Retrieval.RerankWeight,
		MMRLambda:    cfg.Retrieval.MMRLambda,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ready")
	})
	mux.HandleFunc("/ask", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Query string `json:"query"`
			TopK  int    `json:"top_k"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = cfg.Retrieval.DefaultTopK
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		docs, err := orchestrator.Retrieve(reqCtx, req.Query, topK)
		if err != nil {
			log.Error().Err(err).Str("query", req.Query).Msg("retrieval failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": docs})
	})

	srv := &http.Server{Addr: ":8090", Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Msg("retrieval api listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("retrieval api shut down")
}
