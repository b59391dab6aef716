// Command ingestworker runs the Ingest Queue Worker (C10): it drains the
// ingest queue and hands each payload to the Document Processor (C9), which
// dedups, extracts, embeds, and writes graph/vector state for every file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"pkb/internal/config"
	"pkb/internal/embedrerank"
	"pkb/internal/graphstore"
	"pkb/internal/ingest"
	"pkb/internal/kv"
	"pkb/internal/memguard"
	"pkb/internal/modelregistry"
	"pkb/internal/objectstore"
	"pkb/internal/observability"
	"pkb/internal/queueworker"
	"pkb/internal/vectorindex"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	observability.InitLogger("ingestworker.log", "info")

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

	objects, err := objectstore.NewS3Store(ctx, cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init object store")
	}

	docVectors, err := vectorindex.NewQdrantIndex(ctx, cfg.Qdrant.DSN, cfg.Qdrant.DocumentsCollection, cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init document vector index")
	}
	imgVectors, err := vectorindex.NewQdrantIndex(ctx, cfg.Qdrant.DSN, cfg.Qdrant.ImagesCollection, cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init image vector index")
	}

	guard := memguard.New(cfg.MemoryGuard.MinFreeBytes)
	registry := modelregistry.New(guard)
	embedder := embedrerank.NewEmbedder(cfg.Embedding, registry, guard)
	imageEmbedder := embedrerank.NewImageEmbedder(cfg.Embedding, registry)

	store := kv.New(cfg.Redis, cfg.QueueName)

	cacheDir, err := os.MkdirTemp("", "pkb-ingest-*")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create cache dir")
	}
	defer os.RemoveAll(cacheDir)

	processor := &ingest.Processor{
		Objects:            objects,
		ObjectPublicURL:    fmt.Sprintf("%s/%s", cfg.S3.Endpoint, cfg.S3.Bucket),
		Graph:              graph,
		DocumentVectors:    docVectors,
		ImageVectors:       imgVectors,
		KV:                 store,
		Embedder:           embedder,
		ImageEmbedder:      imageEmbedder,
		Registry:           registry,
		WhisperModel:       cfg.Extract.WhisperModelPath,
		HTTPClient:         httpClient,
		CacheDir:           cacheDir,
		SimhashMaxDistance: cfg.Dedup.SimhashMaxDistance,
		PHashMaxDistance:   cfg.Dedup.PHashMaxDistance,
	}

	worker := &queueworker.Worker{Queue: store, Processor: processor}

	log.Info().Str("queue", cfg.QueueName).Msg("ingest worker starting")
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("ingest worker failed")
	}
	log.Info().Msg("ingest worker shut down")
}
