// Package config loads runtime configuration for the ingestion pipeline and
// retrieval orchestrator from environment variables, with an optional
// .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PostgresConfig configures the graph bundle store (C7).
type PostgresConfig struct {
	DSN Secret
}

// S3SSEConfig configures server-side encryption for object store writes.
type S3SSEConfig struct {
	Mode     string // "", "sse-s3", "sse-kms"
	KMSKeyID string
}

// S3Config configures the MinIO/S3-compatible object store behind C9.
type S3Config struct {
	Endpoint              string
	Region                string
	Bucket                string
	Prefix                string
	AccessKey             string
	SecretKey             Secret
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// RedisConfig configures the dedup/state KV (C6) and ingest queue (C10).
type RedisConfig struct {
	Addr     string
	Password Secret
	DB       int
}

// QdrantConfig configures the document and image vector collections (C8).
type QdrantConfig struct {
	DSN            string
	DocumentsCollection string
	ImagesCollection    string
	Dimensions          int
	Metric              string // "cosine", "euclid", "dot", "manhattan"
}

// MemoryGuardConfig configures backpressure thresholds (C1).
type MemoryGuardConfig struct {
	MinFreeBytes    uint64
	RecoveryPoll    Duration
	MPSProbeCommand string
}

// EmbeddingConfig configures a remote, OpenAI-compatible embedding or
// rerank HTTP endpoint used as a model-registry-backed backend (C2/C3).
type EmbeddingConfig struct {
	BaseURL         string
	Path            string
	Model           string
	APIKey          Secret
	APIHeader       string
	Timeout         int // seconds
	Dimensions      int
	EmbedPrefix     string
	SearchPrefix    string
	ImageModel      string
	ImageDimensions int
}

// RerankConfig configures the cross-encoder reranker (C3).
type RerankConfig struct {
	PrimaryModel  string
	FallbackModel string
	BatchSize     int
}

// DedupConfig configures near-duplicate thresholds (C4).
type DedupConfig struct {
	SimhashMaxDistance int
	PHashMaxDistance   int
}

// SchedulerConfig configures connector cadence (C12).
type SchedulerConfig struct {
	DefaultInterval Duration
	BackupCron      string // standard 5-field cron expression
}

// ExtractConfig configures the extractors (C5).
type ExtractConfig struct {
	WhisperModelPath string // path to a whisper.cpp ggml model; empty disables transcription
}

// RetrievalConfig configures the hybrid retrieval orchestrator (C11).
type RetrievalConfig struct {
	CacheTTL     Duration
	DefaultTopK  int
	RerankWeight float64 // weight applied to cross-encoder score, rest to mean channel score
	MMRLambda    float64
}

// ObsConfig controls OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	Enabled        bool
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Config is the fully assembled runtime configuration.
type Config struct {
	LogLevel string
	LogPath  string

	Postgres     PostgresConfig
	S3           S3Config
	Redis        RedisConfig
	Qdrant       QdrantConfig
	MemoryGuard  MemoryGuardConfig
	Embedding    EmbeddingConfig
	Rerank       RerankConfig
	Dedup        DedupConfig
	Extract      ExtractConfig
	Scheduler    SchedulerConfig
	Retrieval    RetrievalConfig
	Obs          ObsConfig
	QueueName    string
	IngestWorkers int
}

// Load reads configuration from the process environment, first attempting
// to populate it from a ".env" file in the working directory if present.
// Missing env files are not an error; real deployments set these directly.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		LogLevel: getenv("LOG_LEVEL", "info"),
		LogPath:  getenv("LOG_PATH", ""),
		Postgres: PostgresConfig{
			DSN: Secret(getenv("POSTGRES_DSN", "postgres://localhost:5432/pkb")),
		},
		S3: S3Config{
			Endpoint:              getenv("S3_ENDPOINT", ""),
			Region:                getenv("S3_REGION", "us-east-1"),
			Bucket:                getenv("S3_BUCKET", "pkb-documents"),
			Prefix:                getenv("S3_PREFIX", ""),
			AccessKey:             getenv("S3_ACCESS_KEY", ""),
			SecretKey:             Secret(getenv("S3_SECRET_KEY", "")),
			UsePathStyle:          getbool("S3_USE_PATH_STYLE", true),
			TLSInsecureSkipVerify: getbool("S3_TLS_INSECURE_SKIP_VERIFY", false),
			SSE: S3SSEConfig{
				Mode:     getenv("S3_SSE_MODE", ""),
				KMSKeyID: getenv("S3_SSE_KMS_KEY_ID", ""),
			},
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: Secret(getenv("REDIS_PASSWORD", "")),
			DB:       getint("REDIS_DB", 0),
		},
		Qdrant: QdrantConfig{
			DSN:                 getenv("QDRANT_DSN", "localhost:6334"),
			DocumentsCollection: getenv("QDRANT_DOCUMENTS_COLLECTION", "documents"),
			ImagesCollection:    getenv("QDRANT_IMAGES_COLLECTION", "images"),
			Dimensions:          getint("QDRANT_DIMENSIONS", 768),
			Metric:              getenv("QDRANT_METRIC", "cosine"),
		},
		MemoryGuard: MemoryGuardConfig{
			MinFreeBytes:    uint64(getint64("MEMORY_GUARD_MIN_FREE_BYTES", 3<<29)), // 1.5 GiB
			RecoveryPoll:    Duration{getduration("MEMORY_GUARD_RECOVERY_POLL", 2*time.Second)},
			MPSProbeCommand: getenv("MEMORY_GUARD_MPS_PROBE_COMMAND", ""),
		},
		Embedding: EmbeddingConfig{
			BaseURL:      getenv("EMBEDDING_BASE_URL", "http://localhost:8081"),
			Path:         getenv("EMBEDDING_PATH", "/v1/embeddings"),
			Model:        getenv("EMBEDDING_MODEL", "text-embedding"),
			APIKey:       Secret(getenv("EMBEDDING_API_KEY", "")),
			APIHeader:    getenv("EMBEDDING_API_HEADER", "Authorization"),
			Timeout:      getint("EMBEDDING_TIMEOUT_SECONDS", 30),
			Dimensions:   getint("EMBEDDING_DIMENSIONS", 768),
			EmbedPrefix:  getenv("EMBEDDING_EMBED_PREFIX", ""),
			SearchPrefix: getenv("EMBEDDING_SEARCH_PREFIX", ""),

			ImageModel:      getenv("IMAGE_EMBEDDING_MODEL", "image-embedding"),
			ImageDimensions: getint("IMAGE_EMBEDDING_DIMENSIONS", 768),
		},
		Rerank: RerankConfig{
			PrimaryModel:  getenv("RERANK_PRIMARY_MODEL", "cross-encoder-primary"),
			FallbackModel: getenv("RERANK_FALLBACK_MODEL", "cross-encoder-fallback"),
			BatchSize:     getint("RERANK_BATCH_SIZE", 16),
		},
		Dedup: DedupConfig{
			SimhashMaxDistance: getint("DEDUP_SIMHASH_MAX_DISTANCE", 3),
			PHashMaxDistance:   getint("DEDUP_PHASH_MAX_DISTANCE", 6),
		},
		Extract: ExtractConfig{
			WhisperModelPath: getenv("EXTRACT_WHISPER_MODEL_PATH", ""),
		},
		Scheduler: SchedulerConfig{
			DefaultInterval: Duration{getduration("SCHEDULER_DEFAULT_INTERVAL", 10*time.Minute)},
			BackupCron:      getenv("SCHEDULER_BACKUP_CRON", "0 3 * * *"),
		},
		Retrieval: RetrievalConfig{
			CacheTTL:     Duration{getduration("RETRIEVAL_CACHE_TTL", 24*time.Hour)},
			DefaultTopK:  getint("RETRIEVAL_DEFAULT_TOP_K", 12),
			RerankWeight: getfloat("RETRIEVAL_RERANK_WEIGHT", 0.7),
			MMRLambda:    getfloat("RETRIEVAL_MMR_LAMBDA", 0.7),
		},
		Obs: ObsConfig{
			Enabled:        getbool("OTEL_ENABLED", false),
			OTLP:           getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getenv("OTEL_SERVICE_NAME", "pkb"),
			ServiceVersion: getenv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getenv("OTEL_ENVIRONMENT", "development"),
		},
		QueueName:     getenv("INGEST_QUEUE_NAME", "ingest:documents"),
		IngestWorkers: getint("INGEST_WORKERS", 4),
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getint(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getint64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getfloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getduration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
