// Package kv wraps the Redis-backed dedup fingerprint store, connector
// cursor state, ingest queue, and retrieval result cache behind a single
// client, mirroring the original worker stack's use of a Redis-compatible
// cache/queue server for all of this non-durable bookkeeping.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pkb/internal/config"
)

const (
	dedupHashKeyPrefix   = "dedup:sha256:"
	simhashSetKey        = "dedupe:simhash"
	phashSetKey          = "dedupe:phash"
	connectorStatePrefix = "connector:"
	connectorStateSuffix = ":state"
	cacheKeyPrefix       = "" // cache keys (e.g. "ask:{query}:{top_k}") are stored under their literal name
)

// Store wraps a Redis client with the specific key shapes the ingestion
// pipeline and retrieval orchestrator rely on.
type Store struct {
	rdb   *redis.Client
	queue string
}

// New connects to Redis per cfg and binds queueName as the ingest queue.
func New(cfg config.RedisConfig, queueName string) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Reveal(),
		DB:       cfg.DB,
	})
	return &Store{rdb: rdb, queue: queueName}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// --- exact-match dedup (sha256 -> doc id) ---

// LookupSHA256 returns the existing document ID for digest, if any.
func (s *Store) LookupSHA256(ctx context.Context, digest string) (docID string, found bool, err error) {
	v, err := s.rdb.Get(ctx, dedupHashKeyPrefix+digest).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// RecordSHA256 associates digest with docID for future exact-match lookups.
func (s *Store) RecordSHA256(ctx context.Context, digest, docID string) error {
	return s.rdb.Set(ctx, dedupHashKeyPrefix+digest, docID, 0).Err()
}

// --- near-duplicate fingerprints (simhash / phash) ---

// AllSimhashes returns every previously recorded (id -> simhash) pair. The
// caller compares the new item's fingerprint against each of these before
// inserting its own, which is what makes the resulting NEAR_DUPLICATE edges
// point from the new item to each pre-existing match.
func (s *Store) AllSimhashes(ctx context.Context) (map[string]uint64, error) {
	return s.allFingerprints(ctx, simhashSetKey, "%d")
}

func (s *Store) AllPHashes(ctx context.Context) (map[string]uint64, error) {
	return s.allFingerprints(ctx, phashSetKey, "%x")
}

func (s *Store) allFingerprints(ctx context.Context, setKey, verb string) (map[string]uint64, error) {
	raw, err := s.rdb.HGetAll(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(raw))
	for id, v := range raw {
		var n uint64
		if _, err := fmt.Sscanf(v, verb, &n); err != nil {
			continue
		}
		out[id] = n
	}
	return out, nil
}

// RecordSimhash stores id's fingerprint for future near-duplicate scans.
func (s *Store) RecordSimhash(ctx context.Context, id string, fp uint64) error {
	return s.rdb.HSet(ctx, simhashSetKey, id, fp).Err()
}

func (s *Store) RecordPHash(ctx context.Context, id string, fp uint64) error {
	return s.rdb.HSet(ctx, phashSetKey, id, fmt.Sprintf("%016x", fp)).Err()
}

// --- connector cursor state ---

// ConnectorState returns the last persisted cursor for a connector name, if any.
func (s *Store) ConnectorState(ctx context.Context, name string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, connectorStatePrefix+name+connectorStateSuffix).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetConnectorState persists cursor for connector name.
func (s *Store) SetConnectorState(ctx context.Context, name, cursor string) error {
	return s.rdb.Set(ctx, connectorStatePrefix+name+connectorStateSuffix, cursor, 0).Err()
}

// --- ingest queue: LPUSH / BRPOP semantics ---

// Enqueue pushes payload onto the ingest queue.
func (s *Store) Enqueue(ctx context.Context, payload []byte) error {
	return s.rdb.LPush(ctx, s.queue, payload).Err()
}

// Dequeue blocks up to timeout for a queued payload. Returns ok=false (no
// error) on timeout, matching the worker loop's poll-sleep-retry contract.
func (s *Store) Dequeue(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error) {
	res, err := s.rdb.BRPop(ctx, timeout, s.queue).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, false, fmt.Errorf("unexpected BRPOP reply shape: %v", res)
	}
	return []byte(res[1]), true, nil
}

// --- retrieval result cache ---

// CacheGet returns the cached JSON value for key, if present and unexpired.
func (s *Store) CacheGet(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.rdb.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode cached value for %q: %w", key, err)
	}
	return true, nil
}

// CacheSet stores value as JSON under key with ttl.
func (s *Store) CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value for %q: %w", key, err)
	}
	return s.rdb.Set(ctx, cacheKeyPrefix+key, raw, ttl).Err()
}
