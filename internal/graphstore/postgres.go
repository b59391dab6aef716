package graphstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// entityLabels lists the node labels whose name field should be indexed in
// the separate entity full-text index rather than the document/block index.
var entityLabels = map[string]bool{
	"Person": true, "Organization": true, "Project": true, "Place": true, "Event": true,
}

// PostgresStore is a Store backed by Postgres, using a generic
// nodes/edges table pair with two separate tsvector-backed full-text
// indices: one over document/block text, one over entity names.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore bootstraps the schema (tables, GIN indices, unique edge
// constraint) and returns a ready Store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			labels TEXT[] NOT NULL DEFAULT '{}',
			props JSONB NOT NULL DEFAULT '{}'::jsonb,
			body_text TEXT NOT NULL DEFAULT '',
			name_text TEXT NOT NULL DEFAULT '',
			body_ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', body_text)) STORED,
			name_ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', name_text)) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS nodes_body_ts_idx ON nodes USING GIN (body_ts)`,
		`CREATE INDEX IF NOT EXISTS nodes_name_ts_idx ON nodes USING GIN (name_ts)`,
		`CREATE INDEX IF NOT EXISTS nodes_labels_idx ON nodes USING GIN (labels)`,
		`CREATE TABLE IF NOT EXISTS edges (
			source TEXT NOT NULL,
			rel TEXT NOT NULL,
			target TEXT NOT NULL,
			props JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (source, rel, target)
		)`,
		`CREATE INDEX IF NOT EXISTS edges_source_rel_idx ON edges (source, rel)`,
		`CREATE INDEX IF NOT EXISTS edges_target_rel_idx ON edges (target, rel)`,
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("graphstore schema setup: %w", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) IngestBundle(ctx context.Context, b Bundle) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bundle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, n := range b.Nodes {
		propsJSON, err := json.Marshal(n.Props)
		if err != nil {
			return fmt.Errorf("marshal props for node %q: %w", n.ID, err)
		}

		bodyText, nameText := "", ""
		if v, ok := n.Props["text"].(string); ok {
			bodyText = v
		}
		if isEntity(n.Labels) {
			if v, ok := n.Props["name"].(string); ok {
				nameText = v
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO nodes (id, labels, props, body_text, name_text)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				labels = EXCLUDED.labels,
				props = EXCLUDED.props,
				body_text = EXCLUDED.body_text,
				name_text = EXCLUDED.name_text
		`, n.ID, n.Labels, propsJSON, bodyText, nameText)
		if err != nil {
			return fmt.Errorf("upsert node %q: %w", n.ID, err)
		}
	}

	for _, e := range b.Edges {
		propsJSON, err := json.Marshal(e.Props)
		if err != nil {
			return fmt.Errorf("marshal props for edge %s-%s->%s: %w", e.Source, e.Rel, e.Target, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO edges (source, rel, target, props)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (source, rel, target) DO UPDATE SET props = EXCLUDED.props
		`, e.Source, e.Rel, e.Target, propsJSON)
		if err != nil {
			return fmt.Errorf("upsert edge %s-%s->%s: %w", e.Source, e.Rel, e.Target, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bundle tx: %w", err)
	}
	return nil
}

func isEntity(labels []string) bool {
	for _, l := range labels {
		if entityLabels[l] {
			return true
		}
	}
	return false
}

func (s *PostgresStore) GetNode(ctx context.Context, id string) (Node, bool, error) {
	var labels []string
	var propsRaw []byte
	err := s.pool.QueryRow(ctx, `SELECT labels, props FROM nodes WHERE id = $1`, id).Scan(&labels, &propsRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, false, nil
		}
		return Node{}, false, fmt.Errorf("get node %q: %w", id, err)
	}
	var props map[string]any
	if err := json.Unmarshal(propsRaw, &props); err != nil {
		return Node{}, false, fmt.Errorf("unmarshal props for node %q: %w", id, err)
	}
	return Node{ID: id, Labels: labels, Props: props}, true, nil
}

func (s *PostgresStore) LexicalSearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts_rank(body_ts, q) AS score,
			ts_headline('simple', body_text, q, 'MaxFragments=1') AS snippet,
			props
		FROM nodes, plainto_tsquery('simple', $1) q
		WHERE body_ts @@ q
		ORDER BY score DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

func (s *PostgresStore) EntitySearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts_rank(name_ts, q) AS score, name_text AS snippet, props
		FROM nodes, plainto_tsquery('simple', $1) q
		WHERE name_ts @@ q
		ORDER BY score DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("entity search: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

func (s *PostgresStore) TraverseRelated(ctx context.Context, seedIDs []string, limit int) ([]Hit, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT n.id, 1.0 AS score, n.body_text AS snippet, n.props
		FROM edges e
		JOIN nodes n ON n.id = e.target
		WHERE e.source = ANY($1)
		ORDER BY n.id
		LIMIT $2
	`, seedIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("traverse related: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

func scanHits(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var h Hit
		var propsRaw []byte
		if err := rows.Scan(&h.ID, &h.Score, &h.Snippet, &propsRaw); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if len(propsRaw) > 0 {
			if err := json.Unmarshal(propsRaw, &h.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal hit metadata: %w", err)
			}
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
