// Package graphstore is the graph bundle writer (C7): the single source of
// truth for documents, files, pages, blocks, entities, and the relationships
// between them. A bundle is written as one atomic transaction; the vector
// index and state KV are derived, best-effort projections of what lands
// here.
package graphstore

import "context"

// Node is a single graph node: a Document, File, Page, Block, or entity
// (Person, Organization, Project, Place, Event).
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// Edge is a directed, typed relationship between two node IDs.
type Edge struct {
	Source string
	Rel    string
	Target string
	Props  map[string]any
}

// Bundle is everything a single ingested document contributes to the graph,
// written together so a reader never observes a document with only some of
// its pages, blocks, or entity links present.
type Bundle struct {
	Nodes []Node
	Edges []Edge
}

// Hit is a single lexical or entity full-text search result.
type Hit struct {
	ID       string
	Score    float64
	Snippet  string
	Metadata map[string]any
}

// Store is the graph bundle writer's full interface.
type Store interface {
	// IngestBundle writes every node and edge in b as one transaction.
	// Nodes are upserted by ID (last write wins on props); edges are
	// upserted by (source, rel, target) so re-ingesting the same document
	// never creates duplicate relationships.
	IngestBundle(ctx context.Context, b Bundle) error

	// GetNode returns a single node by ID, with ok=false when no node has
	// that ID.
	GetNode(ctx context.Context, id string) (Node, bool, error)

	// LexicalSearch runs a full-text query over document and block text.
	LexicalSearch(ctx context.Context, query string, limit int) ([]Hit, error)

	// EntitySearch runs a full-text query over entity names (Person,
	// Organization, Project, Place, Event).
	EntitySearch(ctx context.Context, query string, limit int) ([]Hit, error)

	// TraverseRelated returns nodes reachable in one hop from any of seedIDs,
	// used to expand an entity match into the documents that reference it.
	TraverseRelated(ctx context.Context, seedIDs []string, limit int) ([]Hit, error)

	Close() error
}
