// Package memory defines the Memory Store collaborator interface (§4.5 of
// the spec): a Put/Query surface over a vector store for session summaries,
// named but not implemented by the coaching core per §1 (the backing
// similarity store is an external collaborator). internal/memory/mongo
// provides the one concrete implementation this module ships.
package memory

import "context"

// Item is one memory to persist, produced by the Coaching Pipeline's
// Reflect stage.
type Item struct {
	Content    string
	Tags       []string
	Importance int
}

// Memory is a single stored memory as returned by AddMemories, with its
// assigned ID.
type Memory struct {
	ID         string
	Content    string
	Tags       []string
	Importance int
	SessionID  uint64
	Project    string
	CreatedAt  string
}

// QueryOptions configures a similarity Query.
type QueryOptions struct {
	QueryText string
	// NResults caps the number of results returned; defaults to 10 when <= 0.
	NResults int
	// Project restricts results to memories stored under this project path.
	Project string
}

// Result is one Query match, ordered ascending by Distance (closest first).
type Result struct {
	ID       string
	Content  string
	Distance float64
	Metadata map[string]any
}

// Store is the vector-backed Memory Store interface, per §4.5.
type Store interface {
	// AddMemories persists items for sessionID/project, assigning each a
	// stable ID of the form "mem_{sessionID}_{index}" (0-based).
	AddMemories(ctx context.Context, items []Item, sessionID uint64, project string) ([]Memory, error)
	// Query runs a similarity search, optionally restricted to project,
	// returning matches sorted ascending by distance.
	Query(ctx context.Context, opts QueryOptions) ([]Result, error)
}
