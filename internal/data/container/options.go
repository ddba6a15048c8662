// File path: internal/data/container/options.go
package container

import (
	"github.com/caseforge/caseforge/internal/graph"
	"github.com/caseforge/caseforge/internal/vector"
)

type Option func(*options)

type options struct {
	vector vector.Store
	graph  graph.Client
}

// WithVectorStore injects a vector store implementation. Primarily used in
// tests.
func WithVectorStore(store vector.Store) Option {
	return func(o *options) {
		o.vector = store
	}
}

// WithGraphClient injects a graph client implementation.
func WithGraphClient(client graph.Client) Option {
	return func(o *options) {
		o.graph = client
	}
}
