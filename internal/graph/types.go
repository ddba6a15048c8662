// File path: internal/graph/types.go
package graph

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// Node is one graph node keyed by the catalog id it mirrors.
type Node struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Edge is one typed relationship between two node ids.
type Edge struct {
	Source string `json:"source"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

// Subgraph is the deduplicated result of a batched expansion. Nodes are
// unique by id, edges by (source, type, target).
type Subgraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Merge folds another node and edge set into the subgraph, preserving the
// uniqueness invariants.
func (s *Subgraph) Merge(nodes []Node, edges []Edge) {
	seenNodes := make(map[string]struct{}, len(s.Nodes))
	for _, node := range s.Nodes {
		seenNodes[node.ID] = struct{}{}
	}
	for _, node := range nodes {
		if node.ID == "" {
			continue
		}
		if _, dup := seenNodes[node.ID]; dup {
			continue
		}
		seenNodes[node.ID] = struct{}{}
		s.Nodes = append(s.Nodes, node)
	}
	seenEdges := make(map[Edge]struct{}, len(s.Edges))
	for _, edge := range s.Edges {
		seenEdges[edge] = struct{}{}
	}
	for _, edge := range edges {
		if edge.Source == "" || edge.Target == "" {
			continue
		}
		if _, dup := seenEdges[edge]; dup {
			continue
		}
		seenEdges[edge] = struct{}{}
		s.Edges = append(s.Edges, edge)
	}
}

// Sort orders nodes by id and edges by (source, type, target) so expansion
// output is deterministic regardless of store iteration order.
func (s *Subgraph) Sort() {
	sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].ID < s.Nodes[j].ID })
	sort.Slice(s.Edges, func(i, j int) bool {
		a, b := s.Edges[i], s.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Target < b.Target
	})
}

// Client is the graph store boundary. Node and relationship writes are
// idempotent merges keyed on id.
type Client interface {
	// Available reports whether the backend is reachable and ready.
	Available() bool
	// EnsureSchema guarantees id uniqueness constraints for the labels the
	// service writes.
	EnsureSchema(ctx context.Context) error
	// UpsertNode merges a node. Properties must include the id.
	UpsertNode(ctx context.Context, label string, properties map[string]interface{}) error
	// UpsertRelationship merges a typed edge between two existing nodes.
	UpsertRelationship(ctx context.Context, fromLabel, fromID, toLabel, toID, relType string) error
	// ExpandSubgraph returns the combined neighborhood of all seed ids up to
	// the given depth in a single call.
	ExpandSubgraph(ctx context.Context, seedIDs []string, depth int) (Subgraph, error)
	// Close releases resources associated with the client.
	Close() error
}

// Labels and relationship types are interpolated into queries, so they are
// restricted to a conservative identifier shape.
var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidIdentifier validates a label or relationship type before it is used
// in a query text.
func ValidIdentifier(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("graph: invalid identifier %q", name)
	}
	return nil
}
