// File path: internal/graph/memory/service.go
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/caseforge/caseforge/internal/graph"
)

// Service is an in-memory graph.Client. It backs the service when no Neo4j
// endpoint is configured and doubles as the fake in package tests. Traversal
// semantics match the Neo4j client: undirected expansion up to depth,
// deduplicated nodes and edges.
type Service struct {
	mu    sync.RWMutex
	nodes map[string]graph.Node
	edges map[graph.Edge]struct{}
}

var _ graph.Client = (*Service)(nil)

func New() *Service {
	return &Service{
		nodes: make(map[string]graph.Node),
		edges: make(map[graph.Edge]struct{}),
	}
}

func (s *Service) Available() bool { return s != nil }

func (s *Service) EnsureSchema(ctx context.Context) error { return nil }

func (s *Service) Close() error { return nil }

func (s *Service) UpsertNode(ctx context.Context, label string, properties map[string]interface{}) error {
	if err := graph.ValidIdentifier(label); err != nil {
		return err
	}
	id, _ := properties["id"].(string)
	if strings.TrimSpace(id) == "" {
		return errors.New("memory: node id required")
	}
	props := make(map[string]interface{}, len(properties))
	for key, value := range properties {
		props[key] = value
	}
	s.mu.Lock()
	s.nodes[id] = graph.Node{ID: id, Label: label, Properties: props}
	s.mu.Unlock()
	return nil
}

func (s *Service) UpsertRelationship(ctx context.Context, fromLabel, fromID, toLabel, toID, relType string) error {
	for _, ident := range []string{fromLabel, toLabel, relType} {
		if err := graph.ValidIdentifier(ident); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// MERGE over MATCH semantics: a missing endpoint merges nothing.
	if _, ok := s.nodes[fromID]; !ok {
		return nil
	}
	if _, ok := s.nodes[toID]; !ok {
		return nil
	}
	s.edges[graph.Edge{Source: fromID, Type: relType, Target: toID}] = struct{}{}
	return nil
}

func (s *Service) ExpandSubgraph(ctx context.Context, seedIDs []string, depth int) (graph.Subgraph, error) {
	var sub graph.Subgraph
	if len(seedIDs) == 0 {
		return sub, nil
	}
	if depth < 1 {
		return sub, errors.New("memory: expand depth out of range")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := make(map[string]struct{})
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := s.nodes[id]; ok {
			if _, seen := visited[id]; !seen {
				visited[id] = struct{}{}
				frontier = append(frontier, id)
			}
		}
	}
	for step := 0; step < depth && len(frontier) > 0; step++ {
		next := make([]string, 0)
		for edge := range s.edges {
			for _, id := range frontier {
				var neighbor string
				switch id {
				case edge.Source:
					neighbor = edge.Target
				case edge.Target:
					neighbor = edge.Source
				default:
					continue
				}
				if _, seen := visited[neighbor]; !seen {
					visited[neighbor] = struct{}{}
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}

	nodes := make([]graph.Node, 0, len(visited))
	for id := range visited {
		nodes = append(nodes, s.nodes[id])
	}
	edges := make([]graph.Edge, 0)
	for edge := range s.edges {
		_, srcIn := visited[edge.Source]
		_, dstIn := visited[edge.Target]
		if srcIn && dstIn {
			edges = append(edges, edge)
		}
	}
	sub.Merge(nodes, edges)
	sub.Sort()
	return sub, nil
}

// NodeCount reports the number of stored nodes.
func (s *Service) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// HasEdge reports whether the exact edge exists.
func (s *Service) HasEdge(source, relType, target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[graph.Edge{Source: source, Type: relType, Target: target}]
	return ok
}
