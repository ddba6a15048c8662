// File path: internal/data/container/container.go
package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/graph"
	"github.com/caseforge/caseforge/internal/graph/memory"
	"github.com/caseforge/caseforge/internal/graph/neo4j"
	"github.com/caseforge/caseforge/internal/sqlite"
	"github.com/caseforge/caseforge/internal/vector"
)

type closer interface {
	Close() error
}

// Container wires together the persistent stores behind the service and
// exposes accessors for the API layer. The relational catalog is always
// present; the vector index is optional and env-gated; the graph store falls
// back to an in-process implementation when no endpoint is configured.
type Container struct {
	cfg Config

	catalog catalog.Store
	vector  vector.Store
	graph   graph.Client

	closers []closer
}

// New constructs a container from the provided configuration and optional
// overrides.
func New(ctx context.Context, cfg Config, opts ...Option) (*Container, error) {
	cfg = applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	settings := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	store, err := sqlite.Open(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("init catalog store: %w", err)
	}

	var vec vector.Store
	switch {
	case settings.vector != nil:
		vec = settings.vector
	case shouldEnableVector():
		client, err := vector.NewFromEnv(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init vector client: %w", err)
		}
		vec = client
	}

	var graphClient graph.Client
	switch {
	case settings.graph != nil:
		graphClient = settings.graph
	default:
		client, err := neo4j.NewFromEnv(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init graph client: %w", err)
		}
		if client != nil {
			graphClient = client
		} else {
			common.Logger().Info("container: no graph endpoint configured, using in-process graph")
			graphClient = memory.New()
		}
	}

	c := &Container{
		cfg:     cfg,
		catalog: store,
		vector:  vec,
		graph:   graphClient,
	}
	c.closers = append(c.closers, store)
	if vec != nil {
		c.closers = append(c.closers, vec)
	}
	if graphClient != nil {
		c.closers = append(c.closers, graphClient)
	}
	return c, nil
}

// Catalog exposes the authoritative relational store.
func (c *Container) Catalog() catalog.Store {
	if c == nil {
		return nil
	}
	return c.catalog
}

// Vector exposes the optional vector store.
func (c *Container) Vector() vector.Store {
	if c == nil {
		return nil
	}
	return c.vector
}

// Graph exposes the graph client.
func (c *Container) Graph() graph.Client {
	if c == nil {
		return nil
	}
	return c.graph
}

// Close releases every store in reverse construction order.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		closer := c.closers[i]
		if closer == nil {
			continue
		}
		if cerr := closer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func shouldEnableVector() bool {
	keys := []string{
		"MILVUS_CONFIG_FILE",
		"MILVUS_URI",
		"MILVUS_HOST",
		"MILVUS_PORT",
		"MILVUS_SCHEME",
		"MILVUS_COLLECTION",
		"MILVUS_TOKEN",
		"MILVUS_TIMEOUT",
	}
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}
