// File path: internal/data/container/container_test.go
package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/caseforge/caseforge/internal/graph/memory"
)

func TestNewContainerDefaults(t *testing.T) {
	cfg := Config{CatalogPath: filepath.Join(t.TempDir(), "catalog.db")}
	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer c.Close()

	if c.Catalog() == nil {
		t.Fatalf("catalog must always be wired")
	}
	if c.Vector() != nil {
		t.Fatalf("vector store must stay disabled without configuration")
	}
	if c.Graph() == nil {
		t.Fatalf("graph must fall back to the in-process client")
	}
	if !c.Graph().Available() {
		t.Fatalf("fallback graph must be available")
	}
}

func TestContainerOverrides(t *testing.T) {
	g := memory.New()
	cfg := Config{CatalogPath: filepath.Join(t.TempDir(), "catalog.db")}
	c, err := New(context.Background(), cfg, WithGraphClient(g))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer c.Close()
	if c.Graph() != g {
		t.Fatalf("graph override not honoured")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := applyDefaults(Config{})
	if cfg.CatalogPath == "" {
		t.Fatalf("catalog path default missing")
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("unexpected sweep interval: %v", cfg.SweepInterval)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
