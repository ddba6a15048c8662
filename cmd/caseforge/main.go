// File path: cmd/caseforge/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/caseforge/caseforge/internal/api"
	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/data/container"
	"github.com/caseforge/caseforge/internal/feedback"
	"github.com/caseforge/caseforge/internal/llm"
)

func main() {
	logger := common.Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("caseforge: .env file not loaded", "error", err)
	} else {
		logger.Info("caseforge: environment loaded from .env")
	}

	addr := flag.String("addr", ":8084", "listen address")
	catalogPath := flag.String("catalog", "", "path to the SQLite catalog database")
	sweepInterval := flag.String("sweep-interval", "", "interval between feedback sweeps (e.g. 30s, 5m)")

	autoStartDefault := false
	if env := strings.TrimSpace(os.Getenv("CASEFORGE_AUTOSTART")); env != "" {
		if parsed, err := strconv.ParseBool(env); err == nil {
			autoStartDefault = parsed
		}
	}
	autoStartStores := flag.Bool("auto-start-stores", autoStartDefault, "launch configured Milvus and Neo4j sidecars")

	flag.Parse()

	logger.Info("caseforge: startup initiated", "addr", *addr)

	if *autoStartStores {
		sidecars, err := startStoreSidecars(ctx)
		if err != nil {
			logger.Error("caseforge: sidecar launch failed", "error", err)
			fmt.Println("sidecar startup error:", err)
			os.Exit(1)
		}
		defer stopStoreSidecars(context.Background(), sidecars)
	}

	cfg, err := container.LoadConfig()
	if err != nil {
		logger.Error("caseforge: config load failed", "error", err)
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*catalogPath); trimmed != "" {
		cfg.CatalogPath = trimmed
	}
	if trimmed := strings.TrimSpace(*sweepInterval); trimmed != "" {
		dur, err := time.ParseDuration(trimmed)
		if err != nil {
			logger.Error("caseforge: invalid sweep interval", "value", trimmed, "error", err)
			fmt.Println("sweep interval error:", err)
			os.Exit(1)
		}
		cfg.SweepInterval = dur
	}

	cont, err := container.New(ctx, cfg)
	if err != nil {
		logger.Error("caseforge: container initialization failed", "error", err)
		fmt.Println("container error:", err)
		os.Exit(1)
	}
	defer cont.Close()

	provider := llm.NewProvider()
	logger.Info("caseforge: llm provider ready", "provider", provider.Name())

	if vec := cont.Vector(); vec != nil {
		if vec.Available() {
			logger.Info("caseforge: vector index available", "collection", vec.Collection())
		} else {
			logger.Warn("caseforge: vector index unreachable", "collection", vec.Collection())
		}
	} else {
		logger.Info("caseforge: vector index not configured")
	}
	if g := cont.Graph(); g != nil && g.Available() {
		logger.Info("caseforge: graph store available")
	} else {
		logger.Warn("caseforge: graph store unreachable")
	}

	server, err := api.NewServer(ctx, cont, provider, nil)
	if err != nil {
		logger.Error("caseforge: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	sweeper := feedback.NewSweeper(server.FeedbackLoop(), cfg.SweepInterval)
	go sweeper.Run(ctx)

	httpServer := &http.Server{Addr: *addr, Handler: server}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("caseforge: server listening", "addr", *addr, "health", "/healthz")
		fmt.Printf("Serving on %s\n", *addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("caseforge: shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("caseforge: server stopped", "error", err)
			fmt.Println("server stopped:", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("caseforge: http shutdown", "error", err)
	}
	server.Orchestrator().Wait()
	logger.Info("caseforge: shutdown complete")
}
