// File path: internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/caseforge/caseforge/internal/agent"
	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/data/container"
	"github.com/caseforge/caseforge/internal/extraction"
	"github.com/caseforge/caseforge/internal/feedback"
	"github.com/caseforge/caseforge/internal/generation"
	"github.com/caseforge/caseforge/internal/graph"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/retrieval"
	"github.com/caseforge/caseforge/internal/vector"
)

type Server struct {
	router   chi.Router
	store    catalog.Store
	vector   vector.Store
	graph    graph.Client
	provider llm.Provider

	engine       *retrieval.Engine
	pipeline     *extraction.Pipeline
	orchestrator *generation.Orchestrator
	loop         *feedback.Loop
	analyzer     *agent.Analyzer

	cfg Config
}

// Config controls API defaults for paging and retrieval.
type Config struct {
	SearchLimit int
	GraphDepth  int
	BatchLimit  int
}

// DefaultConfig returns the standard configuration used when no overrides
// are provided.
func DefaultConfig() Config {
	return Config{
		SearchLimit: 10,
		GraphDepth:  2,
		BatchLimit:  100,
	}
}

// Merge overlays positive values from the override onto the base
// configuration.
func (c Config) Merge(override Config) Config {
	result := c
	if override.SearchLimit > 0 {
		result.SearchLimit = override.SearchLimit
	}
	if override.GraphDepth > 0 {
		result.GraphDepth = override.GraphDepth
	}
	if override.BatchLimit > 0 {
		result.BatchLimit = override.BatchLimit
	}
	return result
}

func NewServer(ctx context.Context, cont *container.Container, provider llm.Provider, cfg *Config) (*Server, error) {
	logger := common.Logger()
	if cont == nil {
		return nil, fmt.Errorf("container required")
	}
	store := cont.Catalog()
	if store == nil {
		return nil, fmt.Errorf("catalog store unavailable")
	}
	vectorClient := cont.Vector()
	graphClient := cont.Graph()
	configuration := DefaultConfig()
	if cfg != nil {
		configuration = configuration.Merge(*cfg)
	}
	providerName := "unknown"
	if provider != nil {
		providerName = provider.Name()
	}
	logger.Info(
		"api: building server",
		"provider", providerName,
		"vector_available", vectorClient != nil && vectorClient.Available(),
		"graph_available", graphClient != nil && graphClient.Available(),
	)

	engine := retrieval.NewEngine(provider, vectorClient, graphClient)
	srv := &Server{
		router:       chi.NewRouter(),
		store:        store,
		vector:       vectorClient,
		graph:        graphClient,
		provider:     provider,
		engine:       engine,
		pipeline:     extraction.NewPipeline(provider, store, vectorClient, graphClient),
		orchestrator: generation.NewOrchestrator(store, engine, provider),
		loop:         feedback.NewLoop(store, vectorClient, graphClient, provider),
		analyzer:     agent.NewAnalyzer(provider, engine),
		cfg:          configuration,
	}
	srv.routes()
	logger.Info("api: server ready")
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Orchestrator exposes the generation orchestrator so the caller can drain
// in-flight tasks on shutdown.
func (s *Server) Orchestrator() *generation.Orchestrator {
	if s == nil {
		return nil
	}
	return s.orchestrator
}

// FeedbackLoop exposes the feedback loop for the background sweeper.
func (s *Server) FeedbackLoop() *feedback.Loop {
	if s == nil {
		return nil
	}
	return s.loop
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/v1/requirements", s.handleRequirementCreate)
	s.router.Get("/v1/requirements", s.handleRequirementList)
	s.router.Get("/v1/requirements/{id}", s.handleRequirementGet)
	s.router.Post("/v1/requirements/{id}/extract", s.handleExtract)
	s.router.Post("/v1/requirements/{id}/intents", s.handleIntents)
	s.router.Post("/v1/requirements/{id}/generate", s.handleGenerate)

	s.router.Get("/v1/knowledge/search", s.handleKnowledgeSearch)
	s.router.Get("/v1/knowledge", s.handleKnowledgeList)
	s.router.Get("/v1/knowledge/{id}", s.handleKnowledgeGet)

	s.router.Get("/v1/tasks/{id}", s.handleTaskStatus)

	s.router.Post("/v1/testcases", s.handleCaseCreate)
	s.router.Get("/v1/testcases", s.handleCaseList)
	s.router.Get("/v1/testcases/{id}", s.handleCaseGet)
	s.router.Post("/v1/testcases/{id}/confirm", s.handleCaseConfirm)
	s.router.Post("/v1/testcases/{id}/execute", s.handleCaseExecute)

	s.router.Post("/v1/defects", s.handleDefectCreate)
	s.router.Get("/v1/defects/{id}", s.handleDefectGet)

	s.router.Post("/v1/feedback/batch", s.handleFeedbackBatch)
	s.router.Post("/v1/feedback/reconcile", s.handleFeedbackReconcile)

	s.router.Get("/v1/statistics/overview", s.handleStatsOverview)
	s.router.Get("/v1/statistics/generation", s.handleStatsGeneration)
	s.router.Get("/v1/statistics/knowledge", s.handleStatsKnowledge)
	s.router.Get("/v1/logs", s.handleLogs)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreError maps catalog sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, catalog.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, llm.ErrMalformedOutput):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
