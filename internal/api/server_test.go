// File path: internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/data/container"
	"github.com/caseforge/caseforge/internal/generation"
	"github.com/caseforge/caseforge/internal/graph/memory"
	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
}

func (s *scriptedProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *scriptedProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i := range input {
		vectors[i] = []float32{0.3, 0.7}
	}
	return vectors, nil
}

func (s *scriptedProvider) Name() string { return "scripted" }

func newTestServer(t *testing.T, replies ...string) *Server {
	t.Helper()
	ctx := context.Background()
	cont, err := container.New(ctx,
		container.Config{CatalogPath: filepath.Join(t.TempDir(), "catalog.db")},
		container.WithGraphClient(memory.New()))
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	t.Cleanup(func() { cont.Close() })
	srv, err := NewServer(ctx, cont, &scriptedProvider{replies: replies}, nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func createRequirement(t *testing.T, srv *Server) catalog.Requirement {
	t.Helper()
	rr := doJSON(t, srv, http.MethodPost, "/v1/requirements", map[string]string{
		"title":   "transfers",
		"content": "users can transfer funds between own accounts",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create requirement: %d %s", rr.Code, rr.Body.String())
	}
	var record catalog.Requirement
	if err := json.NewDecoder(rr.Body).Decode(&record); err != nil {
		t.Fatalf("decode requirement: %v", err)
	}
	return record
}

func TestRequirementLifecycle(t *testing.T) {
	srv := newTestServer(t)
	record := createRequirement(t, srv)

	rr := doJSON(t, srv, http.MethodGet, "/v1/requirements/"+record.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get requirement: %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/v1/requirements", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list requirements: %d", rr.Code)
	}
	var listing struct {
		Requirements []catalog.Requirement `json:"requirements"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Requirements) != 1 {
		t.Fatalf("expected 1 requirement, got %d", len(listing.Requirements))
	}

	rr = doJSON(t, srv, http.MethodGet, "/v1/requirements/REQ-MISSING1", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/v1/requirements", map[string]string{"title": "only title"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExtractEndpoint(t *testing.T) {
	srv := newTestServer(t, `{
                "nodes": [
                        {"id": "n1", "type": "TestPoint", "content": "transfer within balance", "confidence": 0.9},
                        {"id": "n2", "type": "Risk", "content": "overdraft race", "confidence": 0.6}
                ],
                "edges": [{"source": "n1", "target": "n2", "relation": "RELATES_TO"}]
        }`)
	record := createRequirement(t, srv)

	rr := doJSON(t, srv, http.MethodPost, "/v1/requirements/"+record.ID+"/extract", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("extract: %d %s", rr.Code, rr.Body.String())
	}
	var summary struct {
		ProcessedNodes int `json:"processed_nodes"`
		ProcessedEdges int `json:"processed_edges"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.ProcessedNodes != 2 || summary.ProcessedEdges != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rr = doJSON(t, srv, http.MethodGet, "/v1/knowledge", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list knowledge: %d", rr.Code)
	}
	var listing struct {
		Units []catalog.KnowledgeUnit `json:"units"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&listing); err != nil {
		t.Fatalf("decode units: %v", err)
	}
	if len(listing.Units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(listing.Units))
	}
}

func TestExtractMalformedReplyIsBadGateway(t *testing.T) {
	srv := newTestServer(t, "that requirement covers money movement")
	record := createRequirement(t, srv)
	rr := doJSON(t, srv, http.MethodPost, "/v1/requirements/"+record.ID+"/extract", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	srv := newTestServer(t,
		`{"test_points": [{"category": "normal", "description": "transfer succeeds"}]}`,
		`{"title": "verify transfer", "precondition": "funded", "steps": ["submit"], "expected": "ok"}`)
	record := createRequirement(t, srv)

	rr := doJSON(t, srv, http.MethodPost, "/v1/requirements/"+record.ID+"/generate", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("generate: %d %s", rr.Code, rr.Body.String())
	}
	var accepted struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode task id: %v", err)
	}
	srv.Orchestrator().Wait()

	rr = doJSON(t, srv, http.MethodGet, "/v1/tasks/"+accepted.TaskID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("task status: %d", rr.Code)
	}
	var view generation.TaskView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Task.Status != knowledge.TaskDone {
		t.Fatalf("expected DONE, got %s (%s)", view.Task.Status, view.Task.ErrorMessage)
	}
	if len(view.Cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(view.Cases))
	}
}

func TestCaseConfirmAndExecute(t *testing.T) {
	srv := newTestServer(t)
	record := createRequirement(t, srv)

	rr := doJSON(t, srv, http.MethodPost, "/v1/testcases", map[string]string{
		"requirement_id": record.ID,
		"title":          "manual transfer check",
		"expected":       "balance updated",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create case: %d %s", rr.Code, rr.Body.String())
	}
	var tc catalog.TestCase
	if err := json.NewDecoder(rr.Body).Decode(&tc); err != nil {
		t.Fatalf("decode case: %v", err)
	}

	rr = doJSON(t, srv, http.MethodPost, "/v1/testcases/"+tc.ID+"/confirm", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rr.Code, rr.Body.String())
	}
	var result struct {
		Outcome string `json:"outcome"`
		UnitID  string `json:"unit_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Outcome != "created" || result.UnitID == "" {
		t.Fatalf("unexpected feedback result: %+v", result)
	}

	rr = doJSON(t, srv, http.MethodPost, "/v1/testcases/"+tc.ID+"/execute", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("execute: %d", rr.Code)
	}

	// Executed is terminal for the confirm transition.
	rr = doJSON(t, srv, http.MethodPost, "/v1/testcases/"+tc.ID+"/confirm", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestDefectEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodPost, "/v1/defects", map[string]string{
		"title":      "double spend on concurrent transfer",
		"phenomenon": "same funds moved twice",
		"severity":   "critical",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create defect: %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Defect   catalog.Defect `json:"defect"`
		Feedback struct {
			UnitID  string `json:"unit_id"`
			Outcome string `json:"outcome"`
		} `json:"feedback"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Feedback.Outcome != "created" || created.Feedback.UnitID == "" {
		t.Fatalf("defect feedback missing: %+v", created)
	}

	rr = doJSON(t, srv, http.MethodGet, "/v1/knowledge/"+created.Feedback.UnitID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get unit: %d", rr.Code)
	}
	var unit catalog.KnowledgeUnit
	if err := json.NewDecoder(rr.Body).Decode(&unit); err != nil {
		t.Fatalf("decode unit: %v", err)
	}
	if unit.Kind != knowledge.KindRisk || unit.Source != knowledge.SourceDefect {
		t.Fatalf("unexpected unit: %+v", unit)
	}
}

func TestKnowledgeSearchWithoutVectorIndex(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/v1/knowledge/search?q=transfer", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without vector index, got %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/v1/knowledge/search", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without query, got %d", rr.Code)
	}
}

func TestStatsAndLogs(t *testing.T) {
	srv := newTestServer(t)
	createRequirement(t, srv)

	rr := doJSON(t, srv, http.MethodGet, "/v1/statistics/overview", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("overview: %d", rr.Code)
	}
	var overview struct {
		Overview catalog.OverviewStats `json:"overview"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&overview); err != nil {
		t.Fatalf("decode overview: %v", err)
	}
	if overview.Overview.Requirements != 1 {
		t.Fatalf("unexpected overview: %+v", overview.Overview)
	}

	rr = doJSON(t, srv, http.MethodGet, "/v1/statistics/knowledge", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("knowledge stats: %d", rr.Code)
	}
	rr = doJSON(t, srv, http.MethodGet, "/v1/statistics/generation?days=7", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("generation stats: %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/v1/logs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logs: %d", rr.Code)
	}
	var logs struct {
		Entries []struct {
			Message string `json:"message"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&logs); err != nil {
		t.Fatalf("decode logs: %v", err)
	}

	rr = doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
}
