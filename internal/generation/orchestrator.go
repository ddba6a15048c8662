// File path: internal/generation/orchestrator.go
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/retrieval"
)

const (
	retrievalTopK  = 10
	retrievalDepth = 2
	// taskTimeout bounds one generation run end to end.
	taskTimeout = 5 * time.Minute
)

// TaskView is the full status answer for one task: the state machine record
// plus everything the run produced so far.
type TaskView struct {
	Task    catalog.GenerationTask     `json:"task"`
	Results []catalog.GenerationResult `json:"results"`
	Cases   []catalog.TestCase         `json:"cases"`
}

// Orchestrator runs asynchronous two-phase test generation. Phase A derives
// test points from the requirement plus retrieved knowledge; Phase B writes
// one draft case per point. Failures mark the task FAILED and keep whatever
// was already persisted.
type Orchestrator struct {
	store    catalog.Store
	engine   *retrieval.Engine
	provider llm.Provider
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewOrchestrator(store catalog.Store, engine *retrieval.Engine, provider llm.Provider) *Orchestrator {
	return &Orchestrator{
		store:    store,
		engine:   engine,
		provider: provider,
		logger:   common.Logger(),
	}
}

type testPointsPayload struct {
	TestPoints []struct {
		Category    string `json:"category"`
		Description string `json:"description"`
	} `json:"test_points"`
}

type casePayload struct {
	Title        string   `json:"title"`
	Precondition string   `json:"precondition"`
	Steps        []string `json:"steps"`
	Expected     string   `json:"expected"`
}

// StartTask validates the requirement, creates an INIT task and starts the
// run in the background. The returned id is immediately pollable.
func (o *Orchestrator) StartTask(ctx context.Context, requirementID string) (string, error) {
	req, err := o.store.GetRequirement(ctx, requirementID)
	if err != nil {
		return "", fmt.Errorf("generation: %w", err)
	}
	task := catalog.GenerationTask{
		ID:            knowledge.NewTaskID(),
		RequirementID: req.ID,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("generation: create task: %w", err)
	}
	o.logger.Info("generation: task accepted", "task", task.ID, "requirement", req.ID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		o.run(runCtx, task.ID, req)
	}()
	return task.ID, nil
}

// TaskStatus returns the task record with its results and cases.
func (o *Orchestrator) TaskStatus(ctx context.Context, taskID string) (TaskView, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	results, err := o.store.ListGenerationResults(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	cases, err := o.store.ListTestCases(ctx, taskID, 500, 0)
	if err != nil {
		return TaskView{}, err
	}
	return TaskView{Task: task, Results: results, Cases: cases}, nil
}

// Wait blocks until every in-flight run has finished. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, taskID string, req catalog.Requirement) {
	if err := o.store.MarkTaskRunning(ctx, taskID); err != nil {
		o.logger.Warn("generation: cannot start task", "task", taskID, "error", err)
		return
	}
	if err := o.runPhases(ctx, taskID, req); err != nil {
		o.logger.Warn("generation: task failed", "task", taskID, "error", err)
		if failErr := o.store.FailTask(ctx, taskID, err.Error()); failErr != nil {
			o.logger.Warn("generation: record failure", "task", taskID, "error", failErr)
		}
		return
	}
	if err := o.store.CompleteTask(ctx, taskID); err != nil {
		o.logger.Warn("generation: complete task", "task", taskID, "error", err)
		return
	}
	o.logger.Info("generation: task done", "task", taskID)
}

func (o *Orchestrator) runPhases(ctx context.Context, taskID string, req catalog.Requirement) error {
	o.progress(ctx, taskID, 10)

	related := o.retrieveContext(ctx, req)
	o.progress(ctx, taskID, 30)

	points, err := o.deriveTestPoints(ctx, req, related)
	if err != nil {
		return err
	}

	// Phase A: every test point is committed before any case generation.
	units := make([]catalog.KnowledgeUnit, 0, len(points))
	for _, point := range points {
		unit := catalog.KnowledgeUnit{
			ID:         knowledge.NewUnitID(),
			Kind:       knowledge.KindFromCategory(point.category),
			Content:    point.description,
			Confidence: 0.8,
			Source:     knowledge.SourceRequirement,
		}
		if err := o.store.CreateKnowledgeUnit(ctx, unit); err != nil {
			return fmt.Errorf("persist test point: %w", err)
		}
		units = append(units, unit)
	}
	o.progress(ctx, taskID, 50)

	// Phase B: one draft case per committed unit.
	for i, unit := range units {
		if err := o.writeCase(ctx, taskID, req, unit); err != nil {
			return err
		}
		o.progress(ctx, taskID, 50+(50*(i+1))/len(units))
	}
	return nil
}

// retrieveContext pulls related knowledge for the prompt. Retrieval trouble
// degrades to an empty context, it never fails the task.
func (o *Orchestrator) retrieveContext(ctx context.Context, req catalog.Requirement) string {
	if o.engine == nil {
		return ""
	}
	hits, err := o.engine.Search(ctx, req.Content, retrievalTopK, retrievalDepth)
	if err != nil {
		o.logger.Warn("generation: retrieval degraded", "requirement", req.ID, "error", err)
		return ""
	}
	lines := make([]string, 0, len(hits))
	for _, hit := range hits {
		lines = append(lines, fmt.Sprintf("- [%s] %s", hit.Kind, hit.Content))
	}
	return strings.Join(lines, "\n")
}

type testPoint struct {
	category    string
	description string
}

func (o *Orchestrator) deriveTestPoints(ctx context.Context, req catalog.Requirement, related string) ([]testPoint, error) {
	raw, err := o.provider.Chat(ctx, []llm.Message{
		{Role: "user", Content: llm.TestPointPrompt(req.Content, related)},
	})
	if err != nil {
		return nil, fmt.Errorf("test point call: %w", err)
	}
	var payload testPointsPayload
	if err := llm.DecodeJSON(raw, &payload); err != nil {
		return nil, fmt.Errorf("test point reply: %w", err)
	}
	points := make([]testPoint, 0, len(payload.TestPoints))
	for _, p := range payload.TestPoints {
		description := strings.TrimSpace(p.Description)
		if description == "" {
			continue
		}
		points = append(points, testPoint{category: p.Category, description: description})
	}
	if len(points) == 0 {
		return nil, errors.New("model returned no test points")
	}
	return points, nil
}

func (o *Orchestrator) writeCase(ctx context.Context, taskID string, req catalog.Requirement, unit catalog.KnowledgeUnit) error {
	raw, err := o.provider.Chat(ctx, []llm.Message{
		{Role: "user", Content: llm.TestCasePrompt(unit.Content, req.Content)},
	})
	if err != nil {
		return fmt.Errorf("case call for %s: %w", unit.ID, err)
	}
	result := catalog.GenerationResult{TaskID: taskID, UnitID: unit.ID, Content: raw}
	if err := o.store.CreateGenerationResult(ctx, result); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	var payload casePayload
	if err := llm.DecodeJSON(raw, &payload); err != nil {
		return fmt.Errorf("case reply for %s: %w", unit.ID, err)
	}
	if strings.TrimSpace(payload.Title) == "" {
		payload.Title = unit.Content
	}
	tc := catalog.TestCase{
		ID:            knowledge.NewCaseID(),
		RequirementID: req.ID,
		TestPointID:   unit.ID,
		Title:         payload.Title,
		Precondition:  payload.Precondition,
		Steps:         strings.Join(payload.Steps, "\n"),
		Expected:      payload.Expected,
		Status:        knowledge.CaseDraft,
		CreatedBy:     knowledge.CreatorAI,
	}
	if err := o.store.CreateTestCase(ctx, tc); err != nil {
		return fmt.Errorf("persist case: %w", err)
	}
	return nil
}

// progress raises the task's progress checkpoint. Guarded in the store, so a
// failed write is only logged.
func (o *Orchestrator) progress(ctx context.Context, taskID string, value int) {
	if err := o.store.UpdateTaskProgress(ctx, taskID, value); err != nil {
		o.logger.Warn("generation: progress write failed", "task", taskID, "error", err)
	}
}
