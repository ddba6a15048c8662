// File path: internal/llm/prompts.go
package llm

import "fmt"

// Prompt templates used across extraction, generation and analysis. Every
// template pins the reply to a JSON shape the callers decode with DecodeJSON.

const knowledgeExtractionTemplate = `You are a senior test analyst. Extract test knowledge from the requirement below.

Return ONLY a JSON object of this exact shape:
{
  "nodes": [
    {"id": "n1", "type": "TestPoint|Scenario|Risk", "content": "...", "confidence": 0.0}
  ],
  "edges": [
    {"source": "n1", "target": "n2", "relation": "RELATES_TO"}
  ]
}

Rules:
- "id" values are temporary labels used only to wire the edges in this reply.
- "type" must be one of TestPoint, Scenario, Risk.
- "confidence" is your certainty in [0, 1].
- Relations must be upper snake case.

Requirement:
%s`

const testPointTemplate = `You are a senior test designer. Derive test points for the requirement below, using the related knowledge as context.

Return ONLY a JSON object of this exact shape:
{
  "test_points": [
    {"category": "normal|abnormal|boundary", "description": "..."}
  ]
}

Cover normal flows, abnormal flows and boundary conditions.

Requirement:
%s

Related knowledge:
%s`

const testCaseTemplate = `You are a senior test engineer. Write one executable test case for the test point below.

Return ONLY a JSON object of this exact shape:
{
  "title": "...",
  "precondition": "...",
  "steps": ["step 1", "step 2"],
  "expected": "..."
}

Test point:
%s

Requirement context:
%s`

const intentTemplate = `You are a requirement analyst. Identify the distinct testable intents in the requirement below.

Return ONLY a JSON object of this exact shape:
{
  "intents": [
    {"description": "...", "scope": "..."}
  ]
}

Requirement:
%s`

// KnowledgeExtractionPrompt renders the extraction prompt for requirement text.
func KnowledgeExtractionPrompt(text string) string {
	return fmt.Sprintf(knowledgeExtractionTemplate, text)
}

// TestPointPrompt renders the Phase A generation prompt.
func TestPointPrompt(requirement, context string) string {
	if context == "" {
		context = "(none)"
	}
	return fmt.Sprintf(testPointTemplate, requirement, context)
}

// TestCasePrompt renders the Phase B generation prompt.
func TestCasePrompt(testPoint, requirement string) string {
	return fmt.Sprintf(testCaseTemplate, testPoint, requirement)
}

// IntentPrompt renders the intent analysis prompt.
func IntentPrompt(requirement string) string {
	return fmt.Sprintf(intentTemplate, requirement)
}
