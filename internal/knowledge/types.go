// File path: internal/knowledge/types.go
package knowledge

import "strings"

// Kind classifies a knowledge unit. The set is closed; persistence and the
// graph schema both key off these values.
type Kind string

const (
	KindTestPoint Kind = "TestPoint"
	KindScenario  Kind = "Scenario"
	KindRisk      Kind = "Risk"
)

// Valid reports whether k is one of the closed kind values.
func (k Kind) Valid() bool {
	switch k {
	case KindTestPoint, KindScenario, KindRisk:
		return true
	}
	return false
}

// Label returns the graph node label for the kind.
func (k Kind) Label() string { return string(k) }

// KindFromCategory maps a generated test-point category onto a kind.
// Unknown categories fall back to TestPoint.
func KindFromCategory(category string) Kind {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "abnormal":
		return KindRisk
	case "boundary":
		return KindScenario
	default:
		return KindTestPoint
	}
}

// KindFromLabel parses an extraction node type leniently. The second return
// is false when the label was not recognised and the fallback applied.
func KindFromLabel(label string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "testpoint", "test_point":
		return KindTestPoint, true
	case "scenario":
		return KindScenario, true
	case "risk":
		return KindRisk, true
	}
	return KindTestPoint, false
}

// Source records where a knowledge unit came from.
type Source string

const (
	SourceRequirement   Source = "requirement"
	SourceDefect        Source = "defect"
	SourceConfirmedCase Source = "confirmed_case"
)

// CaseStatus is the lifecycle state of a test case.
type CaseStatus string

const (
	CaseDraft     CaseStatus = "draft"
	CaseConfirmed CaseStatus = "confirmed"
	CaseExecuted  CaseStatus = "executed"
)

// Creator marks whether a test case was generated or written by hand.
type Creator string

const (
	CreatorAI     Creator = "ai"
	CreatorManual Creator = "manual"
)

// TaskStatus is the generation task state machine. Transitions are
// INIT -> RUNNING -> DONE or FAILED; terminal states are immutable.
type TaskStatus string

const (
	TaskInit    TaskStatus = "INIT"
	TaskRunning TaskStatus = "RUNNING"
	TaskDone    TaskStatus = "DONE"
	TaskFailed  TaskStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// Graph relationship types used across the service.
const (
	RelDerive    = "DERIVE"
	RelCoveredBy = "COVERED_BY"
	RelTriggered = "TRIGGERED"
)
