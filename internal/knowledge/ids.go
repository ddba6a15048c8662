// File path: internal/knowledge/ids.go
package knowledge

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Ids are minted once, in the relational store's write path, and the same
// value is used as the vector primary key and the graph node id. Nothing
// downstream derives identity from the prefix; it exists for operators
// reading logs.

func newID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(raw[:8]))
}

// NewUnitID mints a knowledge unit id.
func NewUnitID() string { return newID("K") }

// NewCaseID mints a test case id.
func NewCaseID() string { return newID("TC") }

// NewTaskID mints a generation task id.
func NewTaskID() string { return newID("GT") }

// NewDefectID mints a defect id.
func NewDefectID() string { return newID("DF") }

// NewRequirementID mints a requirement id.
func NewRequirementID() string { return newID("REQ") }
