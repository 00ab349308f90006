package schema

import (
	"encoding/json"
	"sort"
	"time"
)

// StepType enumerates the kinds of steps a workflow can contain.
type StepType string

const (
	StepTypeDecisionTable      StepType = "decision_table"
	StepTypeCalculation        StepType = "calculation"
	StepTypeHumanTask          StepType = "human_task"
	StepTypeClientApproval     StepType = "client_approval"
	StepTypeDocumentGeneration StepType = "document_generation"
)

// Synchronous reports whether the step type runs to completion without
// suspending the case. Human tasks and client approvals wait for an
// external completion event instead.
func (t StepType) Synchronous() bool {
	return t != StepTypeHumanTask && t != StepTypeClientApproval
}

// WorkflowDefinition is the authored, editable workflow template.
// Publishing freezes its current step graph into an immutable snapshot;
// edits after publish never affect running cases.
type WorkflowDefinition struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Category       string           `json:"category,omitempty"`
	Status         DefinitionStatus `json:"status"`
	CurrentVersion int              `json:"current_version"`
	Steps          []WorkflowStep   `json:"steps,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// WorkflowStep is one node of a definition's step graph. Successor edges are
// id references, not pointers, so loops are representable and the published
// snapshot serializes trivially.
type WorkflowStep struct {
	ID           string          `json:"id"`
	DefinitionID string          `json:"definition_id"`
	Name         string          `json:"name"`
	Type         StepType        `json:"type"`
	SortOrder    int             `json:"sort_order"`
	Config       json.RawMessage `json:"config,omitempty"`
	OnSuccess    string          `json:"on_success,omitempty"` // successor step id
	OnFailure    string          `json:"on_failure,omitempty"` // successor step id
	Required     bool            `json:"required"`
	MaxVisits    int             `json:"max_visits,omitempty"` // loop guard; 0 = engine default
}

// StepGraph is the serialized form of a definition's step set at publish time.
// It is the only graph representation case execution ever sees.
type StepGraph struct {
	Steps []WorkflowStep `json:"steps"`
}

// Step returns the step with the given id, or nil if absent. A dangling
// successor reference resolves to nil and the engine treats it as
// "no successor".
func (g *StepGraph) Step(id string) *WorkflowStep {
	for i := range g.Steps {
		if g.Steps[i].ID == id {
			return &g.Steps[i]
		}
	}
	return nil
}

// EntryStep returns the step with the lowest sort order, or nil for an
// empty graph. Sort order is an authoring hint; traversal follows edges.
func (g *StepGraph) EntryStep() *WorkflowStep {
	if len(g.Steps) == 0 {
		return nil
	}
	idx := 0
	for i := range g.Steps {
		if g.Steps[i].SortOrder < g.Steps[idx].SortOrder {
			idx = i
		}
	}
	return &g.Steps[idx]
}

// Sorted returns the steps ordered by sort order then id, for stable display.
func (g *StepGraph) Sorted() []WorkflowStep {
	out := make([]WorkflowStep, len(g.Steps))
	copy(out, g.Steps)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// --- Step configuration payloads ---

// DecisionTableConfig configures a decision_table step. Bindings map input
// column keys to jq expressions evaluated against the accumulated case
// context; a missing binding falls back to the context value under the
// column key itself.
type DecisionTableConfig struct {
	TableID  string            `json:"table_id"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// CalculationConfig configures a calculation step. Engine selects the
// expression engine ("expr" default, "cel" optional). Inputs map variable
// names to jq expressions over the case context. The result is merged into
// the context under ResultKey ("result" when empty).
type CalculationConfig struct {
	Expression string            `json:"expression"`
	Engine     string            `json:"engine,omitempty"`
	Inputs     map[string]string `json:"inputs,omitempty"`
	ResultKey  string            `json:"result_key,omitempty"`
}

// HumanTaskConfig configures a human_task step.
type HumanTaskConfig struct {
	Title    string `json:"title"`
	Assignee string `json:"assignee,omitempty"`
	DueIn    string `json:"due_in,omitempty"` // duration, e.g. "72h"
}

// ClientApprovalConfig configures a client_approval step.
type ClientApprovalConfig struct {
	Message   string `json:"message,omitempty"`
	ExpiresIn string `json:"expires_in,omitempty"` // duration; "168h" default
}

// DocumentGenerationConfig configures a document_generation step. Inputs map
// render variables to jq expressions over the case context.
type DocumentGenerationConfig struct {
	TemplateID string            `json:"template_id"`
	Inputs     map[string]string `json:"inputs,omitempty"`
}
