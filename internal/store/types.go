package store

import (
	"encoding/json"
	"time"

	"github.com/taxops/caseflow/pkg/schema"
)

// VersionSnapshot is the immutable freeze of a definition's step graph taken
// at publish time. Exactly one snapshot per definition is active at a time.
type VersionSnapshot struct {
	ID           string           `json:"id"`
	DefinitionID string           `json:"definition_id"`
	Version      int              `json:"version"`
	Graph        schema.StepGraph `json:"graph"`
	Active       bool             `json:"active"`
	PublishedBy  string           `json:"published_by"`
	PublishedAt  time.Time        `json:"published_at"`
}

// CaseWorkflow is one running execution of a snapshot against a case.
// The snapshot binding is fixed at creation and never changes.
type CaseWorkflow struct {
	ID            string            `json:"id"`
	CaseRef       string            `json:"case_ref"`
	DefinitionID  string            `json:"definition_id"`
	SnapshotID    string            `json:"snapshot_id"`
	Version       int               `json:"version"`
	Status        schema.CaseStatus `json:"status"`
	CurrentStepID string            `json:"current_step_id,omitempty"`
	Context       json.RawMessage   `json:"context,omitempty"` // accumulated step outputs + start inputs
	StartedBy     string            `json:"started_by"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// StepExecution is one record of a single step's run within a case workflow.
// Re-entering a step creates a new record; prior ones are never mutated.
type StepExecution struct {
	ID           string                 `json:"id"`
	CaseID       string                 `json:"case_id"`
	StepID       string                 `json:"step_id"`
	Status       schema.ExecutionStatus `json:"status"`
	Input        json.RawMessage        `json:"input,omitempty"`
	Output       json.RawMessage        `json:"output,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// Human task status values.
const (
	TaskStatusOpen      = "open"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"
	TaskStatusOverdue   = "overdue"
)

// Client approval status values.
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusDeclined  = "declined"
	ApprovalStatusExpired   = "expired"
	ApprovalStatusCancelled = "cancelled"
)

// HumanTask is the pending-work record created by a human_task step.
type HumanTask struct {
	ID          string     `json:"id"`
	CaseID      string     `json:"case_id"`
	StepID      string     `json:"step_id"`
	ExecutionID string     `json:"execution_id"`
	Title       string     `json:"title"`
	Assignee    string     `json:"assignee,omitempty"`
	Status      string     `json:"status"` // open, completed, cancelled, overdue
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ClientApproval is the token-bearing record created by a client_approval
// step. The token authenticates the client's response; expiry is enforced by
// a periodic sweep, not by the engine blocking.
type ClientApproval struct {
	ID          string     `json:"id"`
	CaseID      string     `json:"case_id"`
	StepID      string     `json:"step_id"`
	ExecutionID string     `json:"execution_id"`
	Token       string     `json:"token"`
	Message     string     `json:"message,omitempty"`
	Status      string     `json:"status"` // pending, approved, declined, expired, cancelled
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Event is an immutable entry in the per-case audit log.
type Event struct {
	ID        int64           `json:"id"`
	CaseID    string          `json:"case_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ActorID   string          `json:"actor_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// --- Filter and update types ---

// CaseFilter specifies criteria for listing case workflows.
type CaseFilter struct {
	Status       *schema.CaseStatus `json:"status,omitempty"`
	DefinitionID string             `json:"definition_id,omitempty"`
	CaseRef      string             `json:"case_ref,omitempty"`
	Since        *time.Time         `json:"since,omitempty"`
	Limit        int                `json:"limit,omitempty"`
	Offset       int                `json:"offset,omitempty"`
}

// CaseUpdate specifies mutable fields of a case workflow. CurrentStepID uses
// a pointer so it can be cleared explicitly (set to empty string).
type CaseUpdate struct {
	Status        *schema.CaseStatus `json:"status,omitempty"`
	CurrentStepID *string            `json:"current_step_id,omitempty"`
	Context       json.RawMessage    `json:"context,omitempty"`
	ErrorMessage  *string            `json:"error_message,omitempty"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

// ExecutionUpdate specifies mutable fields of a step execution.
type ExecutionUpdate struct {
	Status       *schema.ExecutionStatus `json:"status,omitempty"`
	Output       json.RawMessage         `json:"output,omitempty"`
	ErrorMessage *string                 `json:"error_message,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// TaskFilter specifies criteria for listing human tasks.
type TaskFilter struct {
	CaseID    string     `json:"case_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	Assignee  string     `json:"assignee,omitempty"`
	DueBefore *time.Time `json:"due_before,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// ApprovalFilter specifies criteria for listing client approvals.
type ApprovalFilter struct {
	CaseID        string     `json:"case_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	ExpiresBefore *time.Time `json:"expires_before,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

// DefinitionFilter specifies criteria for listing workflow definitions.
type DefinitionFilter struct {
	Status   *schema.DefinitionStatus `json:"status,omitempty"`
	Category string                   `json:"category,omitempty"`
	Limit    int                      `json:"limit,omitempty"`
}

// TableFilter specifies criteria for listing decision tables.
type TableFilter struct {
	Status *schema.TableStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	CaseID    string     `json:"case_id,omitempty"`
	StepID    string     `json:"step_id,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}
