package schema

// Event type constants for the per-case audit log.
const (
	EventCaseStarted   = "case_started"
	EventCaseCompleted = "case_completed"
	EventCaseFailed    = "case_failed"
	EventCaseCancelled = "case_cancelled"
	EventCasePaused    = "case_paused"
	EventCaseResumed   = "case_resumed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepWaiting   = "step_waiting"
	EventStepCancelled = "step_cancelled"

	EventSnapshotPublished = "snapshot_published"
	EventTaskCreated       = "task_created"
	EventTaskOverdue       = "task_overdue"
	EventApprovalRequested = "approval_requested"
	EventApprovalExpired   = "approval_expired"
)

// CaseStatus represents the lifecycle state of a case workflow.
type CaseStatus string

const (
	CaseStatusNotStarted CaseStatus = "not_started"
	CaseStatusRunning    CaseStatus = "running"
	CaseStatusPaused     CaseStatus = "paused"
	CaseStatusCompleted  CaseStatus = "completed"
	CaseStatusFailed     CaseStatus = "failed"
	CaseStatusCancelled  CaseStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusCompleted || s == CaseStatusFailed || s == CaseStatusCancelled
}

// ExecutionStatus represents the lifecycle state of a single step execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// DefinitionStatus represents the authoring lifecycle of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft     DefinitionStatus = "draft"
	DefinitionStatusPublished DefinitionStatus = "published"
	DefinitionStatusArchived  DefinitionStatus = "archived"
)

// TableStatus represents the lifecycle of a decision table.
type TableStatus string

const (
	TableStatusDraft     TableStatus = "draft"
	TableStatusPublished TableStatus = "published"
	TableStatusArchived  TableStatus = "archived"
)
