package store

import (
	"context"

	"github.com/taxops/caseflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow definitions (authoring)
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	UpdateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	CreateStep(ctx context.Context, step *schema.WorkflowStep) error
	UpdateStep(ctx context.Context, step *schema.WorkflowStep) error
	DeleteStep(ctx context.Context, definitionID, stepID string) error
	ListSteps(ctx context.Context, definitionID string) ([]schema.WorkflowStep, error)

	// Version snapshots. PublishSnapshot inserts the new snapshot and swaps
	// the active flag from the previous one in a single transaction.
	PublishSnapshot(ctx context.Context, snap *VersionSnapshot) error
	GetSnapshot(ctx context.Context, id string) (*VersionSnapshot, error)
	GetActiveSnapshot(ctx context.Context, definitionID string) (*VersionSnapshot, error)
	ListSnapshots(ctx context.Context, definitionID string) ([]*VersionSnapshot, error)

	// Case workflows
	CreateCase(ctx context.Context, cw *CaseWorkflow) error
	GetCase(ctx context.Context, id string) (*CaseWorkflow, error)
	UpdateCase(ctx context.Context, id string, update CaseUpdate) error
	ListCases(ctx context.Context, filter CaseFilter) ([]*CaseWorkflow, error)

	// Step executions (append-per-entry audit trail)
	CreateExecution(ctx context.Context, exec *StepExecution) error
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	GetExecution(ctx context.Context, id string) (*StepExecution, error)
	ListExecutions(ctx context.Context, caseID string) ([]*StepExecution, error)
	CountExecutions(ctx context.Context, caseID, stepID string) (int, error)

	// Human tasks
	CreateHumanTask(ctx context.Context, task *HumanTask) error
	GetHumanTask(ctx context.Context, id string) (*HumanTask, error)
	UpdateHumanTaskStatus(ctx context.Context, id, status string) error
	ListHumanTasks(ctx context.Context, filter TaskFilter) ([]*HumanTask, error)

	// Client approvals
	CreateApproval(ctx context.Context, ap *ClientApproval) error
	UpdateApprovalStatus(ctx context.Context, id, status string) error
	GetApprovalByToken(ctx context.Context, token string) (*ClientApproval, error)
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*ClientApproval, error)

	// Decision tables (aggregate save: columns and rules replaced wholesale)
	SaveDecisionTable(ctx context.Context, table *schema.DecisionTable) error
	GetDecisionTable(ctx context.Context, id string) (*schema.DecisionTable, error)
	ListDecisionTables(ctx context.Context, filter TableFilter) ([]*schema.DecisionTable, error)

	// Audit log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, caseID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
