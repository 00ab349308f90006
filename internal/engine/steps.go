package engine

import (
	"context"

	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/pkg/schema"
)

// OutcomeStatus classifies the result of executing one step.
type OutcomeStatus string

const (
	// OutcomeSuccess means the step finished and the runner follows on_success.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeFailure means the step finished and the runner follows on_failure.
	OutcomeFailure OutcomeStatus = "failure"
	// OutcomePending means the step created external work and the case must
	// suspend until a completion is delivered.
	OutcomePending OutcomeStatus = "pending"
)

// StepResult is what an Executor returns.
type StepResult struct {
	Status OutcomeStatus
	// Output is merged into the case context on success.
	Output map[string]any
	// Reason describes a failure outcome; empty otherwise.
	Reason string
}

// StepRun carries everything an executor needs for one step execution.
type StepRun struct {
	Case        *store.CaseWorkflow
	Step        *schema.WorkflowStep
	ExecutionID string
	// Context is the decoded accumulated case context.
	Context map[string]any
}

// Executor runs one step type. Synchronous executors return success or
// failure; suspending executors create their pending-work record and return
// OutcomePending.
type Executor interface {
	Type() schema.StepType
	Execute(ctx context.Context, run *StepRun) (*StepResult, error)
}

// Registry maps step types to executors.
type Registry struct {
	executors map[schema.StepType]Executor
}

// NewRegistry builds a registry from the given executors.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[schema.StepType]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Type()] = e
	}
	return r
}

// Resolve returns the executor for the step type.
func (r *Registry) Resolve(t schema.StepType) (Executor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "no executor registered for step type %q", t)
	}
	return e, nil
}

// envForStep builds the expression environment for a step run: the case
// context plus case metadata.
func envForStep(run *StepRun) map[string]any {
	return map[string]any{
		"context": run.Context,
		"case": map[string]any{
			"id":            run.Case.ID,
			"ref":           run.Case.CaseRef,
			"definition_id": run.Case.DefinitionID,
			"version":       run.Case.Version,
		},
	}
}
