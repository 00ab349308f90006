package validation

import (
	"fmt"

	"github.com/taxops/caseflow/pkg/schema"
)

// knownStepTypes is the set of recognized step types.
var knownStepTypes = map[schema.StepType]bool{
	schema.StepTypeDecisionTable:      true,
	schema.StepTypeCalculation:        true,
	schema.StepTypeHumanTask:          true,
	schema.StepTypeClientApproval:     true,
	schema.StepTypeDocumentGeneration: true,
}

// ValidateGraph lints a definition's step set. Structural defects (no steps,
// duplicate or empty IDs, unknown types) are errors; dangling successor
// references and unreachable steps are warnings, since the engine treats a
// dangling edge as end-of-flow.
func ValidateGraph(steps []schema.WorkflowStep) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(steps) == 0 {
		result.AddError("steps", "no_steps", "definition has no steps; nothing to publish")
		return result
	}

	ids := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			result.AddError(fmt.Sprintf("steps[%d]", i), "empty_step_id", "step has an empty id")
			continue
		}
		if ids[s.ID] {
			result.AddError(fmt.Sprintf("steps/%s", s.ID), "duplicate_step_id",
				fmt.Sprintf("duplicate step id %q", s.ID))
		}
		ids[s.ID] = true
	}

	for _, s := range steps {
		path := fmt.Sprintf("steps/%s", s.ID)
		if !knownStepTypes[s.Type] {
			result.AddError(path+"/type", "unknown_step_type",
				fmt.Sprintf("unknown step type %q", s.Type))
		}
		if s.OnSuccess != "" && !ids[s.OnSuccess] {
			result.AddWarning(path+"/on_success", "dangling_successor",
				fmt.Sprintf("on_success references %q which does not exist; the case will complete there", s.OnSuccess))
		}
		if s.OnFailure != "" && !ids[s.OnFailure] {
			result.AddWarning(path+"/on_failure", "dangling_successor",
				fmt.Sprintf("on_failure references %q which does not exist; the case will complete there", s.OnFailure))
		}
		if s.MaxVisits < 0 {
			result.AddError(path+"/max_visits", "invalid_max_visits", "max_visits cannot be negative")
		}
	}

	if !result.Valid() {
		return result
	}

	// Reachability: walk success and failure edges from the entry step.
	graph := schema.StepGraph{Steps: steps}
	entry := graph.EntryStep()
	reachable := map[string]bool{entry.ID: true}
	queue := []string{entry.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		s := graph.Step(id)
		if s == nil {
			continue
		}
		for _, next := range []string{s.OnSuccess, s.OnFailure} {
			if next != "" && ids[next] && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, s := range steps {
		if !reachable[s.ID] {
			result.AddWarning(fmt.Sprintf("steps/%s", s.ID), "unreachable_step",
				fmt.Sprintf("step %q is not reachable from the entry step", s.ID))
		}
	}

	return result
}
