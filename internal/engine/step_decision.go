package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taxops/caseflow/internal/expressions"
	"github.com/taxops/caseflow/internal/rules"
	"github.com/taxops/caseflow/pkg/schema"
)

// TableLoader fetches decision tables for evaluation.
type TableLoader interface {
	GetDecisionTable(ctx context.Context, id string) (*schema.DecisionTable, error)
}

// DecisionTableExecutor evaluates a decision table against inputs bound from
// the case context. A no-match result is a failure outcome, not an error:
// partial rule coverage is a legal authoring choice and routing handles it.
type DecisionTableExecutor struct {
	tables    TableLoader
	evaluator *rules.Evaluator
	binder    *expressions.Binder
}

func NewDecisionTableExecutor(tables TableLoader, evaluator *rules.Evaluator, binder *expressions.Binder) *DecisionTableExecutor {
	return &DecisionTableExecutor{tables: tables, evaluator: evaluator, binder: binder}
}

func (e *DecisionTableExecutor) Type() schema.StepType {
	return schema.StepTypeDecisionTable
}

func (e *DecisionTableExecutor) Execute(ctx context.Context, run *StepRun) (*StepResult, error) {
	var cfg schema.DecisionTableConfig
	if err := json.Unmarshal(run.Step.Config, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"decode decision_table config: %s", err.Error()).WithStep(run.Step.ID).WithCause(err)
	}

	table, err := e.tables.GetDecisionTable(ctx, cfg.TableID)
	if err != nil {
		return nil, err
	}
	if table.Status != schema.TableStatusPublished {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"decision table %q is %s, not published", table.ID, table.Status).WithStep(run.Step.ID)
	}

	inputs := run.Context
	if len(cfg.Bindings) > 0 {
		inputs, err = e.binder.Resolve(ctx, cfg.Bindings, envForStep(run))
		if err != nil {
			return nil, err
		}
	}

	result, err := e.evaluator.Evaluate(table, inputs)
	if err != nil {
		return nil, err
	}

	if !result.Matched {
		return &StepResult{
			Status: OutcomeFailure,
			Reason: fmt.Sprintf("no rule in table %q matched", table.ID),
		}, nil
	}

	output := make(map[string]any, len(result.Outputs)+1)
	for k, v := range result.Outputs {
		output[k] = v
	}
	output["matched_rule_id"] = result.RuleID

	return &StepResult{Status: OutcomeSuccess, Output: output}, nil
}

var _ Executor = (*DecisionTableExecutor)(nil)
