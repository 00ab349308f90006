package engine

import (
	"context"
	"encoding/json"

	"github.com/taxops/caseflow/internal/expressions"
	"github.com/taxops/caseflow/pkg/schema"
)

// CalculationExecutor evaluates an expression against the case context and
// writes the result under the configured result key. The engine is chosen
// by name from the registry ("expr" by default, "cel" as the alternate).
type CalculationExecutor struct {
	engines *expressions.Registry
	binder  *expressions.Binder
}

func NewCalculationExecutor(engines *expressions.Registry, binder *expressions.Binder) *CalculationExecutor {
	return &CalculationExecutor{engines: engines, binder: binder}
}

func (e *CalculationExecutor) Type() schema.StepType {
	return schema.StepTypeCalculation
}

func (e *CalculationExecutor) Execute(ctx context.Context, run *StepRun) (*StepResult, error) {
	var cfg schema.CalculationConfig
	if err := json.Unmarshal(run.Step.Config, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"decode calculation config: %s", err.Error()).WithStep(run.Step.ID).WithCause(err)
	}

	engine, err := e.engines.Resolve(cfg.Engine)
	if err != nil {
		return nil, err
	}

	env := envForStep(run)
	if len(cfg.Inputs) > 0 {
		inputs, err := e.binder.Resolve(ctx, cfg.Inputs, env)
		if err != nil {
			return nil, err
		}
		env["inputs"] = inputs
	}

	value, err := engine.Evaluate(ctx, cfg.Expression, env)
	if err != nil {
		// An evaluation error is a step failure the graph can route on, not
		// an engine crash.
		return &StepResult{Status: OutcomeFailure, Reason: err.Error()}, nil
	}

	key := cfg.ResultKey
	if key == "" {
		key = "result"
	}

	return &StepResult{Status: OutcomeSuccess, Output: map[string]any{key: value}}, nil
}

var _ Executor = (*CalculationExecutor)(nil)
