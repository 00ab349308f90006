package validation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taxops/caseflow/internal/expressions"
	"github.com/taxops/caseflow/pkg/schema"
)

// TableChecker resolves decision tables referenced by steps.
type TableChecker interface {
	GetDecisionTable(ctx context.Context, id string) (*schema.DecisionTable, error)
}

// Validator runs the full publish-time validation pass for a definition:
// structural config schemas, semantic reference checks, then graph lint.
type Validator struct {
	configs *ConfigValidator
	engines *expressions.Registry
	binder  *expressions.Binder
	tables  TableChecker
}

// NewValidator wires a Validator.
func NewValidator(configs *ConfigValidator, engines *expressions.Registry, binder *expressions.Binder, tables TableChecker) *Validator {
	return &Validator{configs: configs, engines: engines, binder: binder, tables: tables}
}

// Configs exposes the structural config validator for edit-time checks that
// run before the full publish pass.
func (v *Validator) Configs() *ConfigValidator {
	return v.configs
}

// ValidateDefinition checks every step's config and the overall graph.
// Broken expressions and missing table references are caught here so they
// never reach a running case.
func (v *Validator) ValidateDefinition(ctx context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i := range def.Steps {
		step := &def.Steps[i]
		result.Merge(v.configs.ValidateStepConfig(step))
	}
	if !result.Valid() {
		return result
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		result.Merge(v.validateStepSemantics(ctx, step))
	}

	result.Merge(ValidateGraph(def.Steps))
	return result
}

func (v *Validator) validateStepSemantics(ctx context.Context, step *schema.WorkflowStep) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	path := fmt.Sprintf("steps/%s/config", step.ID)

	switch step.Type {
	case schema.StepTypeDecisionTable:
		var cfg schema.DecisionTableConfig
		if err := json.Unmarshal(step.Config, &cfg); err != nil {
			result.AddError(path, "invalid_json", err.Error())
			return result
		}
		table, err := v.tables.GetDecisionTable(ctx, cfg.TableID)
		if err != nil {
			result.AddError(path+"/table_id", "unknown_table",
				fmt.Sprintf("decision table %q not found", cfg.TableID))
		} else if table.Status != schema.TableStatusPublished {
			result.AddWarning(path+"/table_id", "table_not_published",
				fmt.Sprintf("decision table %q is %s; it must be published before cases run", cfg.TableID, table.Status))
		}
		if err := v.binder.Validate(cfg.Bindings); err != nil {
			result.AddError(path+"/bindings", "invalid_binding", err.Error())
		}

	case schema.StepTypeCalculation:
		var cfg schema.CalculationConfig
		if err := json.Unmarshal(step.Config, &cfg); err != nil {
			result.AddError(path, "invalid_json", err.Error())
			return result
		}
		engine, err := v.engines.Resolve(cfg.Engine)
		if err != nil {
			result.AddError(path+"/engine", "unknown_engine", err.Error())
			return result
		}
		if err := engine.Compile(cfg.Expression); err != nil {
			result.AddError(path+"/expression", "invalid_expression", err.Error())
		}
		if err := v.binder.Validate(cfg.Inputs); err != nil {
			result.AddError(path+"/inputs", "invalid_binding", err.Error())
		}

	case schema.StepTypeDocumentGeneration:
		var cfg schema.DocumentGenerationConfig
		if err := json.Unmarshal(step.Config, &cfg); err != nil {
			result.AddError(path, "invalid_json", err.Error())
			return result
		}
		if err := v.binder.Validate(cfg.Inputs); err != nil {
			result.AddError(path+"/inputs", "invalid_binding", err.Error())
		}
	}

	return result
}
