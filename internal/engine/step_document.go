package engine

import (
	"context"
	"encoding/json"

	"github.com/taxops/caseflow/internal/expressions"
	"github.com/taxops/caseflow/pkg/schema"
)

// TemplateLoader fetches document template bodies by ID.
type TemplateLoader interface {
	GetTemplate(ctx context.Context, id string) (string, error)
}

// DocumentGenerationExecutor renders a document template against the case
// context and records the rendered result in the step output.
type DocumentGenerationExecutor struct {
	templates TemplateLoader
	renderer  *expressions.TemplateRenderer
	binder    *expressions.Binder
}

func NewDocumentGenerationExecutor(templates TemplateLoader, renderer *expressions.TemplateRenderer, binder *expressions.Binder) *DocumentGenerationExecutor {
	return &DocumentGenerationExecutor{templates: templates, renderer: renderer, binder: binder}
}

func (e *DocumentGenerationExecutor) Type() schema.StepType {
	return schema.StepTypeDocumentGeneration
}

func (e *DocumentGenerationExecutor) Execute(ctx context.Context, run *StepRun) (*StepResult, error) {
	var cfg schema.DocumentGenerationConfig
	if err := json.Unmarshal(run.Step.Config, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"decode document_generation config: %s", err.Error()).WithStep(run.Step.ID).WithCause(err)
	}

	body, err := e.templates.GetTemplate(ctx, cfg.TemplateID)
	if err != nil {
		return nil, err
	}

	scope := &expressions.RenderScope{
		Context: run.Context,
		Case: map[string]any{
			"id":      run.Case.ID,
			"ref":     run.Case.CaseRef,
			"version": run.Case.Version,
		},
	}
	if len(cfg.Inputs) > 0 {
		extra, err := e.binder.Resolve(ctx, cfg.Inputs, envForStep(run))
		if err != nil {
			return nil, err
		}
		// Bound inputs overlay the raw context for rendering.
		merged := make(map[string]any, len(run.Context)+len(extra))
		for k, v := range run.Context {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		scope.Context = merged
	}

	rendered, err := e.renderer.Render(body, scope)
	if err != nil {
		// Template holes are a step failure the graph can route on.
		return &StepResult{Status: OutcomeFailure, Reason: err.Error()}, nil
	}

	return &StepResult{
		Status: OutcomeSuccess,
		Output: map[string]any{
			"document_template_id": cfg.TemplateID,
			"document_body":        rendered,
		},
	}, nil
}

var _ Executor = (*DocumentGenerationExecutor)(nil)
