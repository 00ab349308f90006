// Package validation runs publish-time checks over workflow definitions and
// decision tables: JSON Schema validation of step configs, graph lint, and
// rule/column consistency.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/taxops/caseflow/pkg/schema"
)

const durationPattern = `^[0-9]+(ns|us|µs|ms|s|m|h)$`

// Per-step-type config schemas, JSON Schema Draft 2020-12. Embedded as
// constants to avoid filesystem dependencies.
var stepConfigSchemas = map[schema.StepType]string{
	schema.StepTypeDecisionTable: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["table_id"],
  "properties": {
    "table_id": { "type": "string", "minLength": 1 },
    "bindings": {
      "type": "object",
      "additionalProperties": { "type": "string", "minLength": 1 }
    }
  },
  "additionalProperties": false
}`,
	schema.StepTypeCalculation: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["expression"],
  "properties": {
    "expression": { "type": "string", "minLength": 1 },
    "engine": { "type": "string", "enum": ["expr", "cel"] },
    "inputs": {
      "type": "object",
      "additionalProperties": { "type": "string", "minLength": 1 }
    },
    "result_key": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`,
	schema.StepTypeHumanTask: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title"],
  "properties": {
    "title": { "type": "string", "minLength": 1 },
    "assignee": { "type": "string" },
    "due_in": { "type": "string", "pattern": "` + durationPattern + `" }
  },
  "additionalProperties": false
}`,
	schema.StepTypeClientApproval: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "message": { "type": "string" },
    "expires_in": { "type": "string", "pattern": "` + durationPattern + `" }
  },
  "additionalProperties": false
}`,
	schema.StepTypeDocumentGeneration: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["template_id"],
  "properties": {
    "template_id": { "type": "string", "minLength": 1 },
    "inputs": {
      "type": "object",
      "additionalProperties": { "type": "string", "minLength": 1 }
    }
  },
  "additionalProperties": false
}`,
}

// ConfigValidator validates step configs against their JSON Schemas.
// Safe for concurrent use once constructed.
type ConfigValidator struct {
	schemas map[schema.StepType]*jsonschema.Schema
}

// NewConfigValidator pre-compiles the per-step-type schemas.
func NewConfigValidator() (*ConfigValidator, error) {
	v := &ConfigValidator{schemas: make(map[schema.StepType]*jsonschema.Schema, len(stepConfigSchemas))}
	for stepType, src := range stepConfigSchemas {
		c := jsonschema.NewCompiler()
		c.AssertFormat()

		url := fmt.Sprintf("https://caseflow.dev/schemas/steps/%s.json", stepType)
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s config schema: %w", stepType, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s config schema: %w", stepType, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s config schema: %w", stepType, err)
		}
		v.schemas[stepType] = compiled
	}
	return v, nil
}

// ValidateStepConfig checks a step's config payload against the schema for
// its type.
func (v *ConfigValidator) ValidateStepConfig(step *schema.WorkflowStep) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	path := fmt.Sprintf("steps/%s/config", step.ID)

	compiled, ok := v.schemas[step.Type]
	if !ok {
		result.AddError(fmt.Sprintf("steps/%s/type", step.ID), "unknown_step_type",
			fmt.Sprintf("unknown step type %q", step.Type))
		return result
	}

	if len(step.Config) == 0 {
		// client_approval is fully defaulted; everything else needs config.
		if step.Type != schema.StepTypeClientApproval {
			result.AddError(path, "missing_config",
				fmt.Sprintf("%s step requires a config payload", step.Type))
		}
		return result
	}

	doc, err := toJSONValue(step.Config)
	if err != nil {
		result.AddError(path, "invalid_json", fmt.Sprintf("config is not valid JSON: %s", err))
		return result
	}

	if err := compiled.Validate(doc); err != nil {
		for _, violation := range collectViolations(err) {
			result.AddError(path, "schema_violation", violation)
		}
	}
	return result
}

func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a jsonschema.ValidationError tree and collects
// leaf messages with their instance locations.
func collectViolations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	return walkViolations(verr)
}

func walkViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, walkViolations(cause)...)
	}
	return out
}
