package validation

import (
	"fmt"

	"github.com/taxops/caseflow/pkg/schema"
)

// operatorsByType lists which operators apply to each column type.
// is_empty and is_not_empty apply everywhere.
var operatorsByType = map[schema.ColumnType]map[schema.Operator]bool{
	schema.ColumnTypeString: {
		schema.OpEquals: true, schema.OpNotEquals: true, schema.OpContains: true,
	},
	schema.ColumnTypeNumber: {
		schema.OpEquals: true, schema.OpNotEquals: true,
		schema.OpLessThan: true, schema.OpGreaterThan: true,
		schema.OpLessThanOrEqual: true, schema.OpGreaterThanOrEqual: true,
		schema.OpBetween: true,
	},
	schema.ColumnTypeBoolean: {
		schema.OpEquals: true, schema.OpNotEquals: true,
	},
	schema.ColumnTypeDate: {
		schema.OpEquals: true, schema.OpNotEquals: true,
		schema.OpLessThan: true, schema.OpGreaterThan: true,
		schema.OpLessThanOrEqual: true, schema.OpGreaterThanOrEqual: true,
		schema.OpBetween: true,
	},
}

// ValidateTable checks decision table consistency before publishing:
// column shape, rule/column references, operator applicability, and
// between-operator arity. Partial rule coverage is legal and not flagged.
func ValidateTable(table *schema.DecisionTable) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	keys := make(map[string]schema.DecisionColumn, len(table.Columns))
	inputs, outputs := 0, 0
	for i, col := range table.Columns {
		path := fmt.Sprintf("columns[%d]", i)
		if col.Key == "" {
			result.AddError(path, "empty_column_key", "column has an empty key")
			continue
		}
		if _, dup := keys[col.Key]; dup {
			result.AddError(path, "duplicate_column_key",
				fmt.Sprintf("duplicate column key %q", col.Key))
		}
		keys[col.Key] = col

		if _, ok := operatorsByType[col.Type]; !ok {
			result.AddError(path+"/type", "unknown_column_type",
				fmt.Sprintf("column %q has unknown type %q", col.Key, col.Type))
		}
		switch col.Usage {
		case schema.ColumnInput:
			inputs++
		case schema.ColumnOutput:
			outputs++
		default:
			result.AddError(path+"/usage", "unknown_column_usage",
				fmt.Sprintf("column %q has unknown usage %q", col.Key, col.Usage))
		}
	}
	if inputs == 0 {
		result.AddError("columns", "no_input_columns", "table needs at least one input column")
	}
	if outputs == 0 {
		result.AddError("columns", "no_output_columns", "table needs at least one output column")
	}

	ruleIDs := make(map[string]bool, len(table.Rules))
	for i, rule := range table.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if rule.ID == "" {
			result.AddError(path, "empty_rule_id", "rule has an empty id")
		} else {
			if ruleIDs[rule.ID] {
				result.AddError(path, "duplicate_rule_id", fmt.Sprintf("duplicate rule id %q", rule.ID))
			}
			ruleIDs[rule.ID] = true
			path = fmt.Sprintf("rules/%s", rule.ID)
		}

		for j, cond := range rule.Conditions {
			cpath := fmt.Sprintf("%s/conditions[%d]", path, j)
			col, ok := keys[cond.ColumnKey]
			if !ok {
				result.AddError(cpath, "unknown_column",
					fmt.Sprintf("condition references unknown column %q", cond.ColumnKey))
				continue
			}
			if col.Usage != schema.ColumnInput {
				result.AddError(cpath, "condition_on_output",
					fmt.Sprintf("condition references output column %q", cond.ColumnKey))
			}

			if cond.Operator == schema.OpIsEmpty || cond.Operator == schema.OpIsNotEmpty {
				continue
			}
			if allowed := operatorsByType[col.Type]; allowed != nil && !allowed[cond.Operator] {
				result.AddError(cpath+"/operator", "operator_type_mismatch",
					fmt.Sprintf("operator %q does not apply to %s column %q", cond.Operator, col.Type, cond.ColumnKey))
			}
			if cond.Operator == schema.OpBetween && cond.Value2 == nil {
				result.AddError(cpath, "between_needs_two_values",
					fmt.Sprintf("between condition on %q requires both bounds", cond.ColumnKey))
			}
		}

		if len(rule.Outputs) == 0 {
			result.AddWarning(path+"/outputs", "no_outputs", "rule produces no outputs")
		}
		for j, out := range rule.Outputs {
			opath := fmt.Sprintf("%s/outputs[%d]", path, j)
			col, ok := keys[out.ColumnKey]
			if !ok {
				result.AddError(opath, "unknown_column",
					fmt.Sprintf("output references unknown column %q", out.ColumnKey))
				continue
			}
			if col.Usage != schema.ColumnOutput {
				result.AddError(opath, "output_on_input",
					fmt.Sprintf("output references input column %q", out.ColumnKey))
			}
		}
	}

	return result
}
