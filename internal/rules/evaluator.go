// Package rules evaluates decision tables against typed inputs using
// first-match semantics: rules are ordered by ascending priority and the
// first rule whose conditions all hold produces the outputs.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/taxops/caseflow/pkg/schema"
)

// Result is the outcome of evaluating a table against one set of inputs.
type Result struct {
	Matched  bool           `json:"matched"`
	RuleID   string         `json:"rule_id,omitempty"`
	Priority int            `json:"priority,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
}

// Evaluator evaluates decision tables. It is stateless and safe for
// concurrent use.
type Evaluator struct{}

func NewEvaluator() *Evaluator { return &Evaluator{} }

// Evaluate runs first-match evaluation of the table against input.
// Disabled rules are skipped. A rule with zero conditions matches
// unconditionally. When no rule matches, the result has Matched=false and
// nil Outputs; that is not an error.
func (e *Evaluator) Evaluate(table *schema.DecisionTable, input map[string]any) (*Result, error) {
	rules := make([]schema.DecisionRule, 0, len(table.Rules))
	for _, r := range table.Rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	for _, rule := range rules {
		matched, err := e.ruleMatches(table, rule, input)
		if err != nil {
			return nil, err
		}
		if matched {
			outputs := make(map[string]any, len(rule.Outputs))
			for _, out := range rule.Outputs {
				outputs[out.ColumnKey] = out.Value
			}
			return &Result{Matched: true, RuleID: rule.ID, Priority: rule.Priority, Outputs: outputs}, nil
		}
	}
	return &Result{Matched: false}, nil
}

func (e *Evaluator) ruleMatches(table *schema.DecisionTable, rule schema.DecisionRule, input map[string]any) (bool, error) {
	for _, cond := range rule.Conditions {
		col := table.Column(cond.ColumnKey)
		if col == nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"rule %q references unknown column %q", rule.ID, cond.ColumnKey)
		}
		ok, err := evalCondition(col, cond, input)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evalCondition evaluates one condition against the input. An absent or nil
// input value fails every operator except is_empty, which it satisfies.
func evalCondition(col *schema.DecisionColumn, cond schema.RuleCondition, input map[string]any) (bool, error) {
	value, present := input[cond.ColumnKey]
	if value == nil {
		present = false
	}

	switch cond.Operator {
	case schema.OpIsEmpty:
		return !present || isEmptyValue(value), nil
	case schema.OpIsNotEmpty:
		return present && !isEmptyValue(value), nil
	}

	if !present {
		return false, nil
	}

	switch col.Type {
	case schema.ColumnTypeString:
		return evalString(col, cond, value)
	case schema.ColumnTypeNumber:
		return evalNumber(col, cond, value)
	case schema.ColumnTypeBoolean:
		return evalBoolean(col, cond, value)
	case schema.ColumnTypeDate:
		return evalDate(col, cond, value)
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"column %q has unknown type %q", col.Key, col.Type)
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func evalString(col *schema.DecisionColumn, cond schema.RuleCondition, value any) (bool, error) {
	got, err := cast.ToStringE(value)
	if err != nil {
		return false, typeMismatch(col, value)
	}
	want, err := cast.ToStringE(cond.Value)
	if err != nil {
		return false, typeMismatch(col, cond.Value)
	}

	switch cond.Operator {
	case schema.OpEquals:
		return got == want, nil
	case schema.OpNotEquals:
		return got != want, nil
	case schema.OpContains:
		return strings.Contains(got, want), nil
	default:
		return false, operatorMismatch(col, cond.Operator)
	}
}

func evalNumber(col *schema.DecisionColumn, cond schema.RuleCondition, value any) (bool, error) {
	got, err := cast.ToFloat64E(value)
	if err != nil {
		return false, typeMismatch(col, value)
	}
	want, err := cast.ToFloat64E(cond.Value)
	if err != nil {
		return false, typeMismatch(col, cond.Value)
	}

	switch cond.Operator {
	case schema.OpEquals:
		return got == want, nil
	case schema.OpNotEquals:
		return got != want, nil
	case schema.OpLessThan:
		return got < want, nil
	case schema.OpGreaterThan:
		return got > want, nil
	case schema.OpLessThanOrEqual:
		return got <= want, nil
	case schema.OpGreaterThanOrEqual:
		return got >= want, nil
	case schema.OpBetween:
		if cond.Value2 == nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"between condition on column %q requires two values", col.Key)
		}
		upper, err := cast.ToFloat64E(cond.Value2)
		if err != nil {
			return false, typeMismatch(col, cond.Value2)
		}
		return got >= want && got <= upper, nil
	default:
		return false, operatorMismatch(col, cond.Operator)
	}
}

func evalBoolean(col *schema.DecisionColumn, cond schema.RuleCondition, value any) (bool, error) {
	got, err := cast.ToBoolE(value)
	if err != nil {
		return false, typeMismatch(col, value)
	}
	want, err := cast.ToBoolE(cond.Value)
	if err != nil {
		return false, typeMismatch(col, cond.Value)
	}

	switch cond.Operator {
	case schema.OpEquals:
		return got == want, nil
	case schema.OpNotEquals:
		return got != want, nil
	default:
		return false, operatorMismatch(col, cond.Operator)
	}
}

func evalDate(col *schema.DecisionColumn, cond schema.RuleCondition, value any) (bool, error) {
	got, err := parseDate(value)
	if err != nil {
		return false, typeMismatch(col, value)
	}
	want, err := parseDate(cond.Value)
	if err != nil {
		return false, typeMismatch(col, cond.Value)
	}

	switch cond.Operator {
	case schema.OpEquals:
		return got.Equal(want), nil
	case schema.OpNotEquals:
		return !got.Equal(want), nil
	case schema.OpLessThan:
		return got.Before(want), nil
	case schema.OpGreaterThan:
		return got.After(want), nil
	case schema.OpLessThanOrEqual:
		return !got.After(want), nil
	case schema.OpGreaterThanOrEqual:
		return !got.Before(want), nil
	case schema.OpBetween:
		if cond.Value2 == nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"between condition on column %q requires two values", col.Key)
		}
		upper, err := parseDate(cond.Value2)
		if err != nil {
			return false, typeMismatch(col, cond.Value2)
		}
		return !got.Before(want) && !got.After(upper), nil
	default:
		return false, operatorMismatch(col, cond.Operator)
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range dateLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date value %q", s)
}

func typeMismatch(col *schema.DecisionColumn, value any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeTypeMismatch,
		"value %v is not a valid %s for column %q", value, col.Type, col.Key)
}

func operatorMismatch(col *schema.DecisionColumn, op schema.Operator) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeTypeMismatch,
		"operator %q is not applicable to %s column %q", op, col.Type, col.Key)
}
