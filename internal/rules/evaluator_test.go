package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxops/caseflow/pkg/schema"
)

func complexityTable() *schema.DecisionTable {
	return &schema.DecisionTable{
		ID:     "tbl_complexity",
		Name:   "Return Complexity",
		Status: schema.TableStatusPublished,
		Columns: []schema.DecisionColumn{
			{Key: "income", Name: "Income", Type: schema.ColumnTypeNumber, Usage: schema.ColumnInput, SortOrder: 1},
			{Key: "has_foreign_assets", Name: "Foreign Assets", Type: schema.ColumnTypeBoolean, Usage: schema.ColumnInput, SortOrder: 2},
			{Key: "filing_state", Name: "Filing State", Type: schema.ColumnTypeString, Usage: schema.ColumnInput, SortOrder: 3},
			{Key: "complexity", Name: "Complexity", Type: schema.ColumnTypeString, Usage: schema.ColumnOutput, SortOrder: 4},
			{Key: "review_required", Name: "Review Required", Type: schema.ColumnTypeBoolean, Usage: schema.ColumnOutput, SortOrder: 5},
		},
		Rules: []schema.DecisionRule{
			{
				ID: "rule_foreign", TableID: "tbl_complexity", Priority: 1, Enabled: true,
				Conditions: []schema.RuleCondition{
					{ColumnKey: "has_foreign_assets", Operator: schema.OpEquals, Value: true},
				},
				Outputs: []schema.RuleOutput{
					{ColumnKey: "complexity", Value: "high"},
					{ColumnKey: "review_required", Value: true},
				},
			},
			{
				ID: "rule_high_income", TableID: "tbl_complexity", Priority: 2, Enabled: true,
				Conditions: []schema.RuleCondition{
					{ColumnKey: "income", Operator: schema.OpGreaterThan, Value: 400000},
				},
				Outputs: []schema.RuleOutput{
					{ColumnKey: "complexity", Value: "high"},
					{ColumnKey: "review_required", Value: true},
				},
			},
			{
				ID: "rule_mid_income", TableID: "tbl_complexity", Priority: 3, Enabled: true,
				Conditions: []schema.RuleCondition{
					{ColumnKey: "income", Operator: schema.OpBetween, Value: 100000, Value2: 400000},
				},
				Outputs: []schema.RuleOutput{
					{ColumnKey: "complexity", Value: "medium"},
					{ColumnKey: "review_required", Value: false},
				},
			},
			{
				ID: "rule_default", TableID: "tbl_complexity", Priority: 100, Enabled: true,
				Outputs: []schema.RuleOutput{
					{ColumnKey: "complexity", Value: "low"},
					{ColumnKey: "review_required", Value: false},
				},
			},
		},
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	e := NewEvaluator()

	// Foreign assets outrank income even though both rules match.
	res, err := e.Evaluate(complexityTable(), map[string]any{
		"income":             500000,
		"has_foreign_assets": true,
	})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "rule_foreign", res.RuleID)
	assert.Equal(t, "high", res.Outputs["complexity"])
	assert.Equal(t, true, res.Outputs["review_required"])
}

func TestEvaluateBetweenInclusive(t *testing.T) {
	e := NewEvaluator()
	table := complexityTable()

	for _, income := range []float64{100000, 250000, 400000} {
		res, err := e.Evaluate(table, map[string]any{
			"income":             income,
			"has_foreign_assets": false,
		})
		require.NoError(t, err)
		require.True(t, res.Matched)
		assert.Equal(t, "rule_mid_income", res.RuleID, "income %v", income)
		assert.Equal(t, "medium", res.Outputs["complexity"])
	}
}

func TestEvaluateCatchAllRule(t *testing.T) {
	e := NewEvaluator()

	// Zero-condition rule matches anything left over.
	res, err := e.Evaluate(complexityTable(), map[string]any{
		"income":             42000,
		"has_foreign_assets": false,
	})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "rule_default", res.RuleID)
	assert.Equal(t, "low", res.Outputs["complexity"])
}

func TestEvaluateNoMatchIsNotAnError(t *testing.T) {
	e := NewEvaluator()
	table := complexityTable()
	// Without the catch-all, low incomes match nothing.
	table.Rules = table.Rules[:3]

	res, err := e.Evaluate(table, map[string]any{
		"income":             42000,
		"has_foreign_assets": false,
	})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Empty(t, res.RuleID)
	assert.Nil(t, res.Outputs)
}

func TestEvaluateDisabledRulesSkipped(t *testing.T) {
	e := NewEvaluator()
	table := complexityTable()
	table.Rules[0].Enabled = false

	res, err := e.Evaluate(table, map[string]any{
		"income":             500000,
		"has_foreign_assets": true,
	})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "rule_high_income", res.RuleID)
}

func TestEvaluatePriorityTieBrokenByRuleID(t *testing.T) {
	e := NewEvaluator()
	table := complexityTable()
	table.Rules = []schema.DecisionRule{
		{
			ID: "rule_b", TableID: table.ID, Priority: 5, Enabled: true,
			Outputs: []schema.RuleOutput{{ColumnKey: "complexity", Value: "from_b"}},
		},
		{
			ID: "rule_a", TableID: table.ID, Priority: 5, Enabled: true,
			Outputs: []schema.RuleOutput{{ColumnKey: "complexity", Value: "from_a"}},
		},
	}

	res, err := e.Evaluate(table, map[string]any{})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "rule_a", res.RuleID)
}

func TestEvaluateAbsentInput(t *testing.T) {
	e := NewEvaluator()
	table := complexityTable()

	// Missing income: comparison rules fail silently, catch-all fires.
	res, err := e.Evaluate(table, map[string]any{"has_foreign_assets": false})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "rule_default", res.RuleID)
}

func TestEvaluateIsEmptyOperators(t *testing.T) {
	e := NewEvaluator()
	table := &schema.DecisionTable{
		ID: "tbl_state",
		Columns: []schema.DecisionColumn{
			{Key: "filing_state", Type: schema.ColumnTypeString, Usage: schema.ColumnInput},
			{Key: "route", Type: schema.ColumnTypeString, Usage: schema.ColumnOutput},
		},
		Rules: []schema.DecisionRule{
			{
				ID: "rule_no_state", Priority: 1, Enabled: true,
				Conditions: []schema.RuleCondition{{ColumnKey: "filing_state", Operator: schema.OpIsEmpty}},
				Outputs:    []schema.RuleOutput{{ColumnKey: "route", Value: "federal_only"}},
			},
			{
				ID: "rule_has_state", Priority: 2, Enabled: true,
				Conditions: []schema.RuleCondition{{ColumnKey: "filing_state", Operator: schema.OpIsNotEmpty}},
				Outputs:    []schema.RuleOutput{{ColumnKey: "route", Value: "state_and_federal"}},
			},
		},
	}

	res, err := e.Evaluate(table, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "rule_no_state", res.RuleID)

	res, err = e.Evaluate(table, map[string]any{"filing_state": "   "})
	require.NoError(t, err)
	assert.Equal(t, "rule_no_state", res.RuleID, "whitespace-only counts as empty")

	res, err = e.Evaluate(table, map[string]any{"filing_state": "CA"})
	require.NoError(t, err)
	assert.Equal(t, "rule_has_state", res.RuleID)
}

func TestEvaluateStringOperators(t *testing.T) {
	e := NewEvaluator()
	table := &schema.DecisionTable{
		ID: "tbl_str",
		Columns: []schema.DecisionColumn{
			{Key: "entity_type", Type: schema.ColumnTypeString, Usage: schema.ColumnInput},
			{Key: "tier", Type: schema.ColumnTypeString, Usage: schema.ColumnOutput},
		},
		Rules: []schema.DecisionRule{
			{
				ID: "rule_llc", Priority: 1, Enabled: true,
				Conditions: []schema.RuleCondition{{ColumnKey: "entity_type", Operator: schema.OpContains, Value: "LLC"}},
				Outputs:    []schema.RuleOutput{{ColumnKey: "tier", Value: "business"}},
			},
			{
				ID: "rule_individual", Priority: 2, Enabled: true,
				Conditions: []schema.RuleCondition{{ColumnKey: "entity_type", Operator: schema.OpNotEquals, Value: "corporation"}},
				Outputs:    []schema.RuleOutput{{ColumnKey: "tier", Value: "personal"}},
			},
		},
	}

	res, err := e.Evaluate(table, map[string]any{"entity_type": "Smith Holdings LLC"})
	require.NoError(t, err)
	assert.Equal(t, "rule_llc", res.RuleID)

	res, err = e.Evaluate(table, map[string]any{"entity_type": "individual"})
	require.NoError(t, err)
	assert.Equal(t, "rule_individual", res.RuleID)
}

func TestEvaluateDateComparisons(t *testing.T) {
	e := NewEvaluator()
	table := &schema.DecisionTable{
		ID: "tbl_deadline",
		Columns: []schema.DecisionColumn{
			{Key: "due_date", Type: schema.ColumnTypeDate, Usage: schema.ColumnInput},
			{Key: "urgent", Type: schema.ColumnTypeBoolean, Usage: schema.ColumnOutput},
		},
		Rules: []schema.DecisionRule{
			{
				ID: "rule_near", Priority: 1, Enabled: true,
				Conditions: []schema.RuleCondition{
					{ColumnKey: "due_date", Operator: schema.OpLessThan, Value: "2026-04-15"},
				},
				Outputs: []schema.RuleOutput{{ColumnKey: "urgent", Value: true}},
			},
			{
				ID: "rule_window", Priority: 2, Enabled: true,
				Conditions: []schema.RuleCondition{
					{ColumnKey: "due_date", Operator: schema.OpBetween, Value: "2026-04-15", Value2: "2026-10-15"},
				},
				Outputs: []schema.RuleOutput{{ColumnKey: "urgent", Value: false}},
			},
		},
	}

	res, err := e.Evaluate(table, map[string]any{"due_date": "2026-03-01"})
	require.NoError(t, err)
	assert.Equal(t, "rule_near", res.RuleID)

	// RFC3339 inputs are accepted alongside plain dates.
	res, err = e.Evaluate(table, map[string]any{"due_date": "2026-06-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "rule_window", res.RuleID)
}

func TestEvaluateBetweenMissingSecondValue(t *testing.T) {
	e := NewEvaluator()
	table := complexityTable()
	table.Rules = []schema.DecisionRule{{
		ID: "rule_bad", Priority: 1, Enabled: true,
		Conditions: []schema.RuleCondition{
			{ColumnKey: "income", Operator: schema.OpBetween, Value: 100000},
		},
	}}

	_, err := e.Evaluate(table, map[string]any{"income": 200000})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestEvaluateTypeMismatch(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Evaluate(complexityTable(), map[string]any{
		"income":             "not a number",
		"has_foreign_assets": false,
	})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeTypeMismatch, flowErr.Code)
}

func TestEvaluateOperatorNotApplicable(t *testing.T) {
	e := NewEvaluator()
	table := complexityTable()
	table.Rules = []schema.DecisionRule{{
		ID: "rule_bad_op", Priority: 1, Enabled: true,
		Conditions: []schema.RuleCondition{
			{ColumnKey: "has_foreign_assets", Operator: schema.OpGreaterThan, Value: true},
		},
	}}

	_, err := e.Evaluate(table, map[string]any{"has_foreign_assets": true})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeTypeMismatch, flowErr.Code)
}

func TestEvaluateUnknownColumnReference(t *testing.T) {
	e := NewEvaluator()
	table := complexityTable()
	table.Rules = []schema.DecisionRule{{
		ID: "rule_ghost", Priority: 1, Enabled: true,
		Conditions: []schema.RuleCondition{
			{ColumnKey: "no_such_column", Operator: schema.OpEquals, Value: 1},
		},
	}}

	_, err := e.Evaluate(table, map[string]any{"income": 100})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}
