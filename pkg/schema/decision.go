package schema

import "time"

// ColumnType is the declared data type of a decision table column.
type ColumnType string

const (
	ColumnTypeString  ColumnType = "string"
	ColumnTypeNumber  ColumnType = "number"
	ColumnTypeBoolean ColumnType = "boolean"
	ColumnTypeDate    ColumnType = "date"
)

// ColumnUsage marks a column as rule input or rule output.
type ColumnUsage string

const (
	ColumnInput  ColumnUsage = "input"
	ColumnOutput ColumnUsage = "output"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpLessThan           Operator = "less_than"
	OpGreaterThan        Operator = "greater_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpBetween            Operator = "between"
	OpContains           Operator = "contains"
	OpIsEmpty            Operator = "is_empty"
	OpIsNotEmpty         Operator = "is_not_empty"
)

// DecisionTable is a named set of prioritized rules mapping typed inputs to
// typed outputs. Tables have an authoring lifecycle independent from
// workflows; steps reference them by id at execution time.
type DecisionTable struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    TableStatus      `json:"status"`
	Version   int              `json:"version"`
	Columns   []DecisionColumn `json:"columns,omitempty"`
	Rules     []DecisionRule   `json:"rules,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Column returns the column with the given key, or nil.
func (t *DecisionTable) Column(key string) *DecisionColumn {
	for i := range t.Columns {
		if t.Columns[i].Key == key {
			return &t.Columns[i]
		}
	}
	return nil
}

// InputColumns returns the input columns in sort order.
func (t *DecisionTable) InputColumns() []DecisionColumn {
	return t.columnsByUsage(ColumnInput)
}

// OutputColumns returns the output columns in sort order.
func (t *DecisionTable) OutputColumns() []DecisionColumn {
	return t.columnsByUsage(ColumnOutput)
}

func (t *DecisionTable) columnsByUsage(usage ColumnUsage) []DecisionColumn {
	var out []DecisionColumn
	for _, c := range t.Columns {
		if c.Usage == usage {
			out = append(out, c)
		}
	}
	return out
}

// DecisionColumn is one typed column of a decision table. Key is unique
// within the table.
type DecisionColumn struct {
	Name      string      `json:"name"`
	Key       string      `json:"key"`
	Type      ColumnType  `json:"type"`
	Usage     ColumnUsage `json:"usage"`
	SortOrder int         `json:"sort_order"`
}

// DecisionRule is one row of a decision table: a condition set plus an output
// set, with a priority and enabled flag. A rule with zero conditions matches
// any input (catch-all).
type DecisionRule struct {
	ID         string          `json:"id"`
	TableID    string          `json:"table_id"`
	Priority   int             `json:"priority"`
	Enabled    bool            `json:"enabled"`
	Conditions []RuleCondition `json:"conditions,omitempty"`
	Outputs    []RuleOutput    `json:"outputs,omitempty"`
}

// RuleCondition compares a bound input value against one or two literals.
// Value2 is only meaningful for the between operator; is_empty and
// is_not_empty ignore both literals.
type RuleCondition struct {
	ColumnKey string   `json:"column_key"`
	Operator  Operator `json:"operator"`
	Value     any      `json:"value,omitempty"`
	Value2    any      `json:"value2,omitempty"`
}

// RuleOutput assigns a literal value to an output column when the rule
// matches. The engine does not coerce output values; consumers interpret
// them against the column's declared type.
type RuleOutput struct {
	ColumnKey string `json:"column_key"`
	Value     any    `json:"value"`
}
