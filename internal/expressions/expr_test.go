package expressions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxops/caseflow/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"gross_income": 120000.0, "deductions": 27700.0}

	out, err := e.Evaluate(context.Background(), "gross_income - deductions", data)
	require.NoError(t, err)
	assert.Equal(t, 92300.0, out)
}

func TestExpr_ConditionalExpression(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"taxable_income": 50000.0}

	out, err := e.Evaluate(context.Background(),
		`taxable_income > 44725 ? taxable_income * 0.22 : taxable_income * 0.12`, data)
	require.NoError(t, err)
	assert.InDelta(t, 11000.0, out, 0.01)
}

func TestExpr_ArrayOperations(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"forms": []any{
			map[string]any{"name": "W-2", "amount": 85000.0},
			map[string]any{"name": "1099-INT", "amount": 1200.0},
			map[string]any{"name": "1099-DIV", "amount": 3400.0},
		},
	}

	out, err := e.Evaluate(context.Background(), "sum(map(forms, .amount))", data)
	require.NoError(t, err)
	assert.Equal(t, 89600.0, out)
}

func TestExpr_NilCoalescing(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `state_withholding ?? 0`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	err := e.Compile("1 +")
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestExpr_CompileThenEvaluateUsesCache(t *testing.T) {
	e := NewExprEngine()

	require.NoError(t, e.Compile("a * 2"))

	out, err := e.Evaluate(context.Background(), "a * 2", map[string]any{"a": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestExpr_ConcurrentEvaluation(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "x + 1", map[string]any{"x": n})
			assert.NoError(t, err)
			assert.Equal(t, n+1, out)
		}(i)
	}
	wg.Wait()
}
