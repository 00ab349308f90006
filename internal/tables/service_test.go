package tables

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxops/caseflow/internal/rules"
	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/pkg/schema"
)

// fakeStore implements the decision table slice of store.Store.
type fakeStore struct {
	store.Store

	tables map[string]*schema.DecisionTable
}

func (f *fakeStore) SaveDecisionTable(_ context.Context, table *schema.DecisionTable) error {
	cp := *table
	f.tables[table.ID] = &cp
	return nil
}

func (f *fakeStore) GetDecisionTable(_ context.Context, id string) (*schema.DecisionTable, error) {
	t, ok := f.tables[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "decision table %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) ListDecisionTables(_ context.Context, filter store.TableFilter) ([]*schema.DecisionTable, error) {
	var out []*schema.DecisionTable
	for _, t := range f.tables {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func newTestService() (*Service, *fakeStore) {
	st := &fakeStore{tables: make(map[string]*schema.DecisionTable)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, rules.NewEvaluator(), logger), st
}

func pricingInput() SaveTableInput {
	return SaveTableInput{
		Name: "Complexity Pricing",
		Columns: []schema.DecisionColumn{
			{Key: "entity_count", Name: "Entities", Type: schema.ColumnTypeNumber, Usage: schema.ColumnInput},
			{Key: "tier", Name: "Tier", Type: schema.ColumnTypeString, Usage: schema.ColumnOutput},
		},
		Rules: []schema.DecisionRule{
			{
				Priority: 1, Enabled: true,
				Conditions: []schema.RuleCondition{
					{ColumnKey: "entity_count", Operator: schema.OpGreaterThan, Value: 3},
				},
				Outputs: []schema.RuleOutput{{ColumnKey: "tier", Value: "complex"}},
			},
			{
				Priority: 2, Enabled: true,
				Outputs: []schema.RuleOutput{{ColumnKey: "tier", Value: "standard"}},
			},
		},
	}
}

func TestCreateTableStampsRuleIDs(t *testing.T) {
	svc, _ := newTestService()

	table, err := svc.CreateTable(context.Background(), pricingInput())
	require.NoError(t, err)
	assert.Equal(t, schema.TableStatusDraft, table.Status)
	for _, rule := range table.Rules {
		assert.NotEmpty(t, rule.ID)
		assert.Equal(t, table.ID, rule.TableID)
	}

	_, err = svc.CreateTable(context.Background(), SaveTableInput{})
	require.Error(t, err)
}

func TestPublishValidatesTable(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	t.Run("valid table publishes and bumps version", func(t *testing.T) {
		table, err := svc.CreateTable(ctx, pricingInput())
		require.NoError(t, err)

		published, err := svc.Publish(ctx, table.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.TableStatusPublished, published.Status)
		assert.Equal(t, 2, published.Version)

		_, err = svc.Publish(ctx, table.ID)
		require.Error(t, err, "publishing twice is rejected")
	})

	t.Run("invalid table is rejected", func(t *testing.T) {
		in := pricingInput()
		in.Rules[0].Conditions[0].Operator = schema.OpBetween // missing second bound
		table, err := svc.CreateTable(ctx, in)
		require.NoError(t, err)

		_, err = svc.Publish(ctx, table.ID)
		require.Error(t, err)

		var flowErr *schema.FlowError
		require.ErrorAs(t, err, &flowErr)
		assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
	})
}

func TestUpdateRequiresDraft(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	table, err := svc.CreateTable(ctx, pricingInput())
	require.NoError(t, err)
	_, err = svc.Publish(ctx, table.ID)
	require.NoError(t, err)

	_, err = svc.UpdateTable(ctx, table.ID, pricingInput())
	require.Error(t, err, "published tables are immutable")

	_, err = svc.Unpublish(ctx, table.ID)
	require.NoError(t, err)

	in := pricingInput()
	in.Name = "Complexity Pricing v2"
	updated, err := svc.UpdateTable(ctx, table.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Complexity Pricing v2", updated.Name)
}

func TestArchiveBlocksPublish(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	table, err := svc.CreateTable(ctx, pricingInput())
	require.NoError(t, err)
	_, err = svc.Archive(ctx, table.ID)
	require.NoError(t, err)

	_, err = svc.Publish(ctx, table.ID)
	require.Error(t, err)
	_, err = svc.Archive(ctx, table.ID)
	require.Error(t, err)
}

func TestPreviewEvaluatesWithoutPersisting(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	table, err := svc.CreateTable(ctx, pricingInput())
	require.NoError(t, err)

	result, err := svc.Preview(ctx, table.ID, map[string]any{"entity_count": 5})
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, "complex", result.Outputs["tier"])

	result, err = svc.Preview(ctx, table.ID, map[string]any{"entity_count": 1})
	require.NoError(t, err)
	require.True(t, result.Matched, "catch-all rule matches")
	assert.Equal(t, "standard", result.Outputs["tier"])

	// Preview never mutates the stored table.
	assert.Equal(t, schema.TableStatusDraft, st.tables[table.ID].Status)
}
