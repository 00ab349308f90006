package tables

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taxops/caseflow/internal/rules"
	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/internal/validation"
	"github.com/taxops/caseflow/pkg/schema"
)

// Service manages the authoring lifecycle of decision tables. Tables are
// saved as whole aggregates (columns and rules together); publishing runs
// the structural validation pass and bumps the version.
type Service struct {
	store     store.Store
	evaluator *rules.Evaluator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service.
func NewService(st store.Store, evaluator *rules.Evaluator, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		evaluator: evaluator,
		logger:    logger,
		now:       time.Now,
	}
}

// SaveTableInput carries the full authorable content of a decision table.
type SaveTableInput struct {
	Name    string
	Columns []schema.DecisionColumn
	Rules   []schema.DecisionRule
}

// CreateTable creates a new draft table. Columns and rules may be empty at
// creation; they are required at publish time.
func (s *Service) CreateTable(ctx context.Context, in SaveTableInput) (*schema.DecisionTable, error) {
	if in.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "table name is required")
	}

	now := s.now().UTC()
	table := &schema.DecisionTable{
		ID:        "tbl_" + uuid.NewString(),
		Name:      in.Name,
		Status:    schema.TableStatusDraft,
		Version:   1,
		Columns:   in.Columns,
		Rules:     in.Rules,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stampRules(table)

	if err := s.store.SaveDecisionTable(ctx, table); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save table: %s", err.Error()).WithCause(err)
	}

	s.logger.Info("decision table created", "table_id", table.ID, "name", table.Name)
	return table, nil
}

// UpdateTable replaces a draft table's content wholesale. Published tables
// must be reverted to draft first so workflows never see a half-edited table.
func (s *Service) UpdateTable(ctx context.Context, id string, in SaveTableInput) (*schema.DecisionTable, error) {
	table, err := s.store.GetDecisionTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if table.Status != schema.TableStatusDraft {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"table %s is %s, only draft tables can be edited", table.ID, table.Status)
	}

	if in.Name != "" {
		table.Name = in.Name
	}
	table.Columns = in.Columns
	table.Rules = in.Rules
	table.UpdatedAt = s.now().UTC()
	stampRules(table)

	if err := s.store.SaveDecisionTable(ctx, table); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save table: %s", err.Error()).WithCause(err)
	}
	return table, nil
}

// GetTable returns a table with its columns and rules loaded.
func (s *Service) GetTable(ctx context.Context, id string) (*schema.DecisionTable, error) {
	return s.store.GetDecisionTable(ctx, id)
}

// ListTables lists tables matching the filter.
func (s *Service) ListTables(ctx context.Context, filter store.TableFilter) ([]*schema.DecisionTable, error) {
	return s.store.ListDecisionTables(ctx, filter)
}

// Publish validates the table and makes it available to workflow steps.
func (s *Service) Publish(ctx context.Context, id string) (*schema.DecisionTable, error) {
	table, err := s.store.GetDecisionTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if table.Status == schema.TableStatusArchived {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState, "table %s is archived", table.ID)
	}
	if table.Status == schema.TableStatusPublished {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState, "table %s is already published", table.ID)
	}

	if result := validation.ValidateTable(table); !result.Valid() {
		return nil, result.ToError()
	}

	table.Status = schema.TableStatusPublished
	table.Version++
	table.UpdatedAt = s.now().UTC()
	if err := s.store.SaveDecisionTable(ctx, table); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save table: %s", err.Error()).WithCause(err)
	}

	s.logger.Info("decision table published", "table_id", table.ID, "version", table.Version)
	return table, nil
}

// Unpublish returns a published table to draft for editing. Workflow steps
// referencing it keep working; the publish-time lint on the referencing
// definition surfaces the draft status as a warning.
func (s *Service) Unpublish(ctx context.Context, id string) (*schema.DecisionTable, error) {
	table, err := s.store.GetDecisionTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if table.Status != schema.TableStatusPublished {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"table %s is %s, only published tables can be unpublished", table.ID, table.Status)
	}

	table.Status = schema.TableStatusDraft
	table.UpdatedAt = s.now().UTC()
	if err := s.store.SaveDecisionTable(ctx, table); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save table: %s", err.Error()).WithCause(err)
	}
	return table, nil
}

// Archive retires a table. Archived tables are rejected by decision_table
// steps at execution time.
func (s *Service) Archive(ctx context.Context, id string) (*schema.DecisionTable, error) {
	table, err := s.store.GetDecisionTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if table.Status == schema.TableStatusArchived {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState, "table %s is already archived", table.ID)
	}

	table.Status = schema.TableStatusArchived
	table.UpdatedAt = s.now().UTC()
	if err := s.store.SaveDecisionTable(ctx, table); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save table: %s", err.Error()).WithCause(err)
	}
	return table, nil
}

// Preview evaluates the table against sample inputs without touching any
// case. Authors use it to sanity-check rule priorities before publishing.
func (s *Service) Preview(ctx context.Context, id string, inputs map[string]any) (*rules.Result, error) {
	table, err := s.store.GetDecisionTable(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.evaluator.Evaluate(table, inputs)
}

// stampRules fills in generated rule ids and back-references so callers can
// author rules without minting ids themselves.
func stampRules(table *schema.DecisionTable) {
	for i := range table.Rules {
		if table.Rules[i].ID == "" {
			table.Rules[i].ID = "rule_" + uuid.NewString()
		}
		table.Rules[i].TableID = table.ID
	}
}
