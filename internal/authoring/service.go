package authoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taxops/caseflow/internal/diagram"
	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/internal/validation"
	"github.com/taxops/caseflow/pkg/schema"
)

// Service manages the authoring lifecycle of workflow definitions: draft
// editing, publish-time validation, and snapshot creation. Published
// snapshots are immutable; edits after publishing only touch the draft and
// take effect on the next publish.
type Service struct {
	store     store.Store
	validator *validation.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service.
func NewService(st store.Store, validator *validation.Validator, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateDefinitionInput carries the fields for a new draft definition.
type CreateDefinitionInput struct {
	Name     string
	Category string
}

// CreateDefinition creates a new draft definition with no steps.
func (s *Service) CreateDefinition(ctx context.Context, in CreateDefinitionInput) (*schema.WorkflowDefinition, error) {
	if in.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition name is required")
	}

	now := s.now().UTC()
	def := &schema.WorkflowDefinition{
		ID:             "def_" + uuid.NewString(),
		Name:           in.Name,
		Category:       in.Category,
		Status:         schema.DefinitionStatusDraft,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create definition: %s", err.Error()).WithCause(err)
	}

	s.logger.Info("definition created", "definition_id", def.ID, "name", def.Name)
	return def, nil
}

// GetDefinition returns a definition with its draft steps loaded.
func (s *Service) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	return s.store.GetDefinition(ctx, id)
}

// ListDefinitions lists definitions matching the filter.
func (s *Service) ListDefinitions(ctx context.Context, filter store.DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	return s.store.ListDefinitions(ctx, filter)
}

// UpdateDefinitionInput carries the mutable metadata of a definition.
// Nil fields are left unchanged.
type UpdateDefinitionInput struct {
	Name     *string
	Category *string
}

// UpdateDefinition changes a definition's metadata. Archived definitions
// are immutable.
func (s *Service) UpdateDefinition(ctx context.Context, id string, in UpdateDefinitionInput) (*schema.WorkflowDefinition, error) {
	def, err := s.editableDefinition(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if *in.Name == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "definition name cannot be empty")
		}
		def.Name = *in.Name
	}
	if in.Category != nil {
		def.Category = *in.Category
	}
	def.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update definition: %s", err.Error()).WithCause(err)
	}
	return def, nil
}

// StepInput carries the authorable fields of a workflow step.
type StepInput struct {
	Name      string
	Type      schema.StepType
	SortOrder int
	Config    json.RawMessage
	OnSuccess string
	OnFailure string
	Required  bool
	MaxVisits int
}

// AddStep appends a step to a definition's draft graph. The step config is
// validated structurally right away; cross-step references (successors,
// table ids) are only checked at publish time so steps can be authored in
// any order.
func (s *Service) AddStep(ctx context.Context, definitionID string, in StepInput) (*schema.WorkflowStep, error) {
	def, err := s.editableDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	step := &schema.WorkflowStep{
		ID:           "step_" + uuid.NewString(),
		DefinitionID: def.ID,
		Name:         in.Name,
		Type:         in.Type,
		SortOrder:    in.SortOrder,
		Config:       in.Config,
		OnSuccess:    in.OnSuccess,
		OnFailure:    in.OnFailure,
		Required:     in.Required,
		MaxVisits:    in.MaxVisits,
	}
	if result := s.validator.Configs().ValidateStepConfig(step); !result.Valid() {
		return nil, result.ToError()
	}

	if err := s.store.CreateStep(ctx, step); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create step: %s", err.Error()).WithCause(err)
	}
	if err := s.touch(ctx, def); err != nil {
		return nil, err
	}

	s.logger.Info("step added", "definition_id", def.ID, "step_id", step.ID, "type", step.Type)
	return step, nil
}

// UpdateStep replaces the authorable fields of an existing draft step.
func (s *Service) UpdateStep(ctx context.Context, definitionID, stepID string, in StepInput) (*schema.WorkflowStep, error) {
	def, err := s.editableDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findStep(ctx, def.ID, stepID)
	if err != nil {
		return nil, err
	}

	existing.Name = in.Name
	existing.Type = in.Type
	existing.SortOrder = in.SortOrder
	existing.Config = in.Config
	existing.OnSuccess = in.OnSuccess
	existing.OnFailure = in.OnFailure
	existing.Required = in.Required
	existing.MaxVisits = in.MaxVisits

	if result := s.validator.Configs().ValidateStepConfig(existing); !result.Valid() {
		return nil, result.ToError()
	}

	if err := s.store.UpdateStep(ctx, existing); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update step: %s", err.Error()).WithCause(err)
	}
	if err := s.touch(ctx, def); err != nil {
		return nil, err
	}
	return existing, nil
}

// RemoveStep deletes a step from the draft graph. Other steps that still
// name it as a successor keep the dangling reference; publish-time lint
// surfaces it as a warning and the engine treats it as "no successor".
func (s *Service) RemoveStep(ctx context.Context, definitionID, stepID string) error {
	def, err := s.editableDefinition(ctx, definitionID)
	if err != nil {
		return err
	}

	if _, err := s.findStep(ctx, def.ID, stepID); err != nil {
		return err
	}
	if err := s.store.DeleteStep(ctx, def.ID, stepID); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete step: %s", err.Error()).WithCause(err)
	}
	return s.touch(ctx, def)
}

// PublishResult reports the outcome of a publish: the new snapshot plus any
// non-blocking lint warnings that were accepted.
type PublishResult struct {
	Snapshot *store.VersionSnapshot   `json:"snapshot"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// Publish validates the draft graph and, if it passes, freezes it into a new
// active snapshot. Running cases keep the snapshot they were started with;
// only cases created after the publish see the new version.
func (s *Service) Publish(ctx context.Context, definitionID, publishedBy string) (*PublishResult, error) {
	def, err := s.editableDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	steps, err := s.store.ListSteps(ctx, def.ID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list steps: %s", err.Error()).WithCause(err)
	}
	def.Steps = steps

	result := s.validator.ValidateDefinition(ctx, def)
	if !result.Valid() {
		return nil, result.ToError()
	}

	now := s.now().UTC()
	snap := &store.VersionSnapshot{
		ID:           "snap_" + uuid.NewString(),
		DefinitionID: def.ID,
		Version:      def.CurrentVersion,
		Graph:        schema.StepGraph{Steps: steps},
		Active:       true,
		PublishedBy:  publishedBy,
		PublishedAt:  now,
	}
	if err := s.store.PublishSnapshot(ctx, snap); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "publish snapshot: %s", err.Error()).WithCause(err)
	}

	def.Status = schema.DefinitionStatusPublished
	def.CurrentVersion++
	def.UpdatedAt = now
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update definition: %s", err.Error()).WithCause(err)
	}

	payload, _ := json.Marshal(map[string]any{
		"definition_id": def.ID,
		"snapshot_id":   snap.ID,
		"version":       snap.Version,
		"step_count":    len(steps),
	})
	// Definition-scoped audit record: CaseID stays empty so publish history
	// never leaks into a case's event log. The payload carries the ids.
	if err := s.store.AppendEvent(ctx, &store.Event{
		Type:      schema.EventSnapshotPublished,
		Payload:   payload,
		ActorID:   publishedBy,
		Timestamp: now,
	}); err != nil {
		s.logger.Warn("publish event append failed", "definition_id", def.ID, "error", err)
	}

	s.logger.Info("definition published",
		"definition_id", def.ID,
		"snapshot_id", snap.ID,
		"version", snap.Version,
		"warnings", len(result.Warnings),
	)
	return &PublishResult{Snapshot: snap, Warnings: result.Warnings}, nil
}

// Unpublish returns a published definition to draft. The active snapshot is
// left in place: cases already bound to it keep running, and new cases can
// still start from it until the next publish replaces it.
func (s *Service) Unpublish(ctx context.Context, definitionID string) (*schema.WorkflowDefinition, error) {
	def, err := s.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def.Status != schema.DefinitionStatusPublished {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"definition %s is %s, only published definitions can be unpublished", def.ID, def.Status)
	}

	def.Status = schema.DefinitionStatusDraft
	def.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update definition: %s", err.Error()).WithCause(err)
	}
	return def, nil
}

// Archive retires a definition. Archived definitions cannot be edited or
// published again; running cases bound to earlier snapshots are unaffected.
func (s *Service) Archive(ctx context.Context, definitionID string) (*schema.WorkflowDefinition, error) {
	def, err := s.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def.Status == schema.DefinitionStatusArchived {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState, "definition %s is already archived", def.ID)
	}

	def.Status = schema.DefinitionStatusArchived
	def.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update definition: %s", err.Error()).WithCause(err)
	}

	s.logger.Info("definition archived", "definition_id", def.ID)
	return def, nil
}

// ListSnapshots returns a definition's publish history, newest first.
func (s *Service) ListSnapshots(ctx context.Context, definitionID string) ([]*store.VersionSnapshot, error) {
	return s.store.ListSnapshots(ctx, definitionID)
}

// ResolveActiveSnapshot returns the snapshot new cases of this definition
// would run against.
func (s *Service) ResolveActiveSnapshot(ctx context.Context, definitionID string) (*store.VersionSnapshot, error) {
	return s.store.GetActiveSnapshot(ctx, definitionID)
}

// RenderDiagram returns a Mermaid flowchart of the definition's current step
// graph. Drafts with dangling successors still render; the broken edges are
// simply omitted.
func (s *Service) RenderDiagram(ctx context.Context, definitionID string) (string, error) {
	def, err := s.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return "", err
	}
	steps, err := s.store.ListSteps(ctx, definitionID)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "list steps: %s", err.Error()).WithCause(err)
	}
	graph := &schema.StepGraph{Steps: steps}
	return diagram.RenderMermaid(diagram.Build(def.Name, graph, nil)), nil
}

func (s *Service) editableDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.Status == schema.DefinitionStatusArchived {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState, "definition %s is archived and cannot be modified", def.ID)
	}
	return def, nil
}

func (s *Service) findStep(ctx context.Context, definitionID, stepID string) (*schema.WorkflowStep, error) {
	steps, err := s.store.ListSteps(ctx, definitionID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list steps: %s", err.Error()).WithCause(err)
	}
	for i := range steps {
		if steps[i].ID == stepID {
			return &steps[i], nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "step %s not found in definition %s", stepID, definitionID)
}

func (s *Service) touch(ctx context.Context, def *schema.WorkflowDefinition) error {
	def.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update definition: %s", err.Error()).WithCause(err)
	}
	return nil
}
