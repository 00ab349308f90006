package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/pkg/schema"
)

// defaultApprovalWindow applies when a client_approval step names no expiry.
const defaultApprovalWindow = 7 * 24 * time.Hour

// ApprovalCreator persists client approval records.
type ApprovalCreator interface {
	CreateApproval(ctx context.Context, ap *store.ClientApproval) error
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ClientApprovalExecutor creates a token-bearing approval request and
// suspends the case. The client's response arrives through the runner's
// external completion path; expiry is enforced by the scheduler sweep.
type ClientApprovalExecutor struct {
	approvals ApprovalCreator
	now       func() time.Time
}

func NewClientApprovalExecutor(approvals ApprovalCreator) *ClientApprovalExecutor {
	return &ClientApprovalExecutor{approvals: approvals, now: time.Now}
}

func (e *ClientApprovalExecutor) Type() schema.StepType {
	return schema.StepTypeClientApproval
}

func (e *ClientApprovalExecutor) Execute(ctx context.Context, run *StepRun) (*StepResult, error) {
	var cfg schema.ClientApprovalConfig
	if err := json.Unmarshal(run.Step.Config, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"decode client_approval config: %s", err.Error()).WithStep(run.Step.ID).WithCause(err)
	}

	window := defaultApprovalWindow
	if cfg.ExpiresIn != "" {
		d, err := time.ParseDuration(cfg.ExpiresIn)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid expires_in %q: %s", cfg.ExpiresIn, err.Error()).WithStep(run.Step.ID).WithCause(err)
		}
		window = d
	}

	now := e.now().UTC()
	ap := &store.ClientApproval{
		ID:          "apr_" + uuid.NewString(),
		CaseID:      run.Case.ID,
		StepID:      run.Step.ID,
		ExecutionID: run.ExecutionID,
		Token:       uuid.NewString(),
		Message:     cfg.Message,
		Status:      store.ApprovalStatusPending,
		ExpiresAt:   now.Add(window),
		CreatedAt:   now,
	}

	if err := e.approvals.CreateApproval(ctx, ap); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create approval: %s", err.Error()).
			WithStep(run.Step.ID).WithCause(err)
	}

	payload, _ := json.Marshal(map[string]any{"approval_id": ap.ID, "expires_at": ap.ExpiresAt})
	if err := e.approvals.AppendEvent(ctx, &store.Event{
		CaseID:  run.Case.ID,
		StepID:  run.Step.ID,
		Type:    schema.EventApprovalRequested,
		Payload: payload,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "emit approval event: %s", err.Error()).WithCause(err)
	}

	return &StepResult{Status: OutcomePending}, nil
}

var _ Executor = (*ClientApprovalExecutor)(nil)
