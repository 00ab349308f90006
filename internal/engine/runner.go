package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taxops/caseflow/internal/notify"
	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/pkg/schema"
)

// DefaultMaxVisits bounds how many times a single step may execute within
// one case when the step itself declares no limit. Workflow graphs may
// contain intentional loops (rework cycles); runaway ones must not spin
// forever.
const DefaultMaxVisits = 25

// StartCaseInput carries everything needed to start a workflow on a case.
type StartCaseInput struct {
	CaseRef      string
	DefinitionID string
	Inputs       map[string]any
	StartedBy    string
}

// ExternalResult is a completion delivered for a waiting step from outside
// the engine: a finished staff task or a client's approval response.
type ExternalResult struct {
	Success bool
	Output  map[string]any
	Reason  string
	ActorID string
}

// Runner drives case workflows through their step graphs. Operations on the
// same case are serialized through a per-case lock; different cases proceed
// concurrently.
type Runner struct {
	store    store.Store
	registry *Registry
	caseFSM  *CaseFSM
	execFSM  *ExecutionFSM
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	locks sync.Map // case ID -> *sync.Mutex
}

// NewRunner creates a Runner.
func NewRunner(st store.Store, registry *Registry, logger *slog.Logger) *Runner {
	return &Runner{
		store:    st,
		registry: registry,
		caseFSM:  NewCaseFSM(st),
		execFSM:  NewExecutionFSM(st),
		logger:   logger,
		now:      time.Now,
	}
}

// SetNotifier attaches a notification sink. Notifications are fire and
// forget; delivery failures are logged, never propagated.
func (r *Runner) SetNotifier(n notify.Notifier) {
	r.notifier = n
}

func (r *Runner) notify(ctx context.Context, n notify.Notification) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.ErrorContext(ctx, "notification delivery failed",
			slog.String("kind", n.Kind), slog.String("case_id", n.CaseID), slog.String("error", err.Error()))
	}
}

func (r *Runner) lockFor(caseID string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(caseID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// StartCase binds the definition's active snapshot to a new case workflow
// and runs it until it completes, fails, or suspends on an async step.
func (r *Runner) StartCase(ctx context.Context, in StartCaseInput) (*store.CaseWorkflow, error) {
	snap, err := r.store.GetActiveSnapshot(ctx, in.DefinitionID)
	if err != nil {
		return nil, err
	}

	contextJSON, err := json.Marshal(in.Inputs)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "encode case inputs: %s", err.Error()).WithCause(err)
	}

	now := r.now().UTC()
	cw := &store.CaseWorkflow{
		ID:           "case_" + uuid.NewString(),
		CaseRef:      in.CaseRef,
		DefinitionID: in.DefinitionID,
		SnapshotID:   snap.ID,
		Version:      snap.Version,
		Status:       schema.CaseStatusNotStarted,
		Context:      contextJSON,
		StartedBy:    in.StartedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.CreateCase(ctx, cw); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create case: %s", err.Error()).WithCause(err)
	}

	if err := r.Start(ctx, cw.ID); err != nil {
		return nil, err
	}
	return r.store.GetCase(ctx, cw.ID)
}

// Start moves a not-started case into running and advances it.
func (r *Runner) Start(ctx context.Context, caseID string) error {
	mu := r.lockFor(caseID)
	mu.Lock()
	defer mu.Unlock()

	cw, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return err
	}

	if err := r.caseFSM.Transition(ctx, cw.ID, cw.Status, schema.CaseStatusRunning); err != nil {
		return err
	}

	snap, err := r.store.GetSnapshot(ctx, cw.SnapshotID)
	if err != nil {
		return err
	}
	entry := snap.Graph.EntryStep()
	if entry == nil {
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"snapshot %q has no entry step", snap.ID)
	}

	running := schema.CaseStatusRunning
	startedAt := r.now().UTC()
	stepID := entry.ID
	if err := r.store.UpdateCase(ctx, cw.ID, store.CaseUpdate{
		Status:        &running,
		CurrentStepID: &stepID,
		StartedAt:     &startedAt,
	}); err != nil {
		return err
	}

	cw.Status = running
	cw.CurrentStepID = stepID
	return r.advance(ctx, cw, &snap.Graph)
}

// advance runs synchronous steps in sequence until the case reaches a
// terminal state or suspends on an async step. It is always called with the
// case lock held.
func (r *Runner) advance(ctx context.Context, cw *store.CaseWorkflow, graph *schema.StepGraph) error {
	for {
		if cw.Status != schema.CaseStatusRunning {
			return nil
		}
		if cw.CurrentStepID == "" {
			return r.completeCase(ctx, cw)
		}

		step := graph.Step(cw.CurrentStepID)
		if step == nil {
			// Dangling successor: treat as end of flow.
			return r.completeCase(ctx, cw)
		}

		visits, err := r.store.CountExecutions(ctx, cw.ID, step.ID)
		if err != nil {
			return err
		}
		if visits >= maxVisits(step) {
			return r.failCase(ctx, cw, schema.NewErrorf(schema.ErrCodeExecution,
				"step %q exceeded %d executions; aborting probable loop", step.ID, maxVisits(step)).Error())
		}

		caseContext, err := decodeContext(cw.Context)
		if err != nil {
			return err
		}

		exec := &store.StepExecution{
			ID:        "exec_" + uuid.NewString(),
			CaseID:    cw.ID,
			StepID:    step.ID,
			Status:    schema.ExecutionStatusRunning,
			Input:     cw.Context,
			StartedAt: r.now().UTC(),
		}
		if err := r.store.CreateExecution(ctx, exec); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "create execution: %s", err.Error()).WithCause(err)
		}
		if err := r.store.AppendEvent(ctx, &store.Event{
			CaseID: cw.ID, StepID: step.ID, Type: schema.EventStepStarted,
		}); err != nil {
			return err
		}

		r.logger.InfoContext(ctx, "executing step",
			slog.String("case_id", cw.ID),
			slog.String("step_id", step.ID),
			slog.String("step_type", string(step.Type)))

		executor, err := r.registry.Resolve(step.Type)
		if err != nil {
			return err
		}

		run := &StepRun{Case: cw, Step: step, ExecutionID: exec.ID, Context: caseContext}
		result, execErr := executor.Execute(ctx, run)

		// A cancel may have landed while the step ran; its outcome is
		// discarded rather than committed against a cancelled case.
		fresh, err := r.store.GetCase(ctx, cw.ID)
		if err != nil {
			return err
		}
		if fresh.Status == schema.CaseStatusCancelled {
			return r.execFSM.Transition(ctx, cw.ID, step.ID, schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled)
		}

		// An executor error is an engine-level fault (missing table,
		// malformed config, storage outage), not a business outcome: it
		// fails the case outright and never routes through on_failure.
		if execErr != nil {
			if err := r.markExecutionFailed(ctx, cw.ID, step.ID, exec.ID, execErr.Error()); err != nil {
				return err
			}
			return r.failCase(ctx, cw, execErr.Error())
		}

		switch result.Status {
		case OutcomePending:
			if err := r.execFSM.Transition(ctx, cw.ID, step.ID, schema.ExecutionStatusRunning, schema.ExecutionStatusWaiting); err != nil {
				return err
			}
			waiting := schema.ExecutionStatusWaiting
			if err := r.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{Status: &waiting}); err != nil {
				return err
			}
			kind := notify.KindTaskCreated
			if step.Type == schema.StepTypeClientApproval {
				kind = notify.KindApprovalRequested
			}
			r.notify(ctx, notify.Notification{
				Kind:    kind,
				CaseID:  cw.ID,
				Subject: fmt.Sprintf("case %s is waiting on step %q", cw.CaseRef, step.Name),
				Fields:  map[string]any{"step_id": step.ID, "execution_id": exec.ID},
			})
			return nil

		case OutcomeSuccess:
			if err := r.commitSuccess(ctx, cw, step, exec.ID, result.Output); err != nil {
				return err
			}

		case OutcomeFailure:
			done, err := r.commitFailure(ctx, cw, step, exec.ID, result.Reason)
			if err != nil || done {
				return err
			}
		}
	}
}

// commitSuccess persists a successful execution, merges its output into the
// case context, and points the case at the on_success step.
func (r *Runner) commitSuccess(ctx context.Context, cw *store.CaseWorkflow, step *schema.WorkflowStep, execID string, output map[string]any) error {
	if err := r.execFSM.Transition(ctx, cw.ID, step.ID, schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted); err != nil {
		return err
	}

	outputJSON, err := json.Marshal(output)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "encode step output: %s", err.Error()).WithCause(err)
	}

	completed := schema.ExecutionStatusCompleted
	completedAt := r.now().UTC()
	if err := r.store.UpdateExecution(ctx, execID, store.ExecutionUpdate{
		Status:      &completed,
		Output:      outputJSON,
		CompletedAt: &completedAt,
	}); err != nil {
		return err
	}

	merged, err := mergeContext(cw.Context, output)
	if err != nil {
		return err
	}

	next := step.OnSuccess
	if err := r.store.UpdateCase(ctx, cw.ID, store.CaseUpdate{
		CurrentStepID: &next,
		Context:       merged,
	}); err != nil {
		return err
	}

	cw.Context = merged
	cw.CurrentStepID = next
	return nil
}

// commitFailure persists a failed execution and routes the case. Returns
// done=true when the case reached a terminal state.
func (r *Runner) commitFailure(ctx context.Context, cw *store.CaseWorkflow, step *schema.WorkflowStep, execID, reason string) (bool, error) {
	if err := r.markExecutionFailed(ctx, cw.ID, step.ID, execID, reason); err != nil {
		return true, err
	}

	switch {
	case step.OnFailure != "":
		next := step.OnFailure
		if err := r.store.UpdateCase(ctx, cw.ID, store.CaseUpdate{CurrentStepID: &next}); err != nil {
			return true, err
		}
		cw.CurrentStepID = next
		return false, nil

	case !step.Required:
		// Optional step: failure does not stop the flow.
		next := step.OnSuccess
		if err := r.store.UpdateCase(ctx, cw.ID, store.CaseUpdate{CurrentStepID: &next}); err != nil {
			return true, err
		}
		cw.CurrentStepID = next
		return false, nil

	default:
		return true, r.failCase(ctx, cw, reason)
	}
}

// markExecutionFailed transitions a running execution to failed and persists
// the failure reason on the execution record.
func (r *Runner) markExecutionFailed(ctx context.Context, caseID, stepID, execID, reason string) error {
	if err := r.execFSM.Transition(ctx, caseID, stepID, schema.ExecutionStatusRunning, schema.ExecutionStatusFailed); err != nil {
		return err
	}
	failed := schema.ExecutionStatusFailed
	completedAt := r.now().UTC()
	return r.store.UpdateExecution(ctx, execID, store.ExecutionUpdate{
		Status:       &failed,
		ErrorMessage: &reason,
		CompletedAt:  &completedAt,
	})
}

func (r *Runner) completeCase(ctx context.Context, cw *store.CaseWorkflow) error {
	if err := r.caseFSM.Transition(ctx, cw.ID, cw.Status, schema.CaseStatusCompleted); err != nil {
		return err
	}
	completed := schema.CaseStatusCompleted
	completedAt := r.now().UTC()
	empty := ""
	if err := r.store.UpdateCase(ctx, cw.ID, store.CaseUpdate{
		Status:        &completed,
		CurrentStepID: &empty,
		CompletedAt:   &completedAt,
	}); err != nil {
		return err
	}
	cw.Status = completed
	r.logger.InfoContext(ctx, "case completed", slog.String("case_id", cw.ID))
	r.notify(ctx, notify.Notification{
		Kind:    notify.KindCaseCompleted,
		CaseID:  cw.ID,
		Subject: fmt.Sprintf("case %s completed", cw.CaseRef),
	})
	return nil
}

func (r *Runner) failCase(ctx context.Context, cw *store.CaseWorkflow, reason string) error {
	if err := r.caseFSM.Transition(ctx, cw.ID, cw.Status, schema.CaseStatusFailed); err != nil {
		return err
	}
	failed := schema.CaseStatusFailed
	completedAt := r.now().UTC()
	if err := r.store.UpdateCase(ctx, cw.ID, store.CaseUpdate{
		Status:       &failed,
		ErrorMessage: &reason,
		CompletedAt:  &completedAt,
	}); err != nil {
		return err
	}
	cw.Status = failed
	r.logger.WarnContext(ctx, "case failed",
		slog.String("case_id", cw.ID), slog.String("reason", reason))
	r.notify(ctx, notify.Notification{
		Kind:    notify.KindCaseFailed,
		CaseID:  cw.ID,
		Subject: fmt.Sprintf("case %s failed", cw.CaseRef),
		Fields:  map[string]any{"reason": reason},
	})
	return nil
}

// CompleteTask delivers a staff member's resolution of an open human task
// and resumes the case. Completing a task whose execution is no longer the
// case's waiting step yields a STALE_STEP error.
func (r *Runner) CompleteTask(ctx context.Context, taskID string, result ExternalResult) error {
	task, err := r.store.GetHumanTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != store.TaskStatusOpen && task.Status != store.TaskStatusOverdue {
		return schema.NewErrorf(schema.ErrCodeStaleStep,
			"task %q is %s; it may have been completed or cancelled already", taskID, task.Status)
	}

	if err := r.deliver(ctx, task.CaseID, task.ExecutionID, task.StepID, result); err != nil {
		return err
	}
	return r.store.UpdateHumanTaskStatus(ctx, task.ID, store.TaskStatusCompleted)
}

// RespondApproval records a client's response to a pending approval and
// resumes the case. Approved responses follow on_success; declined ones are
// failure outcomes. Responses after expiry are rejected.
func (r *Runner) RespondApproval(ctx context.Context, token string, approved bool, actorID string) error {
	ap, err := r.store.GetApprovalByToken(ctx, token)
	if err != nil {
		return err
	}
	if ap.Status != store.ApprovalStatusPending {
		return schema.NewErrorf(schema.ErrCodeStaleStep,
			"approval %q is %s; a response was already recorded", ap.ID, ap.Status)
	}
	if r.now().UTC().After(ap.ExpiresAt) {
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"approval %q expired at %s", ap.ID, ap.ExpiresAt.Format(time.RFC3339))
	}

	status := store.ApprovalStatusApproved
	result := ExternalResult{
		Success: true,
		Output:  map[string]any{"approval_result": "approved"},
		ActorID: actorID,
	}
	if !approved {
		status = store.ApprovalStatusDeclined
		result = ExternalResult{Success: false, Reason: "client declined approval", ActorID: actorID}
	}

	if err := r.deliver(ctx, ap.CaseID, ap.ExecutionID, ap.StepID, result); err != nil {
		return err
	}
	return r.store.UpdateApprovalStatus(ctx, ap.ID, status)
}

// ExpireApproval fails a pending approval's waiting step. Called by the
// maintenance sweep when the expiry window passes without a response.
func (r *Runner) ExpireApproval(ctx context.Context, ap *store.ClientApproval) error {
	if ap.Status != store.ApprovalStatusPending {
		return nil
	}
	if err := r.deliver(ctx, ap.CaseID, ap.ExecutionID, ap.StepID, ExternalResult{
		Success: false,
		Reason:  "client approval expired without a response",
	}); err != nil {
		return err
	}
	if err := r.store.UpdateApprovalStatus(ctx, ap.ID, store.ApprovalStatusExpired); err != nil {
		return err
	}
	return r.store.AppendEvent(ctx, &store.Event{
		CaseID: ap.CaseID,
		StepID: ap.StepID,
		Type:   schema.EventApprovalExpired,
	})
}

// deliver commits an external completion against a waiting execution and
// advances the case.
func (r *Runner) deliver(ctx context.Context, caseID, executionID, stepID string, result ExternalResult) error {
	mu := r.lockFor(caseID)
	mu.Lock()
	defer mu.Unlock()

	cw, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if exec.Status != schema.ExecutionStatusWaiting || cw.CurrentStepID != stepID {
		return schema.NewErrorf(schema.ErrCodeStaleStep,
			"step %q is not the case's waiting step; the case has moved on", stepID).
			WithStep(stepID).
			WithDetails(map[string]any{"case_id": caseID, "execution_status": string(exec.Status)})
	}
	if cw.Status != schema.CaseStatusRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"case %q is %s; external completions apply only to running cases", caseID, cw.Status)
	}

	snap, err := r.store.GetSnapshot(ctx, cw.SnapshotID)
	if err != nil {
		return err
	}
	step := snap.Graph.Step(stepID)
	if step == nil {
		return schema.NewErrorf(schema.ErrCodeInvalidState, "step %q missing from snapshot", stepID)
	}

	if result.Success {
		if err := r.execFSM.Transition(ctx, caseID, stepID, schema.ExecutionStatusWaiting, schema.ExecutionStatusCompleted); err != nil {
			return err
		}
		outputJSON, err := json.Marshal(result.Output)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "encode completion output: %s", err.Error()).WithCause(err)
		}
		completed := schema.ExecutionStatusCompleted
		completedAt := r.now().UTC()
		if err := r.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{
			Status:      &completed,
			Output:      outputJSON,
			CompletedAt: &completedAt,
		}); err != nil {
			return err
		}

		merged, err := mergeContext(cw.Context, result.Output)
		if err != nil {
			return err
		}
		next := step.OnSuccess
		if err := r.store.UpdateCase(ctx, caseID, store.CaseUpdate{
			CurrentStepID: &next,
			Context:       merged,
		}); err != nil {
			return err
		}
		cw.Context = merged
		cw.CurrentStepID = next
	} else {
		if err := r.execFSM.Transition(ctx, caseID, stepID, schema.ExecutionStatusWaiting, schema.ExecutionStatusFailed); err != nil {
			return err
		}
		failed := schema.ExecutionStatusFailed
		completedAt := r.now().UTC()
		if err := r.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{
			Status:       &failed,
			ErrorMessage: &result.Reason,
			CompletedAt:  &completedAt,
		}); err != nil {
			return err
		}

		switch {
		case step.OnFailure != "":
			next := step.OnFailure
			if err := r.store.UpdateCase(ctx, caseID, store.CaseUpdate{CurrentStepID: &next}); err != nil {
				return err
			}
			cw.CurrentStepID = next
		case !step.Required:
			next := step.OnSuccess
			if err := r.store.UpdateCase(ctx, caseID, store.CaseUpdate{CurrentStepID: &next}); err != nil {
				return err
			}
			cw.CurrentStepID = next
		default:
			return r.failCase(ctx, cw, result.Reason)
		}
	}

	return r.advance(ctx, cw, &snap.Graph)
}

// Pause suspends a running case. Any waiting async work stays pending.
func (r *Runner) Pause(ctx context.Context, caseID string) error {
	mu := r.lockFor(caseID)
	mu.Lock()
	defer mu.Unlock()

	cw, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if err := r.caseFSM.Transition(ctx, caseID, cw.Status, schema.CaseStatusPaused); err != nil {
		return err
	}
	paused := schema.CaseStatusPaused
	return r.store.UpdateCase(ctx, caseID, store.CaseUpdate{Status: &paused})
}

// Resume moves a paused case back to running and advances it.
func (r *Runner) Resume(ctx context.Context, caseID string) error {
	mu := r.lockFor(caseID)
	mu.Lock()
	defer mu.Unlock()

	cw, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if err := r.caseFSM.Transition(ctx, caseID, cw.Status, schema.CaseStatusRunning); err != nil {
		return err
	}
	if err := r.store.AppendEvent(ctx, &store.Event{CaseID: caseID, Type: schema.EventCaseResumed}); err != nil {
		return err
	}
	running := schema.CaseStatusRunning
	if err := r.store.UpdateCase(ctx, caseID, store.CaseUpdate{Status: &running}); err != nil {
		return err
	}
	cw.Status = running

	// A case paused mid-wait resumes into its waiting step; only continue
	// advancing when the current execution is not pending external work.
	if cw.CurrentStepID != "" {
		execs, err := r.store.ListExecutions(ctx, caseID)
		if err != nil {
			return err
		}
		for i := len(execs) - 1; i >= 0; i-- {
			if execs[i].StepID == cw.CurrentStepID && execs[i].Status == schema.ExecutionStatusWaiting {
				return nil
			}
		}
	}

	snap, err := r.store.GetSnapshot(ctx, cw.SnapshotID)
	if err != nil {
		return err
	}
	return r.advance(ctx, cw, &snap.Graph)
}

// Cancel terminates a case, recording why it was stopped, and cascades to
// its open tasks and pending approvals.
func (r *Runner) Cancel(ctx context.Context, caseID, reason string) error {
	mu := r.lockFor(caseID)
	mu.Lock()
	defer mu.Unlock()

	cw, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "encode cancel reason: %s", err.Error()).WithCause(err)
	}
	if err := r.caseFSM.TransitionWithPayload(ctx, caseID, cw.Status, schema.CaseStatusCancelled, payload); err != nil {
		return err
	}
	cancelled := schema.CaseStatusCancelled
	completedAt := r.now().UTC()
	if err := r.store.UpdateCase(ctx, caseID, store.CaseUpdate{
		Status:       &cancelled,
		ErrorMessage: &reason,
		CompletedAt:  &completedAt,
	}); err != nil {
		return err
	}

	tasks, err := r.store.ListHumanTasks(ctx, store.TaskFilter{CaseID: caseID, Status: store.TaskStatusOpen})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := r.store.UpdateHumanTaskStatus(ctx, t.ID, store.TaskStatusCancelled); err != nil {
			return err
		}
	}

	approvals, err := r.store.ListApprovals(ctx, store.ApprovalFilter{CaseID: caseID, Status: store.ApprovalStatusPending})
	if err != nil {
		return err
	}
	for _, ap := range approvals {
		if err := r.store.UpdateApprovalStatus(ctx, ap.ID, store.ApprovalStatusCancelled); err != nil {
			return err
		}
	}

	r.logger.InfoContext(ctx, "case cancelled",
		slog.String("case_id", caseID), slog.String("reason", reason))
	return nil
}

// --- Helpers ---

func maxVisits(step *schema.WorkflowStep) int {
	if step.MaxVisits > 0 {
		return step.MaxVisits
	}
	return DefaultMaxVisits
}

func decodeContext(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "decode case context: %s", err.Error()).WithCause(err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func mergeContext(raw json.RawMessage, output map[string]any) (json.RawMessage, error) {
	m, err := decodeContext(raw)
	if err != nil {
		return nil, err
	}
	for k, v := range output {
		m[k] = v
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "encode case context: %s", err.Error()).WithCause(err)
	}
	return merged, nil
}
