package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/pkg/schema"
)

// TaskCreator persists human task records.
type TaskCreator interface {
	CreateHumanTask(ctx context.Context, task *store.HumanTask) error
	AppendEvent(ctx context.Context, event *store.Event) error
}

// HumanTaskExecutor creates a pending task for a staff member and suspends
// the case. The task is completed later through the runner's external
// completion path.
type HumanTaskExecutor struct {
	tasks TaskCreator
	now   func() time.Time
}

func NewHumanTaskExecutor(tasks TaskCreator) *HumanTaskExecutor {
	return &HumanTaskExecutor{tasks: tasks, now: time.Now}
}

func (e *HumanTaskExecutor) Type() schema.StepType {
	return schema.StepTypeHumanTask
}

func (e *HumanTaskExecutor) Execute(ctx context.Context, run *StepRun) (*StepResult, error) {
	var cfg schema.HumanTaskConfig
	if err := json.Unmarshal(run.Step.Config, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"decode human_task config: %s", err.Error()).WithStep(run.Step.ID).WithCause(err)
	}

	task := &store.HumanTask{
		ID:          "task_" + uuid.NewString(),
		CaseID:      run.Case.ID,
		StepID:      run.Step.ID,
		ExecutionID: run.ExecutionID,
		Title:       cfg.Title,
		Assignee:    cfg.Assignee,
		Status:      store.TaskStatusOpen,
		CreatedAt:   e.now().UTC(),
	}
	if cfg.DueIn != "" {
		d, err := time.ParseDuration(cfg.DueIn)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid due_in %q: %s", cfg.DueIn, err.Error()).WithStep(run.Step.ID).WithCause(err)
		}
		due := task.CreatedAt.Add(d)
		task.DueAt = &due
	}

	if err := e.tasks.CreateHumanTask(ctx, task); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create human task: %s", err.Error()).
			WithStep(run.Step.ID).WithCause(err)
	}

	payload, _ := json.Marshal(map[string]any{"task_id": task.ID, "title": task.Title, "assignee": task.Assignee})
	if err := e.tasks.AppendEvent(ctx, &store.Event{
		CaseID:  run.Case.ID,
		StepID:  run.Step.ID,
		Type:    schema.EventTaskCreated,
		Payload: payload,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "emit task event: %s", err.Error()).WithCause(err)
	}

	return &StepResult{Status: OutcomePending}, nil
}

var _ Executor = (*HumanTaskExecutor)(nil)
