package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store; FSMs use it to emit audit events
// on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// --- Case FSM ---

type caseHookKey struct {
	from, to schema.CaseStatus
}

// CaseFSM manages case workflow lifecycle transitions.
type CaseFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[caseHookKey][]TransitionHook
	after    map[caseHookKey][]TransitionHook
}

// NewCaseFSM creates a CaseFSM that emits events via the given appender.
func NewCaseFSM(appender EventAppender) *CaseFSM {
	return &CaseFSM{
		appender: appender,
		before:   make(map[caseHookKey][]TransitionHook),
		after:    make(map[caseHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a case transition.
func (f *CaseFSM) OnBefore(from, to schema.CaseStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := caseHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a case transition.
func (f *CaseFSM) OnAfter(from, to schema.CaseStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := caseHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a case state transition, emitting the
// corresponding audit event. The caller persists the new state to the store.
func (f *CaseFSM) Transition(ctx context.Context, caseID string, from, to schema.CaseStatus) error {
	return f.TransitionWithPayload(ctx, caseID, from, to, nil)
}

// TransitionWithPayload is Transition with a payload attached to the emitted
// event, for transitions that carry context such as a cancel reason.
func (f *CaseFSM) TransitionWithPayload(ctx context.Context, caseID string, from, to schema.CaseStatus, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidCaseTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid case transition: %s -> %s", from, to).
			WithDetails(map[string]any{"case_id": caseID, "from": string(from), "to": string(to)})
	}

	key := caseHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := caseEventType(to)
	if eventType != "" {
		event := &store.Event{
			CaseID:  caseID,
			Type:    eventType,
			Payload: payload,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit case event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidCaseTransition(from, to schema.CaseStatus) bool {
	allowed, ok := ValidCaseTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func caseEventType(to schema.CaseStatus) string {
	switch to {
	case schema.CaseStatusRunning:
		return schema.EventCaseStarted
	case schema.CaseStatusPaused:
		return schema.EventCasePaused
	case schema.CaseStatusCompleted:
		return schema.EventCaseCompleted
	case schema.CaseStatusFailed:
		return schema.EventCaseFailed
	case schema.CaseStatusCancelled:
		return schema.EventCaseCancelled
	default:
		return ""
	}
}

// --- Execution FSM ---

type execHookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM manages step execution lifecycle transitions.
type ExecutionFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[execHookKey][]TransitionHook
	after    map[execHookKey][]TransitionHook
}

// NewExecutionFSM creates an ExecutionFSM that emits events via the given appender.
func NewExecutionFSM(appender EventAppender) *ExecutionFSM {
	return &ExecutionFSM{
		appender: appender,
		before:   make(map[execHookKey][]TransitionHook),
		after:    make(map[execHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before an execution transition.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := execHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after an execution transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := execHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a step execution state transition,
// emitting the corresponding audit event.
func (f *ExecutionFSM) Transition(ctx context.Context, caseID, stepID string, from, to schema.ExecutionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidExecutionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithStep(stepID).
			WithDetails(map[string]any{"case_id": caseID, "from": string(from), "to": string(to)})
	}

	key := execHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := executionEventType(to)
	if eventType != "" {
		event := &store.Event{
			CaseID: caseID,
			StepID: stepID,
			Type:   eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit step event: %s", err.Error()).
				WithStep(stepID).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidExecutionTransition(from, to schema.ExecutionStatus) bool {
	allowed, ok := ValidExecutionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func executionEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusWaiting:
		return schema.EventStepWaiting
	case schema.ExecutionStatusCompleted:
		return schema.EventStepCompleted
	case schema.ExecutionStatusFailed:
		return schema.EventStepFailed
	case schema.ExecutionStatusCancelled:
		return schema.EventStepCancelled
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidCaseTransitions defines the allowed state transitions for case workflows.
var ValidCaseTransitions = map[schema.CaseStatus][]schema.CaseStatus{
	schema.CaseStatusNotStarted: {schema.CaseStatusRunning, schema.CaseStatusCancelled},
	schema.CaseStatusRunning:    {schema.CaseStatusPaused, schema.CaseStatusCompleted, schema.CaseStatusFailed, schema.CaseStatusCancelled},
	schema.CaseStatusPaused:     {schema.CaseStatusRunning, schema.CaseStatusCancelled, schema.CaseStatusFailed},
	schema.CaseStatusCompleted:  {},
	schema.CaseStatusFailed:     {},
	schema.CaseStatusCancelled:  {},
}

// ValidExecutionTransitions defines the allowed state transitions for step executions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusWaiting, schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusWaiting:   {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusCancelled: {},
}
