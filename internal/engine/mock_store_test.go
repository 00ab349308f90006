package engine

import (
	"context"
	"sync"
	"time"

	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/pkg/schema"
)

// mockStore is a minimal in-memory Store for testing.
type mockStore struct {
	mu          sync.Mutex
	definitions map[string]*schema.WorkflowDefinition
	snapshots   map[string]*store.VersionSnapshot
	cases       map[string]*store.CaseWorkflow
	executions  map[string]*store.StepExecution
	execOrder   []string
	tasks       map[string]*store.HumanTask
	approvals   map[string]*store.ClientApproval
	tables      map[string]*schema.DecisionTable
	events      []*store.Event
	seq         map[string]int64
}

func newMockStore() *mockStore {
	return &mockStore{
		definitions: make(map[string]*schema.WorkflowDefinition),
		snapshots:   make(map[string]*store.VersionSnapshot),
		cases:       make(map[string]*store.CaseWorkflow),
		executions:  make(map[string]*store.StepExecution),
		tasks:       make(map[string]*store.HumanTask),
		approvals:   make(map[string]*store.ClientApproval),
		tables:      make(map[string]*schema.DecisionTable),
		seq:         make(map[string]int64),
	}
}

func notFound(resource, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func (m *mockStore) CreateDefinition(_ context.Context, def *schema.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *def
	m.definitions[def.ID] = &cp
	return nil
}

func (m *mockStore) GetDefinition(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok {
		return nil, notFound("definition", id)
	}
	cp := *def
	return &cp, nil
}

func (m *mockStore) UpdateDefinition(_ context.Context, def *schema.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[def.ID]; !ok {
		return notFound("definition", def.ID)
	}
	cp := *def
	m.definitions[def.ID] = &cp
	return nil
}

func (m *mockStore) ListDefinitions(_ context.Context, _ store.DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.WorkflowDefinition
	for _, d := range m.definitions {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) CreateStep(_ context.Context, step *schema.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[step.DefinitionID]
	if !ok {
		return notFound("definition", step.DefinitionID)
	}
	def.Steps = append(def.Steps, *step)
	return nil
}

func (m *mockStore) UpdateStep(_ context.Context, step *schema.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[step.DefinitionID]
	if !ok {
		return notFound("definition", step.DefinitionID)
	}
	for i := range def.Steps {
		if def.Steps[i].ID == step.ID {
			def.Steps[i] = *step
			return nil
		}
	}
	return notFound("step", step.ID)
}

func (m *mockStore) DeleteStep(_ context.Context, definitionID, stepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[definitionID]
	if !ok {
		return notFound("definition", definitionID)
	}
	for i := range def.Steps {
		if def.Steps[i].ID == stepID {
			def.Steps = append(def.Steps[:i], def.Steps[i+1:]...)
			return nil
		}
	}
	return notFound("step", stepID)
}

func (m *mockStore) ListSteps(_ context.Context, definitionID string) ([]schema.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[definitionID]
	if !ok {
		return nil, notFound("definition", definitionID)
	}
	return append([]schema.WorkflowStep(nil), def.Steps...), nil
}

func (m *mockStore) PublishSnapshot(_ context.Context, snap *store.VersionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots {
		if s.DefinitionID == snap.DefinitionID {
			s.Active = false
		}
	}
	snap.Active = true
	cp := *snap
	m.snapshots[snap.ID] = &cp
	return nil
}

func (m *mockStore) GetSnapshot(_ context.Context, id string) (*store.VersionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[id]
	if !ok {
		return nil, notFound("snapshot", id)
	}
	cp := *snap
	return &cp, nil
}

func (m *mockStore) GetActiveSnapshot(_ context.Context, definitionID string) (*store.VersionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots {
		if s.DefinitionID == definitionID && s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, notFound("active snapshot for definition", definitionID)
}

func (m *mockStore) ListSnapshots(_ context.Context, definitionID string) ([]*store.VersionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.VersionSnapshot
	for _, s := range m.snapshots {
		if s.DefinitionID == definitionID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) CreateCase(_ context.Context, cw *store.CaseWorkflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cw
	m.cases[cw.ID] = &cp
	return nil
}

func (m *mockStore) GetCase(_ context.Context, id string) (*store.CaseWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cw, ok := m.cases[id]
	if !ok {
		return nil, notFound("case workflow", id)
	}
	cp := *cw
	return &cp, nil
}

func (m *mockStore) UpdateCase(_ context.Context, id string, update store.CaseUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cw, ok := m.cases[id]
	if !ok {
		return notFound("case workflow", id)
	}
	if update.Status != nil {
		cw.Status = *update.Status
	}
	if update.CurrentStepID != nil {
		cw.CurrentStepID = *update.CurrentStepID
	}
	if update.Context != nil {
		cw.Context = update.Context
	}
	if update.ErrorMessage != nil {
		cw.ErrorMessage = *update.ErrorMessage
	}
	if update.StartedAt != nil {
		cw.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		cw.CompletedAt = update.CompletedAt
	}
	cw.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockStore) ListCases(_ context.Context, _ store.CaseFilter) ([]*store.CaseWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.CaseWorkflow
	for _, cw := range m.cases {
		cp := *cw
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) CreateExecution(_ context.Context, exec *store.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *exec
	m.executions[exec.ID] = &cp
	m.execOrder = append(m.execOrder, exec.ID)
	return nil
}

func (m *mockStore) UpdateExecution(_ context.Context, id string, update store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return notFound("step execution", id)
	}
	if update.Status != nil {
		exec.Status = *update.Status
	}
	if update.Output != nil {
		exec.Output = update.Output
	}
	if update.ErrorMessage != nil {
		exec.ErrorMessage = *update.ErrorMessage
	}
	if update.CompletedAt != nil {
		exec.CompletedAt = update.CompletedAt
	}
	return nil
}

func (m *mockStore) GetExecution(_ context.Context, id string) (*store.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, notFound("step execution", id)
	}
	cp := *exec
	return &cp, nil
}

func (m *mockStore) ListExecutions(_ context.Context, caseID string) ([]*store.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.StepExecution
	for _, id := range m.execOrder {
		exec := m.executions[id]
		if exec.CaseID == caseID {
			cp := *exec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) CountExecutions(_ context.Context, caseID, stepID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, exec := range m.executions {
		if exec.CaseID == caseID && exec.StepID == stepID {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) CreateHumanTask(_ context.Context, task *store.HumanTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *mockStore) GetHumanTask(_ context.Context, id string) (*store.HumanTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, notFound("human task", id)
	}
	cp := *task
	return &cp, nil
}

func (m *mockStore) UpdateHumanTaskStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return notFound("human task", id)
	}
	task.Status = status
	return nil
}

func (m *mockStore) ListHumanTasks(_ context.Context, filter store.TaskFilter) ([]*store.HumanTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.HumanTask
	for _, task := range m.tasks {
		if filter.CaseID != "" && task.CaseID != filter.CaseID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) CreateApproval(_ context.Context, ap *store.ClientApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ap
	m.approvals[ap.ID] = &cp
	return nil
}

func (m *mockStore) UpdateApprovalStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ap, ok := m.approvals[id]
	if !ok {
		return notFound("client approval", id)
	}
	ap.Status = status
	return nil
}

func (m *mockStore) GetApprovalByToken(_ context.Context, token string) (*store.ClientApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ap := range m.approvals {
		if ap.Token == token {
			cp := *ap
			return &cp, nil
		}
	}
	return nil, notFound("client approval", token)
}

func (m *mockStore) ListApprovals(_ context.Context, filter store.ApprovalFilter) ([]*store.ClientApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ClientApproval
	for _, ap := range m.approvals {
		if filter.CaseID != "" && ap.CaseID != filter.CaseID {
			continue
		}
		if filter.Status != "" && ap.Status != filter.Status {
			continue
		}
		if filter.ExpiresBefore != nil && !ap.ExpiresAt.Before(*filter.ExpiresBefore) {
			continue
		}
		cp := *ap
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) SaveDecisionTable(_ context.Context, table *schema.DecisionTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *table
	m.tables[table.ID] = &cp
	return nil
}

func (m *mockStore) GetDecisionTable(_ context.Context, id string) (*schema.DecisionTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.tables[id]
	if !ok {
		return nil, notFound("decision table", id)
	}
	cp := *table
	return &cp, nil
}

func (m *mockStore) ListDecisionTables(_ context.Context, _ store.TableFilter) ([]*schema.DecisionTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.DecisionTable
	for _, t := range m.tables {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[event.CaseID]++
	event.Sequence = m.seq[event.CaseID]
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockStore) GetEvents(_ context.Context, caseID string, since int64) ([]*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Event
	for _, e := range m.events {
		if e.CaseID == caseID && e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) lastEvent(caseID, eventType string) *store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].CaseID == caseID && m.events[i].Type == eventType {
			return m.events[i]
		}
	}
	return nil
}

func (m *mockStore) eventTypes(caseID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if e.CaseID == caseID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }
func (m *mockStore) Close() error                    { return nil }

var _ store.Store = (*mockStore)(nil)
