package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/taxops/caseflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflow definitions ---

func (s *LibSQLStore) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, name, category, status, current_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Name, nullStr(def.Category), string(def.Status), def.CurrentVersion,
		timeOrNow(def.CreatedAt), timeOrNow(def.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var category sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, status, current_version, created_at, updated_at
		 FROM workflow_definitions WHERE id = ?`, id,
	).Scan(&def.ID, &def.Name, &category, &status, &def.CurrentVersion, &def.CreatedAt, &def.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("definition", id)
	}
	if err != nil {
		return nil, err
	}
	def.Category = category.String
	def.Status = schema.DefinitionStatus(status)

	steps, err := s.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	def.Steps = steps
	return def, nil
}

func (s *LibSQLStore) UpdateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions
		 SET name = ?, category = ?, status = ?, current_version = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		def.Name, nullStr(def.Category), string(def.Status), def.CurrentVersion, def.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "definition", def.ID)
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}

	query := `SELECT id, name, category, status, current_version, created_at, updated_at FROM workflow_definitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def := &schema.WorkflowDefinition{}
		var category sql.NullString
		var status string
		if err := rows.Scan(&def.ID, &def.Name, &category, &status, &def.CurrentVersion, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, err
		}
		def.Category = category.String
		def.Status = schema.DefinitionStatus(status)
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// --- Workflow steps ---

func (s *LibSQLStore) CreateStep(ctx context.Context, step *schema.WorkflowStep) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_steps (id, definition_id, name, step_type, sort_order, config, on_success, on_failure, required, max_visits)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.DefinitionID, step.Name, string(step.Type), step.SortOrder,
		nullRaw(step.Config), nullStr(step.OnSuccess), nullStr(step.OnFailure),
		boolInt(step.Required), step.MaxVisits,
	)
	return err
}

func (s *LibSQLStore) UpdateStep(ctx context.Context, step *schema.WorkflowStep) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_steps
		 SET name = ?, step_type = ?, sort_order = ?, config = ?, on_success = ?, on_failure = ?, required = ?, max_visits = ?
		 WHERE id = ? AND definition_id = ?`,
		step.Name, string(step.Type), step.SortOrder, nullRaw(step.Config),
		nullStr(step.OnSuccess), nullStr(step.OnFailure), boolInt(step.Required), step.MaxVisits,
		step.ID, step.DefinitionID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step", step.ID)
}

func (s *LibSQLStore) DeleteStep(ctx context.Context, definitionID, stepID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_steps WHERE id = ? AND definition_id = ?`, stepID, definitionID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step", stepID)
}

func (s *LibSQLStore) ListSteps(ctx context.Context, definitionID string) ([]schema.WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, definition_id, name, step_type, sort_order, config, on_success, on_failure, required, max_visits
		 FROM workflow_steps WHERE definition_id = ? ORDER BY sort_order, id`, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []schema.WorkflowStep
	for rows.Next() {
		var st schema.WorkflowStep
		var stepType string
		var config, onSuccess, onFailure sql.NullString
		var required int
		if err := rows.Scan(&st.ID, &st.DefinitionID, &st.Name, &stepType, &st.SortOrder,
			&config, &onSuccess, &onFailure, &required, &st.MaxVisits); err != nil {
			return nil, err
		}
		st.Type = schema.StepType(stepType)
		st.Config = rawOrNil(config)
		st.OnSuccess = onSuccess.String
		st.OnFailure = onFailure.String
		st.Required = required != 0
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- Version snapshots ---

// PublishSnapshot inserts the snapshot and deactivates the previously active
// one in the same transaction, so there is never a window with zero or two
// active snapshots for a definition.
func (s *LibSQLStore) PublishSnapshot(ctx context.Context, snap *VersionSnapshot) error {
	graph, err := json.Marshal(snap.Graph)
	if err != nil {
		return fmt.Errorf("marshal snapshot graph: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO version_snapshots (id, definition_id, version, graph, active, published_by, published_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		snap.ID, snap.DefinitionID, snap.Version, string(graph), snap.PublishedBy, timeOrNow(snap.PublishedAt),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE version_snapshots SET active = 0 WHERE definition_id = ? AND id != ?`,
		snap.DefinitionID, snap.ID,
	); err != nil {
		return fmt.Errorf("deactivate previous snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot publish: %w", err)
	}
	snap.Active = true
	return nil
}

func (s *LibSQLStore) GetSnapshot(ctx context.Context, id string) (*VersionSnapshot, error) {
	return s.scanSnapshotRow(s.db.QueryRowContext(ctx,
		`SELECT id, definition_id, version, graph, active, published_by, published_at
		 FROM version_snapshots WHERE id = ?`, id), "snapshot", id)
}

func (s *LibSQLStore) GetActiveSnapshot(ctx context.Context, definitionID string) (*VersionSnapshot, error) {
	return s.scanSnapshotRow(s.db.QueryRowContext(ctx,
		`SELECT id, definition_id, version, graph, active, published_by, published_at
		 FROM version_snapshots WHERE definition_id = ? AND active = 1`, definitionID),
		"active snapshot for definition", definitionID)
}

func (s *LibSQLStore) scanSnapshotRow(row *sql.Row, resource, id string) (*VersionSnapshot, error) {
	snap := &VersionSnapshot{}
	var graphJSON string
	var active int
	err := row.Scan(&snap.ID, &snap.DefinitionID, &snap.Version, &graphJSON, &active, &snap.PublishedBy, &snap.PublishedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound(resource, id)
	}
	if err != nil {
		return nil, err
	}
	snap.Active = active != 0
	if err := json.Unmarshal([]byte(graphJSON), &snap.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot graph: %w", err)
	}
	return snap, nil
}

func (s *LibSQLStore) ListSnapshots(ctx context.Context, definitionID string) ([]*VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, definition_id, version, graph, active, published_by, published_at
		 FROM version_snapshots WHERE definition_id = ? ORDER BY version DESC`, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*VersionSnapshot
	for rows.Next() {
		snap := &VersionSnapshot{}
		var graphJSON string
		var active int
		if err := rows.Scan(&snap.ID, &snap.DefinitionID, &snap.Version, &graphJSON, &active, &snap.PublishedBy, &snap.PublishedAt); err != nil {
			return nil, err
		}
		snap.Active = active != 0
		if err := json.Unmarshal([]byte(graphJSON), &snap.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot graph: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// --- Case workflows ---

func (s *LibSQLStore) CreateCase(ctx context.Context, cw *CaseWorkflow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_workflows (id, case_ref, definition_id, snapshot_id, version, status, current_step_id, context, started_by, error_message, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cw.ID, cw.CaseRef, cw.DefinitionID, cw.SnapshotID, cw.Version, string(cw.Status),
		nullStr(cw.CurrentStepID), nullRaw(cw.Context), cw.StartedBy, nullStr(cw.ErrorMessage),
		timeOrNow(cw.CreatedAt), nullTime(cw.StartedAt), nullTime(cw.CompletedAt), timeOrNow(cw.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetCase(ctx context.Context, id string) (*CaseWorkflow, error) {
	cw := &CaseWorkflow{}
	var (
		currentStep, errMsg  sql.NullString
		contextJSON          sql.NullString
		startedAt, completed sql.NullTime
		status               string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_ref, definition_id, snapshot_id, version, status, current_step_id, context, started_by, error_message, created_at, started_at, completed_at, updated_at
		 FROM case_workflows WHERE id = ?`, id,
	).Scan(&cw.ID, &cw.CaseRef, &cw.DefinitionID, &cw.SnapshotID, &cw.Version, &status,
		&currentStep, &contextJSON, &cw.StartedBy, &errMsg, &cw.CreatedAt, &startedAt, &completed, &cw.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("case workflow", id)
	}
	if err != nil {
		return nil, err
	}
	cw.Status = schema.CaseStatus(status)
	cw.CurrentStepID = currentStep.String
	cw.Context = rawOrNil(contextJSON)
	cw.ErrorMessage = errMsg.String
	if startedAt.Valid {
		cw.StartedAt = &startedAt.Time
	}
	if completed.Valid {
		cw.CompletedAt = &completed.Time
	}
	return cw, nil
}

func (s *LibSQLStore) UpdateCase(ctx context.Context, id string, update CaseUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStepID != nil {
		sets = append(sets, "current_step_id = ?")
		args = append(args, nullStr(*update.CurrentStepID))
	}
	if update.Context != nil {
		sets = append(sets, "context = ?")
		args = append(args, string(update.Context))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullStr(*update.ErrorMessage))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE case_workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "case workflow", id)
}

func (s *LibSQLStore) ListCases(ctx context.Context, filter CaseFilter) ([]*CaseWorkflow, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.DefinitionID != "" {
		where = append(where, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if filter.CaseRef != "" {
		where = append(where, "case_ref = ?")
		args = append(args, filter.CaseRef)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, case_ref, definition_id, snapshot_id, version, status, current_step_id, context, started_by, error_message, created_at, started_at, completed_at, updated_at FROM case_workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*CaseWorkflow
	for rows.Next() {
		cw := &CaseWorkflow{}
		var (
			currentStep, errMsg  sql.NullString
			contextJSON          sql.NullString
			startedAt, completed sql.NullTime
			status               string
		)
		if err := rows.Scan(&cw.ID, &cw.CaseRef, &cw.DefinitionID, &cw.SnapshotID, &cw.Version, &status,
			&currentStep, &contextJSON, &cw.StartedBy, &errMsg, &cw.CreatedAt, &startedAt, &completed, &cw.UpdatedAt); err != nil {
			return nil, err
		}
		cw.Status = schema.CaseStatus(status)
		cw.CurrentStepID = currentStep.String
		cw.Context = rawOrNil(contextJSON)
		cw.ErrorMessage = errMsg.String
		if startedAt.Valid {
			cw.StartedAt = &startedAt.Time
		}
		if completed.Valid {
			cw.CompletedAt = &completed.Time
		}
		cases = append(cases, cw)
	}
	return cases, rows.Err()
}

// --- Step executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *StepExecution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_executions (id, case_id, step_id, status, input, output, error_message, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.CaseID, exec.StepID, string(exec.Status),
		nullRaw(exec.Input), nullRaw(exec.Output), nullStr(exec.ErrorMessage),
		timeOrNow(exec.StartedAt), nullTime(exec.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullStr(*update.ErrorMessage))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE step_executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step execution", id)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*StepExecution, error) {
	exec := &StepExecution{}
	var (
		input, output, errMsg sql.NullString
		completed             sql.NullTime
		status                string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, step_id, status, input, output, error_message, started_at, completed_at
		 FROM step_executions WHERE id = ?`, id,
	).Scan(&exec.ID, &exec.CaseID, &exec.StepID, &status, &input, &output, &errMsg, &exec.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step execution", id)
	}
	if err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	exec.Input = rawOrNil(input)
	exec.Output = rawOrNil(output)
	exec.ErrorMessage = errMsg.String
	if completed.Valid {
		exec.CompletedAt = &completed.Time
	}
	return exec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, caseID string) ([]*StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, step_id, status, input, output, error_message, started_at, completed_at
		 FROM step_executions WHERE case_id = ? ORDER BY started_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*StepExecution
	for rows.Next() {
		exec := &StepExecution{}
		var (
			input, output, errMsg sql.NullString
			completed             sql.NullTime
			status                string
		)
		if err := rows.Scan(&exec.ID, &exec.CaseID, &exec.StepID, &status, &input, &output, &errMsg, &exec.StartedAt, &completed); err != nil {
			return nil, err
		}
		exec.Status = schema.ExecutionStatus(status)
		exec.Input = rawOrNil(input)
		exec.Output = rawOrNil(output)
		exec.ErrorMessage = errMsg.String
		if completed.Valid {
			exec.CompletedAt = &completed.Time
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (s *LibSQLStore) CountExecutions(ctx context.Context, caseID, stepID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM step_executions WHERE case_id = ? AND step_id = ?`, caseID, stepID,
	).Scan(&n)
	return n, err
}

// --- Human tasks ---

func (s *LibSQLStore) CreateHumanTask(ctx context.Context, task *HumanTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO human_tasks (id, case_id, step_id, execution_id, title, assignee, status, due_at, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.CaseID, task.StepID, task.ExecutionID, task.Title, nullStr(task.Assignee),
		task.Status, nullTime(task.DueAt), timeOrNow(task.CreatedAt), nullTime(task.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetHumanTask(ctx context.Context, id string) (*HumanTask, error) {
	task := &HumanTask{}
	var assignee sql.NullString
	var dueAt, completed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, step_id, execution_id, title, assignee, status, due_at, created_at, completed_at
		 FROM human_tasks WHERE id = ?`, id,
	).Scan(&task.ID, &task.CaseID, &task.StepID, &task.ExecutionID, &task.Title,
		&assignee, &task.Status, &dueAt, &task.CreatedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("human task", id)
	}
	if err != nil {
		return nil, err
	}
	task.Assignee = assignee.String
	if dueAt.Valid {
		task.DueAt = &dueAt.Time
	}
	if completed.Valid {
		task.CompletedAt = &completed.Time
	}
	return task, nil
}

func (s *LibSQLStore) UpdateHumanTaskStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE human_tasks SET status = ?, completed_at = CASE WHEN ? IN ('completed','cancelled') THEN CURRENT_TIMESTAMP ELSE completed_at END WHERE id = ?`,
		status, status, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "human task", id)
}

func (s *LibSQLStore) ListHumanTasks(ctx context.Context, filter TaskFilter) ([]*HumanTask, error) {
	var where []string
	var args []any

	if filter.CaseID != "" {
		where = append(where, "case_id = ?")
		args = append(args, filter.CaseID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Assignee != "" {
		where = append(where, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if filter.DueBefore != nil {
		where = append(where, "due_at IS NOT NULL AND due_at < ?")
		args = append(args, *filter.DueBefore)
	}

	query := `SELECT id, case_id, step_id, execution_id, title, assignee, status, due_at, created_at, completed_at FROM human_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*HumanTask
	for rows.Next() {
		task := &HumanTask{}
		var assignee sql.NullString
		var dueAt, completed sql.NullTime
		if err := rows.Scan(&task.ID, &task.CaseID, &task.StepID, &task.ExecutionID, &task.Title,
			&assignee, &task.Status, &dueAt, &task.CreatedAt, &completed); err != nil {
			return nil, err
		}
		task.Assignee = assignee.String
		if dueAt.Valid {
			task.DueAt = &dueAt.Time
		}
		if completed.Valid {
			task.CompletedAt = &completed.Time
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// --- Client approvals ---

func (s *LibSQLStore) CreateApproval(ctx context.Context, ap *ClientApproval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_approvals (id, case_id, step_id, execution_id, token, message, status, expires_at, responded_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ap.ID, ap.CaseID, ap.StepID, ap.ExecutionID, ap.Token, nullStr(ap.Message),
		ap.Status, ap.ExpiresAt, nullTime(ap.RespondedAt), timeOrNow(ap.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateApprovalStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE client_approvals SET status = ?, responded_at = CASE WHEN ? IN ('approved','declined','expired') THEN CURRENT_TIMESTAMP ELSE responded_at END WHERE id = ?`,
		status, status, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "client approval", id)
}

func (s *LibSQLStore) GetApprovalByToken(ctx context.Context, token string) (*ClientApproval, error) {
	ap := &ClientApproval{}
	var message sql.NullString
	var responded sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, step_id, execution_id, token, message, status, expires_at, responded_at, created_at
		 FROM client_approvals WHERE token = ?`, token,
	).Scan(&ap.ID, &ap.CaseID, &ap.StepID, &ap.ExecutionID, &ap.Token, &message, &ap.Status, &ap.ExpiresAt, &responded, &ap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("client approval", token)
	}
	if err != nil {
		return nil, err
	}
	ap.Message = message.String
	if responded.Valid {
		ap.RespondedAt = &responded.Time
	}
	return ap, nil
}

func (s *LibSQLStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*ClientApproval, error) {
	var where []string
	var args []any

	if filter.CaseID != "" {
		where = append(where, "case_id = ?")
		args = append(args, filter.CaseID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ExpiresBefore != nil {
		where = append(where, "expires_at < ?")
		args = append(args, *filter.ExpiresBefore)
	}

	query := `SELECT id, case_id, step_id, execution_id, token, message, status, expires_at, responded_at, created_at FROM client_approvals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*ClientApproval
	for rows.Next() {
		ap := &ClientApproval{}
		var message sql.NullString
		var responded sql.NullTime
		if err := rows.Scan(&ap.ID, &ap.CaseID, &ap.StepID, &ap.ExecutionID, &ap.Token, &message,
			&ap.Status, &ap.ExpiresAt, &responded, &ap.CreatedAt); err != nil {
			return nil, err
		}
		ap.Message = message.String
		if responded.Valid {
			ap.RespondedAt = &responded.Time
		}
		approvals = append(approvals, ap)
	}
	return approvals, rows.Err()
}

// --- Decision tables ---

// SaveDecisionTable upserts the table row and replaces its columns and rules
// wholesale in one transaction.
func (s *LibSQLStore) SaveDecisionTable(ctx context.Context, table *schema.DecisionTable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO decision_tables (id, name, status, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status, version=excluded.version, updated_at=CURRENT_TIMESTAMP`,
		table.ID, table.Name, string(table.Status), table.Version, timeOrNow(table.CreatedAt),
	); err != nil {
		return fmt.Errorf("upsert table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM decision_columns WHERE table_id = ?`, table.ID); err != nil {
		return fmt.Errorf("clear columns: %w", err)
	}
	for _, c := range table.Columns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decision_columns (table_id, key, name, data_type, usage, sort_order) VALUES (?, ?, ?, ?, ?, ?)`,
			table.ID, c.Key, c.Name, string(c.Type), string(c.Usage), c.SortOrder,
		); err != nil {
			return fmt.Errorf("insert column %q: %w", c.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM decision_rules WHERE table_id = ?`, table.ID); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	for _, r := range table.Rules {
		conditions, err := json.Marshal(r.Conditions)
		if err != nil {
			return fmt.Errorf("marshal conditions for rule %q: %w", r.ID, err)
		}
		outputs, err := json.Marshal(r.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs for rule %q: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decision_rules (id, table_id, priority, enabled, conditions, outputs) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, table.ID, r.Priority, boolInt(r.Enabled), string(conditions), string(outputs),
		); err != nil {
			return fmt.Errorf("insert rule %q: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit table save: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetDecisionTable(ctx context.Context, id string) (*schema.DecisionTable, error) {
	table := &schema.DecisionTable{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, version, created_at, updated_at FROM decision_tables WHERE id = ?`, id,
	).Scan(&table.ID, &table.Name, &status, &table.Version, &table.CreatedAt, &table.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("decision table", id)
	}
	if err != nil {
		return nil, err
	}
	table.Status = schema.TableStatus(status)

	colRows, err := s.db.QueryContext(ctx,
		`SELECT key, name, data_type, usage, sort_order FROM decision_columns WHERE table_id = ? ORDER BY sort_order, key`, id)
	if err != nil {
		return nil, err
	}
	defer colRows.Close()
	for colRows.Next() {
		var c schema.DecisionColumn
		var dataType, usage string
		if err := colRows.Scan(&c.Key, &c.Name, &dataType, &usage, &c.SortOrder); err != nil {
			return nil, err
		}
		c.Type = schema.ColumnType(dataType)
		c.Usage = schema.ColumnUsage(usage)
		table.Columns = append(table.Columns, c)
	}
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	ruleRows, err := s.db.QueryContext(ctx,
		`SELECT id, priority, enabled, conditions, outputs FROM decision_rules WHERE table_id = ? ORDER BY priority, id`, id)
	if err != nil {
		return nil, err
	}
	defer ruleRows.Close()
	for ruleRows.Next() {
		r := schema.DecisionRule{TableID: id}
		var enabled int
		var conditions, outputs sql.NullString
		if err := ruleRows.Scan(&r.ID, &r.Priority, &enabled, &conditions, &outputs); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		if conditions.Valid && conditions.String != "" {
			if err := json.Unmarshal([]byte(conditions.String), &r.Conditions); err != nil {
				return nil, fmt.Errorf("unmarshal conditions for rule %q: %w", r.ID, err)
			}
		}
		if outputs.Valid && outputs.String != "" {
			if err := json.Unmarshal([]byte(outputs.String), &r.Outputs); err != nil {
				return nil, fmt.Errorf("unmarshal outputs for rule %q: %w", r.ID, err)
			}
		}
		table.Rules = append(table.Rules, r)
	}
	return table, ruleRows.Err()
}

func (s *LibSQLStore) ListDecisionTables(ctx context.Context, filter TableFilter) ([]*schema.DecisionTable, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT id, name, status, version, created_at, updated_at FROM decision_tables`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*schema.DecisionTable
	for rows.Next() {
		t := &schema.DecisionTable{}
		var status string
		if err := rows.Scan(&t.ID, &t.Name, &status, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = schema.TableStatus(status)
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-case
// sequence. The sequence read and insert run in one transaction; the store
// is opened with a single connection so writers cannot interleave.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE case_id = ?`, event.CaseID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (case_id, step_id, event_type, payload, actor_id, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.CaseID, nullStr(event.StepID), event.Type, nullRaw(event.Payload), nullStr(event.ActorID), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, caseID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, step_id, event_type, payload, actor_id, timestamp, sequence
		 FROM events WHERE case_id = ? AND sequence > ? ORDER BY sequence ASC`,
		caseID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, actorID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.CaseID, &stepID, &e.Type, &payload, &actorID, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.ActorID = actorID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
