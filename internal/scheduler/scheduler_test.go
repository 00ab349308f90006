package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxops/caseflow/internal/notify"
	"github.com/taxops/caseflow/internal/store"
)

type fakeStore struct {
	store.Store

	mu        sync.Mutex
	approvals []*store.ClientApproval
	tasks     []*store.HumanTask
	events    []*store.Event
}

func (f *fakeStore) ListApprovals(_ context.Context, filter store.ApprovalFilter) ([]*store.ClientApproval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ClientApproval
	for _, ap := range f.approvals {
		if filter.Status != "" && ap.Status != filter.Status {
			continue
		}
		if filter.ExpiresBefore != nil && !ap.ExpiresAt.Before(*filter.ExpiresBefore) {
			continue
		}
		out = append(out, ap)
	}
	return out, nil
}

func (f *fakeStore) ListHumanTasks(_ context.Context, filter store.TaskFilter) ([]*store.HumanTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.HumanTask
	for _, task := range f.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.DueBefore != nil && (task.DueAt == nil || !task.DueAt.Before(*filter.DueBefore)) {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

func (f *fakeStore) UpdateHumanTaskStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.ID == id {
			task.Status = status
			return nil
		}
	}
	return nil
}

func (f *fakeStore) AppendEvent(_ context.Context, event *store.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeExpirer struct {
	mu      sync.Mutex
	expired []string
}

func (f *fakeExpirer) ExpireApproval(_ context.Context, ap *store.ClientApproval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, ap.ID)
	return nil
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func newTestSweeper(t *testing.T, st *fakeStore, expirer *fakeExpirer, notifier *captureNotifier) *Sweeper {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper, err := NewSweeper(st, expirer, notifier, "", logger)
	require.NoError(t, err)
	return sweeper
}

func TestSweepExpiresPendingApprovals(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	st := &fakeStore{
		approvals: []*store.ClientApproval{
			{ID: "apr_old", CaseID: "case_1", StepID: "step_ok", Status: store.ApprovalStatusPending, ExpiresAt: past},
			{ID: "apr_fresh", CaseID: "case_2", Status: store.ApprovalStatusPending, ExpiresAt: future},
			{ID: "apr_done", CaseID: "case_3", Status: store.ApprovalStatusApproved, ExpiresAt: past},
		},
	}
	expirer := &fakeExpirer{}
	notifier := &captureNotifier{}
	sweeper := newTestSweeper(t, st, expirer, notifier)

	sweeper.Sweep(context.Background())

	assert.Equal(t, []string{"apr_old"}, expirer.expired)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notify.KindApprovalExpired, notifier.sent[0].Kind)
	assert.Equal(t, "case_1", notifier.sent[0].CaseID)
}

func TestSweepFlagsOverdueTasks(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	st := &fakeStore{
		tasks: []*store.HumanTask{
			{ID: "task_late", CaseID: "case_1", StepID: "step_rev", Title: "Review return", Assignee: "usr_ana", Status: store.TaskStatusOpen, DueAt: &past},
			{ID: "task_ok", CaseID: "case_2", Title: "File extension", Status: store.TaskStatusOpen, DueAt: &future},
			{ID: "task_nodue", CaseID: "case_3", Title: "Open ended", Status: store.TaskStatusOpen},
		},
	}
	expirer := &fakeExpirer{}
	notifier := &captureNotifier{}
	sweeper := newTestSweeper(t, st, expirer, notifier)

	sweeper.Sweep(context.Background())

	assert.Equal(t, store.TaskStatusOverdue, st.tasks[0].Status)
	assert.Equal(t, store.TaskStatusOpen, st.tasks[1].Status)
	assert.Equal(t, store.TaskStatusOpen, st.tasks[2].Status, "tasks without a due date never go overdue")

	require.Len(t, st.events, 1)
	assert.Equal(t, "task_overdue", st.events[0].Type)
	assert.Equal(t, "case_1", st.events[0].CaseID)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notify.KindTaskOverdue, notifier.sent[0].Kind)
	assert.Equal(t, "usr_ana", notifier.sent[0].Recipient)
}

func TestOverdueTaskFlaggedOnce(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	st := &fakeStore{
		tasks: []*store.HumanTask{
			{ID: "task_late", CaseID: "case_1", Title: "Review", Status: store.TaskStatusOpen, DueAt: &past},
		},
	}
	notifier := &captureNotifier{}
	sweeper := newTestSweeper(t, st, &fakeExpirer{}, notifier)

	sweeper.Sweep(context.Background())
	sweeper.Sweep(context.Background())

	// Second sweep skips it: status is already overdue, not open.
	assert.Len(t, notifier.sent, 1)
	assert.Len(t, st.events, 1)
}

func TestStartStopLifecycle(t *testing.T) {
	st := &fakeStore{}
	sweeper := newTestSweeper(t, st, &fakeExpirer{}, &captureNotifier{})

	require.NoError(t, sweeper.Start(context.Background()))
	require.Error(t, sweeper.Start(context.Background()), "double start is rejected")
	require.NoError(t, sweeper.Stop())
	require.NoError(t, sweeper.Stop(), "stop is idempotent")
	require.NoError(t, sweeper.Start(context.Background()), "restart after stop")
	require.NoError(t, sweeper.Stop())
}

func TestInvalidScheduleRejected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewSweeper(&fakeStore{}, &fakeExpirer{}, &captureNotifier{}, "not a cron", logger)
	require.Error(t, err)
}
