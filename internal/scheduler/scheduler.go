package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taxops/caseflow/internal/notify"
	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/pkg/schema"
)

// ApprovalExpirer is the interface the sweeper uses to expire approvals.
// Satisfied by the engine runner (avoids import cycle).
type ApprovalExpirer interface {
	ExpireApproval(ctx context.Context, ap *store.ClientApproval) error
}

// DefaultSchedule runs the sweep once a minute.
const DefaultSchedule = "* * * * *"

// Sweeper periodically expires client approvals past their deadline and
// flags human tasks past their due date. Approval expiry routes through the
// engine so the waiting step fails and the case moves on; an overdue task
// only changes status and notifies, the step keeps waiting.
type Sweeper struct {
	store    store.Store
	expirer  ApprovalExpirer
	notifier notify.Notifier
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // approval IDs currently expiring (dedup)
}

// NewSweeper creates a Sweeper. scheduleExpr is a standard 5-field cron
// expression; empty means DefaultSchedule.
func NewSweeper(st store.Store, expirer ApprovalExpirer, notifier notify.Notifier, scheduleExpr string, logger *slog.Logger) (*Sweeper, error) {
	if scheduleExpr == "" {
		scheduleExpr = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", scheduleExpr, err)
	}

	return &Sweeper{
		store:    st,
		expirer:  expirer,
		notifier: notifier,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}, nil
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(sweepCtx)
	s.logger.Info("sweeper started")
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	// Run an initial sweep immediately.
	s.Sweep(ctx)

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over expired approvals and overdue tasks. It is also
// callable directly, outside the loop, for on-demand maintenance.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.expireApprovals(ctx)
	s.flagOverdueTasks(ctx)
}

func (s *Sweeper) expireApprovals(ctx context.Context) {
	now := s.now().UTC()
	approvals, err := s.store.ListApprovals(ctx, store.ApprovalFilter{
		Status:        store.ApprovalStatusPending,
		ExpiresBefore: &now,
	})
	if err != nil {
		s.logger.Error("failed to list expired approvals", slog.String("error", err.Error()))
		return
	}

	for _, ap := range approvals {
		if !s.tryAcquire(ap.ID) {
			continue // already expiring (dedup)
		}
		if err := s.expirer.ExpireApproval(ctx, ap); err != nil {
			s.logger.Error("failed to expire approval",
				slog.String("approval_id", ap.ID),
				slog.String("case_id", ap.CaseID),
				slog.String("error", err.Error()),
			)
			s.release(ap.ID)
			continue
		}
		s.release(ap.ID)

		if err := s.notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindApprovalExpired,
			CaseID:  ap.CaseID,
			Subject: "client approval expired without a response",
			Fields: map[string]any{
				"approval_id": ap.ID,
				"step_id":     ap.StepID,
				"expired_at":  ap.ExpiresAt,
			},
		}); err != nil {
			s.logger.Error("failed to notify approval expiry",
				slog.String("approval_id", ap.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Sweeper) flagOverdueTasks(ctx context.Context) {
	now := s.now().UTC()
	tasks, err := s.store.ListHumanTasks(ctx, store.TaskFilter{
		Status:    store.TaskStatusOpen,
		DueBefore: &now,
	})
	if err != nil {
		s.logger.Error("failed to list overdue tasks", slog.String("error", err.Error()))
		return
	}

	for _, task := range tasks {
		if err := s.store.UpdateHumanTaskStatus(ctx, task.ID, store.TaskStatusOverdue); err != nil {
			s.logger.Error("failed to flag overdue task",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		payload, _ := json.Marshal(map[string]any{
			"task_id": task.ID,
			"title":   task.Title,
			"due_at":  task.DueAt,
		})
		if err := s.store.AppendEvent(ctx, &store.Event{
			CaseID:    task.CaseID,
			StepID:    task.StepID,
			Type:      schema.EventTaskOverdue,
			Payload:   payload,
			Timestamp: now,
		}); err != nil {
			s.logger.Error("failed to record overdue event",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}

		if err := s.notifier.Notify(ctx, notify.Notification{
			Kind:      notify.KindTaskOverdue,
			CaseID:    task.CaseID,
			Recipient: task.Assignee,
			Subject:   fmt.Sprintf("task %q is overdue", task.Title),
			Fields: map[string]any{
				"task_id": task.ID,
				"step_id": task.StepID,
				"due_at":  task.DueAt,
			},
		}); err != nil {
			s.logger.Error("failed to notify overdue task",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}

		s.logger.Warn("task overdue",
			slog.String("task_id", task.ID),
			slog.String("case_id", task.CaseID),
			slog.String("assignee", task.Assignee),
		)
	}
}

// tryAcquire returns true and marks the approval as in-flight if it is not
// already being expired.
func (s *Sweeper) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Sweeper) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("sweeper stopped")
	return nil
}
