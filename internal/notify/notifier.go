package notify

import (
	"context"
	"log/slog"
)

// Notification is an outbound message about something a human should look at:
// an overdue task, an expired approval, a case that failed.
type Notification struct {
	Kind      string         `json:"kind"`
	CaseID    string         `json:"case_id,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Subject   string         `json:"subject"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Notification kinds.
const (
	KindTaskCreated       = "task_created"
	KindTaskOverdue       = "task_overdue"
	KindApprovalRequested = "approval_requested"
	KindApprovalExpired   = "approval_expired"
	KindCaseCompleted     = "case_completed"
	KindCaseFailed        = "case_failed"
)

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. It is the default
// sink when no external channel (email, chat webhook) is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification at warn level so it stands out from routine
// engine chatter.
func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	attrs := []any{
		slog.String("kind", notification.Kind),
		slog.String("subject", notification.Subject),
	}
	if notification.CaseID != "" {
		attrs = append(attrs, slog.String("case_id", notification.CaseID))
	}
	if notification.Recipient != "" {
		attrs = append(attrs, slog.String("recipient", notification.Recipient))
	}
	for k, v := range notification.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	n.logger.Warn("notification", attrs...)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
