package notify

import (
	"context"
	"errors"

	"github.com/taxops/caseflow/internal/streaming"
)

// HubNotifier republishes notifications onto a streaming hub so live
// subscribers (a dashboard, a webhook relay) see them as case events.
type HubNotifier struct {
	hub streaming.Hub
}

// NewHubNotifier creates a HubNotifier.
func NewHubNotifier(hub streaming.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) Notify(ctx context.Context, notification Notification) error {
	return n.hub.Publish(ctx, streaming.CaseEvent{
		CaseID:  notification.CaseID,
		Kind:    notification.Kind,
		Payload: notification,
	})
}

var _ Notifier = (*HubNotifier)(nil)

// Multi fans a notification out to several sinks. Every sink is attempted;
// errors are joined rather than short-circuiting delivery.
func Multi(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
