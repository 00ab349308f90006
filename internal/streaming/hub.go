// Package streaming provides pub/sub fan-out of case lifecycle events so a
// UI or webhook layer can watch cases without polling the audit log.
package streaming

import "context"

// CaseEvent is a real-time event emitted while a case executes.
type CaseEvent struct {
	CaseID  string `json:"case_id"`
	StepID  string `json:"step_id,omitempty"`
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// Filter specifies which events a subscriber wants to receive. Zero-value
// fields match everything.
type Filter struct {
	CaseID string   `json:"case_id,omitempty"`
	Kinds  []string `json:"kinds,omitempty"`
}

// Hub provides pub/sub for case events.
type Hub interface {
	Publish(ctx context.Context, event CaseEvent) error
	Subscribe(ctx context.Context, filter Filter) (<-chan CaseEvent, func(), error)
}
