// Package audit records approval lifecycle events to pluggable sinks. Audit
// delivery is best-effort: a failing sink never fails the operation that
// produced the event.
package audit

import (
	"context"
	"time"
)

// Event kinds emitted by the approval engine.
const (
	EventSubmitted = "approval.submitted"
	EventApproved  = "approval.step_approved"
	EventRejected  = "approval.rejected"
	EventCompleted = "approval.completed"
	EventRevised   = "approval.revised"
	EventFlowSaved = "flow.saved"
	EventFlowGone  = "flow.deleted"
)

// Event is one audit record.
type Event struct {
	Kind       string         `json:"kind"`
	InstanceID string         `json:"instance_id,omitempty"`
	FlowID     string         `json:"flow_id,omitempty"`
	ProjectID  string         `json:"project_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Comment    string         `json:"comment,omitempty"`
	At         time.Time      `json:"at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

// NopSink discards every event.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) error { return nil }
