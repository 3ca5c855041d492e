package approval

import (
	"time"

	"github.com/vantagelink/rollout/model"
)

// EvaluateSLA computes the SLA block for an instance's current step. The
// clock for a step starts at the most recent recorded action, or at the
// instance's start when nothing has been acted on yet. It returns nil when
// the step carries no SLA or when the instance has no current step.
//
// HoursRemaining is signed: negative once the deadline has passed, so
// callers can tell "4 hours left" from "4 hours late".
func EvaluateSLA(inst *model.Instance, step *model.Step, actions []model.Action, now time.Time) *model.SLAStatus {
	if step == nil || step.SLAHours == nil || *step.SLAHours <= 0 {
		return nil
	}

	start := stepClockStart(inst, actions)
	if start.IsZero() {
		return nil
	}

	deadline := start.Add(time.Duration(*step.SLAHours) * time.Hour)
	remaining := deadline.Sub(now)
	return &model.SLAStatus{
		Hours:          *step.SLAHours,
		Deadline:       deadline,
		IsOverdue:      now.After(deadline),
		HoursRemaining: int(remaining.Hours()),
	}
}

// stepClockStart returns the moment the current step's SLA clock started.
func stepClockStart(inst *model.Instance, actions []model.Action) time.Time {
	var last time.Time
	for _, a := range actions {
		if a.ActedAt.After(last) {
			last = a.ActedAt
		}
	}
	if !last.IsZero() {
		return last
	}
	if inst.StartedAt != nil {
		return *inst.StartedAt
	}
	return inst.CreatedAt
}
