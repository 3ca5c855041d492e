// Package approval implements the workflow engine: current-step derivation,
// the action processor, SLA evaluation, and the lifecycle operations that
// start and restart approval runs.
package approval

import (
	"fmt"

	"github.com/vantagelink/rollout/model"
)

// CurrentStep derives the active step of an instance from its action log:
// the lowest-ordered step no APPROVE action has been recorded for. It returns
// nil when the instance is terminal or every step is approved. The step is
// derived on every evaluation and never stored, so the action log remains
// the single source of truth.
func CurrentStep(inst *model.Instance, actions []model.Action) *model.Step {
	if inst.Flow == nil || IsTerminal(inst) {
		return nil
	}

	approved := make(map[string]bool, len(actions))
	for _, a := range actions {
		if a.IsApprove() {
			approved[a.StepID] = true
		}
	}
	for i := range inst.Flow.Steps {
		if !approved[inst.Flow.Steps[i].ID] {
			return &inst.Flow.Steps[i]
		}
	}
	return nil
}

// NextStepAfter returns the step that becomes current once the given step is
// approved, or nil when it is the last one.
func NextStepAfter(flow *model.Flow, step *model.Step) *model.Step {
	for i := range flow.Steps {
		if flow.Steps[i].ID == step.ID && i+1 < len(flow.Steps) {
			return &flow.Steps[i+1]
		}
	}
	return nil
}

// IsTerminal reports whether the instance has reached APPROVED or REJECTED.
func IsTerminal(inst *model.Instance) bool {
	name := inst.StatusName()
	return name == model.StatusApproved || name == model.StatusRejected
}

// ProgressLabel renders the instance's position for listings:
// "Step {order}/{total}: {name}" while running, the terminal status name
// once finished, and "Pending" when the position cannot be derived.
func ProgressLabel(inst *model.Instance, actions []model.Action) string {
	switch inst.StatusName() {
	case model.StatusApproved:
		return "Approved"
	case model.StatusRejected:
		return "Rejected"
	}
	step := CurrentStep(inst, actions)
	if step == nil || inst.Flow == nil || len(inst.Flow.Steps) == 0 {
		return "Pending"
	}
	return fmt.Sprintf("Step %d/%d: %s", step.Order, len(inst.Flow.Steps), step.Name)
}
