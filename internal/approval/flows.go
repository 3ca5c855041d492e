package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vantagelink/rollout/internal/audit"
	"github.com/vantagelink/rollout/model"
)

// CreateFlow creates an approval flow with its steps. The process-type key
// must be unique across flows; step orders are validated and re-checked
// after sorting so holes and duplicates both fail.
func (e *Engine) CreateFlow(ctx context.Context, rctx *model.RequestContext, processType string, input model.FlowInput) (model.Flow, error) {
	if errs := validateFlowInput(processType, input); len(errs) > 0 {
		return model.Flow{}, model.NewValidationError(errs)
	}

	now := e.now()
	flow := model.Flow{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(input.Name),
		ProcessType: processType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, in := range sortedSteps(input.Steps) {
		flow.Steps = append(flow.Steps, model.Step{
			ID:             uuid.New().String(),
			FlowID:         flow.ID,
			Order:          in.Order,
			Name:           strings.TrimSpace(in.Name),
			RequiredRoleID: in.RequiredRoleID,
			SLAHours:       e.slaOrDefault(in.SLAHours),
		})
	}
	if err := e.store.CreateFlow(ctx, &flow); err != nil {
		return model.Flow{}, err
	}

	e.record(ctx, audit.Event{
		Kind: audit.EventFlowSaved, FlowID: flow.ID, ActorID: rctx.SubjectID, At: now,
	})
	return e.store.GetFlow(ctx, flow.ID)
}

// UpdateFlow replaces a flow's name and step set. Steps carrying an ID keep
// it (and so keep their recorded actions); steps without one are new.
func (e *Engine) UpdateFlow(ctx context.Context, rctx *model.RequestContext, flowID string, input model.FlowInput) (model.Flow, error) {
	existing, err := e.store.GetFlow(ctx, flowID)
	if err != nil {
		return model.Flow{}, err
	}
	if errs := validateFlowInput(existing.ProcessType, input); len(errs) > 0 {
		return model.Flow{}, model.NewValidationError(errs)
	}

	now := e.now()
	flow := model.Flow{
		ID:          flowID,
		Name:        strings.TrimSpace(input.Name),
		ProcessType: existing.ProcessType,
		UpdatedAt:   now,
	}
	for _, in := range sortedSteps(input.Steps) {
		id := in.ID
		if id == "" {
			id = uuid.New().String()
		}
		flow.Steps = append(flow.Steps, model.Step{
			ID:             id,
			FlowID:         flowID,
			Order:          in.Order,
			Name:           strings.TrimSpace(in.Name),
			RequiredRoleID: in.RequiredRoleID,
			SLAHours:       e.slaOrDefault(in.SLAHours),
		})
	}
	if err := e.store.UpdateFlow(ctx, &flow); err != nil {
		return model.Flow{}, err
	}

	e.record(ctx, audit.Event{
		Kind: audit.EventFlowSaved, FlowID: flowID, ActorID: rctx.SubjectID, At: now,
	})
	return e.store.GetFlow(ctx, flowID)
}

// DeleteFlow removes a flow. A flow any instance has ever referenced cannot
// be deleted: its action history would go with it.
func (e *Engine) DeleteFlow(ctx context.Context, rctx *model.RequestContext, flowID string) error {
	if _, err := e.store.GetFlow(ctx, flowID); err != nil {
		return err
	}
	n, err := e.store.CountInstances(ctx, flowID)
	if err != nil {
		return err
	}
	if n > 0 {
		return model.NewConflictError(
			fmt.Sprintf("flow is referenced by %d approval run(s) and cannot be deleted", n),
		)
	}
	if err := e.store.DeleteFlow(ctx, flowID); err != nil {
		return err
	}

	e.record(ctx, audit.Event{
		Kind: audit.EventFlowGone, FlowID: flowID, ActorID: rctx.SubjectID, At: e.now(),
	})
	return nil
}

// GetFlow returns one flow with its ordered steps.
func (e *Engine) GetFlow(ctx context.Context, flowID string) (model.Flow, error) {
	return e.store.GetFlow(ctx, flowID)
}

// ListFlows returns all flows as administration summaries.
func (e *Engine) ListFlows(ctx context.Context) ([]model.FlowSummary, error) {
	return e.store.ListFlows(ctx)
}

func validateFlowInput(processType string, input model.FlowInput) []model.FieldError {
	var errs []model.FieldError
	if processType == "" {
		errs = append(errs, model.FieldError{
			Field: "process_type", Code: "required", Message: "process type is required",
		})
	}
	if strings.TrimSpace(input.Name) == "" {
		errs = append(errs, model.FieldError{
			Field: "name", Code: "required", Message: "flow name is required",
		})
	}
	if len(input.Steps) == 0 {
		errs = append(errs, model.FieldError{
			Field: "steps", Code: "required", Message: "at least one step is required",
		})
	}

	seen := make(map[int]bool, len(input.Steps))
	for i, st := range input.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(st.Name) == "" {
			errs = append(errs, model.FieldError{
				Field: field + ".name", Code: "required", Message: "step name is required",
			})
		}
		if st.RequiredRoleID == "" {
			errs = append(errs, model.FieldError{
				Field: field + ".required_role_id", Code: "required", Message: "step role is required",
			})
		}
		if st.Order < 1 {
			errs = append(errs, model.FieldError{
				Field: field + ".step_order", Code: "invalid", Message: "step order must be positive",
			})
		} else if seen[st.Order] {
			errs = append(errs, model.FieldError{
				Field: field + ".step_order", Code: "duplicate",
				Message: fmt.Sprintf("step order %d appears more than once", st.Order),
			})
		}
		seen[st.Order] = true
		if st.SLAHours != nil && *st.SLAHours < 1 {
			errs = append(errs, model.FieldError{
				Field: field + ".sla_hours", Code: "invalid", Message: "sla hours must be positive",
			})
		}
	}
	return errs
}

// slaOrDefault fills the configured default into steps that omit an SLA,
// so every administered step carries a deadline.
func (e *Engine) slaOrDefault(hours *int) *int {
	if hours != nil {
		return hours
	}
	d := e.defaultSLA
	return &d
}

func sortedSteps(steps []model.StepInput) []model.StepInput {
	out := make([]model.StepInput, len(steps))
	copy(out, steps)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
