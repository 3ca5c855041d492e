package approval

import (
	"context"
	"testing"

	"github.com/vantagelink/rollout/model"
)

func flowInput() model.FlowInput {
	return model.FlowInput{
		Name: "Construction Approval",
		Steps: []model.StepInput{
			{Name: "Site Review", Order: 1, RequiredRoleID: "role-site", SLAHours: intPtr(24)},
			{Name: "Safety Signoff", Order: 2, RequiredRoleID: "role-safety"},
		},
	}
}

func TestEngine_CreateFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	flow, err := env.engine.CreateFlow(ctx, rctxFor("admin"), "construction", flowInput())
	if err != nil {
		t.Fatalf("CreateFlow error: %v", err)
	}
	if flow.ProcessType != "construction" {
		t.Errorf("ProcessType = %s, want construction", flow.ProcessType)
	}
	if len(flow.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(flow.Steps))
	}
	if flow.Steps[0].Order != 1 || flow.Steps[1].Order != 2 {
		t.Errorf("step orders = %d,%d, want 1,2", flow.Steps[0].Order, flow.Steps[1].Order)
	}
	if flow.IsActive {
		t.Error("IsActive = true for a flow with no runs")
	}
}

func TestEngine_CreateFlow_defaultSLAWhenOmitted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Step 1 carries an explicit SLA; step 2 omits one and must pick up
	// the configured default.
	env.engine.SetDefaultSLA(48)
	flow, err := env.engine.CreateFlow(ctx, rctxFor("admin"), "construction", flowInput())
	if err != nil {
		t.Fatalf("CreateFlow error: %v", err)
	}
	if flow.Steps[0].SLAHours == nil || *flow.Steps[0].SLAHours != 24 {
		t.Errorf("explicit SLA = %v, want 24", flow.Steps[0].SLAHours)
	}
	if flow.Steps[1].SLAHours == nil || *flow.Steps[1].SLAHours != 48 {
		t.Errorf("omitted SLA = %v, want default 48", flow.Steps[1].SLAHours)
	}
}

func TestEngine_UpdateFlow_defaultSLAWhenOmitted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.engine.CreateFlow(ctx, rctxFor("admin"), "construction", flowInput())
	if err != nil {
		t.Fatalf("CreateFlow error: %v", err)
	}

	in := model.FlowInput{
		Name: "Construction Approval",
		Steps: []model.StepInput{
			{ID: created.Steps[0].ID, Name: "Site Review", Order: 1, RequiredRoleID: "role-site"},
		},
	}
	updated, err := env.engine.UpdateFlow(ctx, rctxFor("admin"), created.ID, in)
	if err != nil {
		t.Fatalf("UpdateFlow error: %v", err)
	}
	if updated.Steps[0].SLAHours == nil || *updated.Steps[0].SLAHours != 24 {
		t.Errorf("omitted SLA on update = %v, want default 24", updated.Steps[0].SLAHours)
	}
}

func TestEngine_CreateFlow_validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*model.FlowInput)
	}{
		{"empty name", func(in *model.FlowInput) { in.Name = " " }},
		{"no steps", func(in *model.FlowInput) { in.Steps = nil }},
		{"missing role", func(in *model.FlowInput) { in.Steps[0].RequiredRoleID = "" }},
		{"zero order", func(in *model.FlowInput) { in.Steps[0].Order = 0 }},
		{"duplicate order", func(in *model.FlowInput) { in.Steps[1].Order = 1 }},
		{"bad sla", func(in *model.FlowInput) { in.Steps[0].SLAHours = intPtr(0) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := flowInput()
			tc.mutate(&in)
			_, err := env.engine.CreateFlow(ctx, rctxFor("admin"), "construction", in)
			if model.CodeOf(err) != model.ErrValidationError {
				t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrValidationError)
			}
		})
	}
}

func TestEngine_CreateFlow_duplicateProcessType(t *testing.T) {
	env := newTestEnv(t)

	// "survey" is already bound by the seeded flow.
	_, err := env.engine.CreateFlow(context.Background(), rctxFor("admin"), "survey", flowInput())
	if model.CodeOf(err) != model.ErrConflict {
		t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrConflict)
	}
}

func TestEngine_UpdateFlow_keepsStepIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.engine.CreateFlow(ctx, rctxFor("admin"), "construction", flowInput())
	if err != nil {
		t.Fatalf("CreateFlow error: %v", err)
	}

	in := model.FlowInput{
		Name: "Construction Approval v2",
		Steps: []model.StepInput{
			{ID: created.Steps[0].ID, Name: "Site Review", Order: 1, RequiredRoleID: "role-site"},
			{Name: "Director Signoff", Order: 2, RequiredRoleID: "role-director"},
		},
	}
	updated, err := env.engine.UpdateFlow(ctx, rctxFor("admin"), created.ID, in)
	if err != nil {
		t.Fatalf("UpdateFlow error: %v", err)
	}
	if updated.Name != "Construction Approval v2" {
		t.Errorf("Name = %s", updated.Name)
	}
	if updated.Steps[0].ID != created.Steps[0].ID {
		t.Error("retained step lost its identity")
	}
	if updated.Steps[1].ID == created.Steps[1].ID {
		t.Error("replaced step kept the old identity")
	}
}

func TestEngine_DeleteFlow_guard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The seeded survey flow gains a run, blocking deletion forever.
	env.submit(t)
	err := env.engine.DeleteFlow(ctx, rctxFor("admin"), "flow-1")
	if model.CodeOf(err) != model.ErrConflict {
		t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrConflict)
	}

	// An unreferenced flow deletes cleanly.
	created, err := env.engine.CreateFlow(ctx, rctxFor("admin"), "construction", flowInput())
	if err != nil {
		t.Fatalf("CreateFlow error: %v", err)
	}
	if err := env.engine.DeleteFlow(ctx, rctxFor("admin"), created.ID); err != nil {
		t.Fatalf("DeleteFlow error: %v", err)
	}
	if _, err := env.engine.GetFlow(ctx, created.ID); model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("flow still present after delete")
	}
}

func TestEngine_ListFlows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.submit(t)

	sums, err := env.engine.ListFlows(ctx)
	if err != nil {
		t.Fatalf("ListFlows error: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("flows = %d, want 1", len(sums))
	}
	if sums[0].StepsCount != 3 {
		t.Errorf("StepsCount = %d, want 3", sums[0].StepsCount)
	}
	if sums[0].ActiveProjectCount != 1 {
		t.Errorf("ActiveProjectCount = %d, want 1", sums[0].ActiveProjectCount)
	}
	if !sums[0].Flow.IsActive {
		t.Error("IsActive = false with a running instance")
	}
}
