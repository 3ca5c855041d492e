package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantagelink/rollout/model"
)

// pgTestEnv is the connection string for a disposable Postgres database.
// Tests in this file skip when it is unset so the suite stays runnable
// without infrastructure.
const pgTestEnv = "ROLLOUT_TEST_DATABASE_URL"

func newTestPgStore(t *testing.T) *PgStore {
	t.Helper()
	dsn := os.Getenv(pgTestEnv)
	if dsn == "" {
		t.Skipf("set %s to run Postgres store tests", pgTestEnv)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPgStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	return s
}

func seedPgFlow(t *testing.T, s *PgStore, steps int) model.Flow {
	t.Helper()
	f := model.Flow{
		ID:          uuid.New().String(),
		Name:        "Reorder Fixture",
		ProcessType: "pgtest-" + uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	for i := 1; i <= steps; i++ {
		f.Steps = append(f.Steps, model.Step{
			ID:             uuid.New().String(),
			FlowID:         f.ID,
			Order:          i,
			Name:           "Step " + string(rune('0'+i)),
			RequiredRoleID: "role-" + string(rune('0'+i)),
			SLAHours:       intPtr(24),
		})
	}
	if err := s.CreateFlow(context.Background(), &f); err != nil {
		t.Fatalf("CreateFlow error: %v", err)
	}
	t.Cleanup(func() {
		_ = s.DeleteFlow(context.Background(), f.ID)
	})
	return f
}

// Reordering existing steps must survive the step_order CHECK and the
// (flow, step_order) unique key: every kept step passes through a parked
// order before landing on its final one, and both constraints are
// evaluated per row.
func TestPgStore_UpdateFlow_reordersExistingSteps(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()
	f := seedPgFlow(t, s, 3)

	// Reverse the order, keeping every step ID.
	update := f
	update.Steps = nil
	for i, st := range f.Steps {
		st.Order = len(f.Steps) - i
		update.Steps = append(update.Steps, st)
	}
	update.UpdatedAt = time.Now().UTC()

	if err := s.UpdateFlow(ctx, &update); err != nil {
		t.Fatalf("UpdateFlow error: %v", err)
	}

	got, err := s.GetFlow(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFlow error: %v", err)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(got.Steps))
	}
	for i, st := range got.Steps {
		if st.Order != i+1 {
			t.Errorf("step[%d].Order = %d, want %d", i, st.Order, i+1)
		}
	}
	// The first step of the reversed flow is the old last step.
	if got.Steps[0].ID != f.Steps[2].ID {
		t.Errorf("step[0].ID = %s, want %s", got.Steps[0].ID, f.Steps[2].ID)
	}
}

func TestPgStore_UpdateFlow_mixesKeptAndNewSteps(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()
	f := seedPgFlow(t, s, 2)

	// Drop step 2, keep step 1 at its old order, and append a fresh step.
	update := f
	update.Steps = []model.Step{
		f.Steps[0],
		{
			ID:             uuid.New().String(),
			FlowID:         f.ID,
			Order:          2,
			Name:           "Replacement",
			RequiredRoleID: "role-replacement",
			SLAHours:       intPtr(48),
		},
	}
	update.UpdatedAt = time.Now().UTC()

	if err := s.UpdateFlow(ctx, &update); err != nil {
		t.Fatalf("UpdateFlow error: %v", err)
	}

	got, err := s.GetFlow(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFlow error: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	if got.Steps[0].ID != f.Steps[0].ID {
		t.Errorf("kept step ID changed: %s", got.Steps[0].ID)
	}
	if got.Steps[1].Name != "Replacement" {
		t.Errorf("step[1].Name = %q, want Replacement", got.Steps[1].Name)
	}
}
