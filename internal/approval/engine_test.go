package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vantagelink/rollout/internal/audit"
	"github.com/vantagelink/rollout/internal/project"
	"github.com/vantagelink/rollout/internal/store"
	"github.com/vantagelink/rollout/model"
)

// --- Test helpers ---

// stubRoles resolves roles from a fixed user → roles table, falling back to
// the roles in the request context.
type stubRoles struct {
	byUser map[string][]string
}

func (s *stubRoles) RolesOf(_ context.Context, rctx *model.RequestContext) ([]string, error) {
	if r, ok := s.byUser[rctx.SubjectID]; ok {
		return r, nil
	}
	return rctx.RoleIDs, nil
}

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, evt audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type testEnv struct {
	store  *store.MemoryStore
	engine *Engine
	sink   *recordingSink
	clock  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	st.PutProject(model.Project{
		ID: "proj-1", Code: "PRJ-001", Name: "North Ring Expansion",
		Area: "North", StatusID: "st-project-planning",
	})

	flow := *threeStepFlow()
	if err := st.CreateFlow(context.Background(), &flow); err != nil {
		t.Fatalf("seed flow: %v", err)
	}

	sink := &recordingSink{}
	roles := &stubRoles{byUser: map[string][]string{
		"user-area":     {"role-area"},
		"user-region":   {"role-region"},
		"user-director": {"role-director"},
		"user-planner":  {"role-planner"},
	}}
	env := &testEnv{
		store: st,
		sink:  sink,
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	env.engine = NewEngine(st, roles, project.NewBridge(), sink)
	env.engine.now = func() time.Time { return env.clock }
	return env
}

func (env *testEnv) advance(d time.Duration) { env.clock = env.clock.Add(d) }

func rctxFor(userID string) *model.RequestContext {
	return &model.RequestContext{SubjectID: userID, Name: userID}
}

func (env *testEnv) submit(t *testing.T) model.Instance {
	t.Helper()
	inst, err := env.engine.Submit(context.Background(), rctxFor("user-planner"), "proj-1", "survey")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	return inst
}

// --- Lifecycle ---

func TestEngine_FullApprovalChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	if inst.StatusName() != model.StatusPending {
		t.Fatalf("status after submit = %s, want %s", inst.StatusName(), model.StatusPending)
	}

	// Step 1.
	env.advance(time.Hour)
	detail, err := env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, "looks fine")
	if err != nil {
		t.Fatalf("Approve step 1 error: %v", err)
	}
	if detail.Instance.StatusName() != model.StatusInReview {
		t.Errorf("status = %s, want %s", detail.Instance.StatusName(), model.StatusInReview)
	}
	if detail.ProgressLabel != "Step 2/3: Regional Head" {
		t.Errorf("progress = %q, want step 2", detail.ProgressLabel)
	}

	// Step 2.
	env.advance(time.Hour)
	if _, err := env.engine.Approve(ctx, rctxFor("user-region"), inst.ID, ""); err != nil {
		t.Fatalf("Approve step 2 error: %v", err)
	}

	// Step 3: final approval completes the run and advances the project.
	env.advance(time.Hour)
	detail, err = env.engine.Approve(ctx, rctxFor("user-director"), inst.ID, "")
	if err != nil {
		t.Fatalf("Approve step 3 error: %v", err)
	}
	if detail.Instance.StatusName() != model.StatusApproved {
		t.Errorf("status = %s, want %s", detail.Instance.StatusName(), model.StatusApproved)
	}
	if detail.Instance.CompletedAt == nil {
		t.Error("CompletedAt not set on completion")
	}
	if detail.ProgressLabel != "Approved" {
		t.Errorf("progress = %q, want Approved", detail.ProgressLabel)
	}
	final := detail.Actions[len(detail.Actions)-1]
	if final.Comment != "Approval complete (3/3)" {
		t.Errorf("final comment = %q, want completion note", final.Comment)
	}

	proj, err := env.store.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetProject error: %v", err)
	}
	if proj.Status == nil || proj.Status.Name != "SURVEY" {
		t.Errorf("project status = %v, want SURVEY", proj.Status)
	}
	if hist := env.store.StatusHistories(); len(hist) != 1 {
		t.Errorf("status history rows = %d, want 1", len(hist))
	}

	kinds := env.sink.kinds()
	want := []string{
		audit.EventSubmitted,
		audit.EventApproved, audit.EventApproved,
		audit.EventApproved, audit.EventCompleted,
	}
	if len(kinds) != len(want) {
		t.Fatalf("audit kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("audit[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestEngine_RejectEndsRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	if _, err := env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, ""); err != nil {
		t.Fatalf("Approve error: %v", err)
	}

	detail, err := env.engine.Reject(ctx, rctxFor("user-region"), inst.ID, "budget figures are stale")
	if err != nil {
		t.Fatalf("Reject error: %v", err)
	}
	if detail.Instance.StatusName() != model.StatusRejected {
		t.Errorf("status = %s, want %s", detail.Instance.StatusName(), model.StatusRejected)
	}
	if detail.Instance.CompletedAt == nil {
		t.Error("CompletedAt not set on rejection")
	}

	// The project must not advance on a rejection.
	proj, _ := env.store.GetProject(ctx, "proj-1")
	if proj.Status == nil || proj.Status.Name != "PLANNING" {
		t.Errorf("project status = %v, want PLANNING untouched", proj.Status)
	}
}

func TestEngine_RejectRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	inst := env.submit(t)

	for _, comment := range []string{"", "  ", "no"} {
		_, err := env.engine.Reject(context.Background(), rctxFor("user-area"), inst.ID, comment)
		if model.CodeOf(err) != model.ErrValidationError {
			t.Errorf("Reject(%q) code = %s, want %s", comment, model.CodeOf(err), model.ErrValidationError)
		}
	}
}

func TestEngine_SecondActionOnStepRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	if _, err := env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, ""); err != nil {
		t.Fatalf("Approve error: %v", err)
	}

	// The flow has moved to step 2; another role-area holder hitting the
	// old step is past it, and the same step cannot be acted on twice.
	_, err := env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, "")
	if model.CodeOf(err) != model.ErrForbidden {
		t.Errorf("code = %s, want %s (step advanced)", model.CodeOf(err), model.ErrForbidden)
	}
}

func TestEngine_ConcurrentApprovesRecordOneAction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	// Race a batch of identical approvals at step 1. The store serializes
	// them; exactly one may land, the rest must fail cleanly.
	const workers = 8
	start := make(chan struct{})
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, "")
		}(i)
	}
	close(start)
	wg.Wait()

	var wins int
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		switch code := model.CodeOf(err); code {
		case model.ErrForbidden, model.ErrAlreadyActed:
		default:
			t.Errorf("racer %d failed with %s, want %s or %s",
				i, code, model.ErrForbidden, model.ErrAlreadyActed)
		}
	}
	if wins != 1 {
		t.Errorf("successful approvals = %d, want exactly 1", wins)
	}

	actions, err := env.store.ListActions(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListActions error: %v", err)
	}
	if len(actions) != 1 {
		t.Errorf("recorded actions = %d, want 1", len(actions))
	}
}

func TestEngine_WrongRoleForbidden(t *testing.T) {
	env := newTestEnv(t)
	inst := env.submit(t)

	_, err := env.engine.Approve(context.Background(), rctxFor("user-director"), inst.ID, "")
	if model.CodeOf(err) != model.ErrForbidden {
		t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrForbidden)
	}
}

func TestEngine_ActOnTerminalInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	if _, err := env.engine.Reject(ctx, rctxFor("user-area"), inst.ID, "wrong site"); err != nil {
		t.Fatalf("Reject error: %v", err)
	}

	_, err := env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, "")
	if model.CodeOf(err) != model.ErrNoActiveStep {
		t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrNoActiveStep)
	}
}

func TestEngine_ApproveBackfillsMissingStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	// Simulate a run whose start mark was lost.
	stored, err := env.store.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance error: %v", err)
	}
	stored.StartedAt = nil
	err = env.store.InTx(ctx, func(tx store.Tx) error { return tx.UpdateInstance(ctx, &stored) })
	if err != nil {
		t.Fatalf("UpdateInstance error: %v", err)
	}

	env.advance(time.Hour)
	detail, err := env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, "")
	if err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if detail.Instance.StartedAt == nil || !detail.Instance.StartedAt.Equal(env.clock) {
		t.Errorf("StartedAt = %v, want backfilled to %v", detail.Instance.StartedAt, env.clock)
	}
}

// --- Submit guards ---

func TestEngine_Submit_unknownProcessType(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Submit(context.Background(), rctxFor("user-planner"), "proj-1", "construction")
	if model.CodeOf(err) != model.ErrMisconfiguredFlow {
		t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrMisconfiguredFlow)
	}
}

func TestEngine_Submit_flowWithoutSteps(t *testing.T) {
	env := newTestEnv(t)
	empty := model.Flow{ID: "flow-empty", Name: "Empty", ProcessType: "golive"}
	if err := env.store.CreateFlow(context.Background(), &empty); err != nil {
		t.Fatalf("seed flow: %v", err)
	}

	_, err := env.engine.Submit(context.Background(), rctxFor("user-planner"), "proj-1", "golive")
	if model.CodeOf(err) != model.ErrMisconfiguredFlow {
		t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrMisconfiguredFlow)
	}
}

func TestEngine_Submit_duplicateActiveRun(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t)

	_, err := env.engine.Submit(context.Background(), rctxFor("user-planner"), "proj-1", "survey")
	if model.CodeOf(err) != model.ErrConflict {
		t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrConflict)
	}
}

func TestEngine_Submit_unknownProject(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Submit(context.Background(), rctxFor("user-planner"), "proj-missing", "survey")
	if model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("code = %s, want %s", model.CodeOf(err), model.ErrNotFound)
	}
}

// --- Revise ---

func TestEngine_Revise_afterRejection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.submit(t)

	if _, err := env.engine.Reject(ctx, rctxFor("user-area"), first.ID, "resurvey the site"); err != nil {
		t.Fatalf("Reject error: %v", err)
	}

	env.advance(time.Hour)
	second, err := env.engine.Revise(ctx, rctxFor("user-planner"), "proj-1", "survey")
	if err != nil {
		t.Fatalf("Revise error: %v", err)
	}
	if second.StatusName() != model.StatusSubmitted {
		t.Errorf("status = %s, want %s", second.StatusName(), model.StatusSubmitted)
	}

	// The rejected run is preserved and linked forward, never deleted.
	old, err := env.store.GetInstance(ctx, first.ID)
	if err != nil {
		t.Fatalf("original run gone after revise: %v", err)
	}
	if old.SupersededBy != second.ID {
		t.Errorf("SupersededBy = %q, want %q", old.SupersededBy, second.ID)
	}
	if old.StatusName() != model.StatusRejected {
		t.Errorf("original status = %s, want %s", old.StatusName(), model.StatusRejected)
	}

	// The revised run starts from the first step again.
	detail, err := env.engine.Detail(ctx, rctxFor("user-area"), second.ID)
	if err != nil {
		t.Fatalf("Detail error: %v", err)
	}
	if detail.CurrentStep == nil || detail.CurrentStep.ID != "s1" {
		t.Errorf("current step = %v, want s1", detail.CurrentStep)
	}
}

func TestEngine_Revise_requiresRejectedRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Nothing submitted yet.
	_, err := env.engine.Revise(ctx, rctxFor("user-planner"), "proj-1", "survey")
	if model.CodeOf(err) != model.ErrConflict {
		t.Errorf("code with no run = %s, want %s", model.CodeOf(err), model.ErrConflict)
	}

	// A running instance cannot be revised.
	env.submit(t)
	_, err = env.engine.Revise(ctx, rctxFor("user-planner"), "proj-1", "survey")
	if model.CodeOf(err) != model.ErrConflict {
		t.Errorf("code with active run = %s, want %s", model.CodeOf(err), model.ErrConflict)
	}
}

// --- Read side ---

func TestEngine_Detail_actFlags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	detail, err := env.engine.Detail(ctx, rctxFor("user-area"), inst.ID)
	if err != nil {
		t.Fatalf("Detail error: %v", err)
	}
	if !detail.CanAct || detail.AlreadyActed {
		t.Errorf("CanAct=%v AlreadyActed=%v, want true/false for the step's role", detail.CanAct, detail.AlreadyActed)
	}

	detail, err = env.engine.Detail(ctx, rctxFor("user-director"), inst.ID)
	if err != nil {
		t.Fatalf("Detail error: %v", err)
	}
	if detail.CanAct {
		t.Error("CanAct = true for a role two steps downstream")
	}
}

func TestEngine_Detail_resolvedRunHasNothingToActOn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	if _, err := env.engine.Reject(ctx, rctxFor("user-area"), inst.ID, "wrong corridor"); err != nil {
		t.Fatalf("Reject error: %v", err)
	}

	// No current step remains; every viewer sees the run as fully acted,
	// whether or not they placed an action themselves.
	for _, user := range []string{"user-area", "user-director"} {
		detail, err := env.engine.Detail(ctx, rctxFor(user), inst.ID)
		if err != nil {
			t.Fatalf("Detail error: %v", err)
		}
		if detail.CurrentStep != nil {
			t.Errorf("CurrentStep = %v for %s, want nil on a rejected run", detail.CurrentStep, user)
		}
		if !detail.AlreadyActed || detail.CanAct {
			t.Errorf("AlreadyActed=%v CanAct=%v for %s, want true/false with no step left",
				detail.AlreadyActed, detail.CanAct, user)
		}
	}
}

func TestEngine_Inbox_roleFiltering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	items, total, err := env.engine.Inbox(ctx, rctxFor("user-area"), model.ListFilters{})
	if err != nil {
		t.Fatalf("Inbox error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("area inbox = %d items, want 1", total)
	}
	if items[0].CurrentStep.ID != "s1" {
		t.Errorf("current step = %s, want s1", items[0].CurrentStep.ID)
	}
	if items[0].SLA == nil || items[0].SLA.Hours != 24 {
		t.Errorf("SLA = %+v, want 24h block", items[0].SLA)
	}

	// Downstream roles see nothing until the step reaches them.
	if _, total, _ := env.engine.Inbox(ctx, rctxFor("user-region"), model.ListFilters{}); total != 0 {
		t.Errorf("region inbox before step 2 = %d items, want 0", total)
	}

	if _, err := env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, ""); err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if _, total, _ := env.engine.Inbox(ctx, rctxFor("user-region"), model.ListFilters{}); total != 1 {
		t.Errorf("region inbox after step 1 = %d items, want 1", total)
	}
	if _, total, _ := env.engine.Inbox(ctx, rctxFor("user-area"), model.ListFilters{}); total != 0 {
		t.Errorf("area inbox after acting = %d items, want 0", total)
	}
}

func TestEngine_Inbox_searchFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.submit(t)

	_, total, err := env.engine.Inbox(ctx, rctxFor("user-area"), model.ListFilters{Search: "north ring"})
	if err != nil {
		t.Fatalf("Inbox error: %v", err)
	}
	if total != 1 {
		t.Errorf("search hit = %d, want 1", total)
	}
	if _, total, _ := env.engine.Inbox(ctx, rctxFor("user-area"), model.ListFilters{Search: "nomatch"}); total != 0 {
		t.Errorf("search miss = %d, want 0", total)
	}
}

func TestEngine_History(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inst := env.submit(t)

	if _, err := env.engine.Approve(ctx, rctxFor("user-area"), inst.ID, "ok"); err != nil {
		t.Fatalf("Approve error: %v", err)
	}

	items, total, err := env.engine.History(ctx, rctxFor("user-area"), model.ListFilters{})
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("history = %d items, want 1", total)
	}
	if items[0].MyAction.Kind != model.ActionApprove || items[0].MyAction.Comment != "ok" {
		t.Errorf("MyAction = %+v, want the recorded approval", items[0].MyAction)
	}
	if items[0].MyActionStep.ID != "s1" {
		t.Errorf("MyActionStep = %s, want s1", items[0].MyActionStep.ID)
	}

	// Users who acted on nothing get an empty history.
	if _, total, _ := env.engine.History(ctx, rctxFor("user-region"), model.ListFilters{}); total != 0 {
		t.Errorf("region history = %d items, want 0", total)
	}
}
