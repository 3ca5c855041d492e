package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vantagelink/rollout/internal/audit"
	"github.com/vantagelink/rollout/internal/observability"
	"github.com/vantagelink/rollout/internal/project"
	"github.com/vantagelink/rollout/internal/store"
	"github.com/vantagelink/rollout/model"
)

// Tally receives domain counters from the engine. Implementations must be
// safe for concurrent use. All calls happen after the operation committed.
type Tally interface {
	RecordApprovalSubmit(processType, kind string)
	RecordApprovalAction(processType, action string, duration time.Duration)
	RecordApprovalCompletion(processType, finalStatus string)
	RecordStepLatency(processType string, waited time.Duration)
	RecordProjectAdvance(processType string)
}

// Engine orchestrates approval runs: starting them, recording decisions
// under a row lock, deriving read-side views, and bridging completed runs
// into the project lifecycle.
type Engine struct {
	store      store.Store
	roles      model.RoleResolver
	bridge     *project.Bridge
	sink       audit.Sink
	tally      Tally
	defaultSLA int
	now        func() time.Time
}

// NewEngine creates an approval engine. sink may be nil to disable auditing.
func NewEngine(st store.Store, roles model.RoleResolver, bridge *project.Bridge, sink audit.Sink) *Engine {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Engine{
		store:      st,
		roles:      roles,
		bridge:     bridge,
		sink:       sink,
		defaultSLA: 24,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Instrument attaches a counter set. Nil disables instrumentation.
func (e *Engine) Instrument(t Tally) { e.tally = t }

// SetDefaultSLA overrides the SLA, in hours, given to administered steps
// that omit one. Non-positive values keep the current default.
func (e *Engine) SetDefaultSLA(hours int) {
	if hours > 0 {
		e.defaultSLA = hours
	}
}

// Submit starts an approval run for a project. The flow bound to the
// process type must exist, have at least one step, and have a required role
// on every step; a project with a run already in flight is rejected.
func (e *Engine) Submit(ctx context.Context, rctx *model.RequestContext, projectID, processType string) (_ model.Instance, err error) {
	ctx, span := observability.StartSpan(ctx, "approval.submit",
		observability.AttrProjectID.String(projectID),
		observability.AttrProcessType.String(processType),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. The project must exist and be visible.
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return model.Instance{}, err
	}

	// 2. The flow must exist and be actionable end to end. A flow that
	// could never finish must fail at submit time, not mid-run.
	flow, err := e.store.GetFlowByProcessType(ctx, processType)
	if err != nil {
		if model.CodeOf(err) == model.ErrNotFound {
			return model.Instance{}, model.NewMisconfiguredFlowError(
				fmt.Sprintf("no approval flow configured for process type %q", processType),
			)
		}
		return model.Instance{}, err
	}
	if len(flow.Steps) == 0 {
		return model.Instance{}, model.NewMisconfiguredFlowError(
			fmt.Sprintf("approval flow %q has no steps", flow.Name),
		)
	}
	span.SetAttributes(observability.AttrFlowID.String(flow.ID))
	for _, st := range flow.Steps {
		if st.RequiredRoleID == "" {
			return model.Instance{}, model.NewMisconfiguredFlowError(
				fmt.Sprintf("step %q of flow %q has no required role", st.Name, flow.Name),
			)
		}
	}

	// 3. One run at a time per (flow, project). The store enforces the
	// same rule on insert, so a concurrent submit loses cleanly.
	active, err := e.store.HasActiveInstance(ctx, flow.ID, projectID)
	if err != nil {
		return model.Instance{}, err
	}
	if active {
		return model.Instance{}, model.NewConflictError(
			"an approval is already running for this project and flow",
		)
	}

	pending, err := e.store.StatusByName(ctx, model.StatusTypeApproval, model.StatusPending)
	if err != nil {
		return model.Instance{}, err
	}

	now := e.now()
	inst := model.Instance{
		ID:          uuid.New().String(),
		FlowID:      flow.ID,
		ProjectID:   projectID,
		RelatedType: processType,
		StatusID:    pending.ID,
		StartedAt:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateInstance(ctx, &inst); err != nil {
		return model.Instance{}, err
	}

	e.record(ctx, audit.Event{
		Kind:       audit.EventSubmitted,
		InstanceID: inst.ID,
		FlowID:     flow.ID,
		ProjectID:  projectID,
		ActorID:    rctx.SubjectID,
		At:         now,
	})
	if e.tally != nil {
		e.tally.RecordApprovalSubmit(processType, "submit")
	}
	return e.store.GetInstance(ctx, inst.ID)
}

// Revise restarts an approval after a rejection. The latest run for the
// (flow, project) pair must be REJECTED; the rejected run is kept and linked
// to its successor rather than deleted, preserving the rejection history.
func (e *Engine) Revise(ctx context.Context, rctx *model.RequestContext, projectID, processType string) (_ model.Instance, err error) {
	ctx, span := observability.StartSpan(ctx, "approval.revise",
		observability.AttrProjectID.String(projectID),
		observability.AttrProcessType.String(processType),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return model.Instance{}, err
	}

	flow, err := e.store.GetFlowByProcessType(ctx, processType)
	if err != nil {
		return model.Instance{}, err
	}

	latest, err := e.store.LatestInstance(ctx, flow.ID, projectID)
	if err != nil {
		if model.CodeOf(err) == model.ErrNotFound {
			return model.Instance{}, model.NewConflictError("nothing to revise: no approval run exists")
		}
		return model.Instance{}, err
	}
	if latest.StatusName() != model.StatusRejected {
		return model.Instance{}, model.NewConflictError(
			fmt.Sprintf("latest approval run is %s, only a rejected run can be revised", latest.StatusName()),
		)
	}

	submitted, err := e.store.StatusByName(ctx, model.StatusTypeApproval, model.StatusSubmitted)
	if err != nil {
		return model.Instance{}, err
	}

	now := e.now()
	inst := model.Instance{
		ID:          uuid.New().String(),
		FlowID:      flow.ID,
		ProjectID:   projectID,
		RelatedType: processType,
		StatusID:    submitted.ID,
		StartedAt:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateInstance(ctx, &inst); err != nil {
		return model.Instance{}, err
	}
	if err := e.store.SetSupersededBy(ctx, latest.ID, inst.ID); err != nil {
		return model.Instance{}, err
	}

	e.record(ctx, audit.Event{
		Kind:       audit.EventRevised,
		InstanceID: inst.ID,
		FlowID:     flow.ID,
		ProjectID:  projectID,
		ActorID:    rctx.SubjectID,
		At:         now,
		Details:    map[string]any{"supersedes": latest.ID},
	})
	if e.tally != nil {
		e.tally.RecordApprovalSubmit(processType, "revise")
	}
	return e.store.GetInstance(ctx, inst.ID)
}

// Approve records an approval on the instance's current step. The whole
// decision runs inside one transaction holding a row lock on the instance:
// derivation, role check, idempotency check, action insert, and any status
// advance commit together or not at all. Approving the final step completes
// the run and advances the linked project's status in the same transaction.
func (e *Engine) Approve(ctx context.Context, rctx *model.RequestContext, instanceID, comment string) (model.InstanceDetail, error) {
	return e.act(ctx, rctx, instanceID, model.ActionApprove, comment)
}

// Reject records a rejection on the instance's current step and ends the
// run. A rejection must explain itself: the comment is mandatory.
func (e *Engine) Reject(ctx context.Context, rctx *model.RequestContext, instanceID, comment string) (model.InstanceDetail, error) {
	if len(strings.TrimSpace(comment)) < model.MinRejectCommentLen {
		return model.InstanceDetail{}, model.NewValidationError([]model.FieldError{{
			Field: "comment",
			Code:  "too_short",
			Message: fmt.Sprintf("a rejection comment of at least %d characters is required",
				model.MinRejectCommentLen),
		}})
	}
	return e.act(ctx, rctx, instanceID, model.ActionReject, comment)
}

func (e *Engine) act(ctx context.Context, rctx *model.RequestContext, instanceID, kind, comment string) (_ model.InstanceDetail, err error) {
	ctx, span := observability.StartSpan(ctx, "approval.act",
		observability.AttrInstanceID.String(instanceID),
		observability.AttrAction.String(kind),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	roleIDs, err := e.roles.RolesOf(ctx, rctx)
	if err != nil {
		return model.InstanceDetail{}, err
	}
	roles := model.NewRoleSet(roleIDs)

	now := e.now()
	wallStart := time.Now()
	var (
		completed   bool
		step        *model.Step
		events      []audit.Event
		processType string
		stepStart   time.Time
	)

	err = e.store.InTx(ctx, func(tx store.Tx) error {
		// Lock first, then check. Every validation below runs under the
		// row lock so concurrent actors serialize on this instance.
		inst, err := tx.LockInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if IsTerminal(&inst) {
			return model.NewNoActiveStepError(
				fmt.Sprintf("approval run is already %s", strings.ToLower(inst.StatusName())),
			)
		}

		actions, err := tx.ActionsForInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		step = CurrentStep(&inst, actions)
		if step == nil {
			return model.NewNoActiveStepError("approval run has no actionable step")
		}
		processType = inst.RelatedType
		stepStart = stepClockStart(&inst, actions)
		if step.RequiredRoleID == "" {
			return model.NewMisconfiguredFlowError(
				fmt.Sprintf("step %q has no required role", step.Name),
			)
		}
		if !roles.Has(step.RequiredRoleID) {
			return model.NewForbiddenError(
				fmt.Sprintf("step %q requires role %q", step.Name, step.RequiredRoleID),
			)
		}

		acted, err := tx.ActionExists(ctx, instanceID, step.ID)
		if err != nil {
			return err
		}
		if acted {
			return model.NewAlreadyActedError("an action for this step has already been recorded")
		}

		total := len(inst.Flow.Steps)
		final := kind == model.ActionApprove && NextStepAfter(inst.Flow, step) == nil

		recorded := comment
		if final && strings.TrimSpace(recorded) == "" {
			recorded = fmt.Sprintf("Approval complete (%d/%d)", total, total)
		}
		action := model.Action{
			ID:         uuid.New().String(),
			InstanceID: instanceID,
			StepID:     step.ID,
			UserID:     rctx.SubjectID,
			Kind:       kind,
			Comment:    recorded,
			ActedAt:    now,
		}
		if err := tx.InsertAction(ctx, &action); err != nil {
			return err
		}

		switch {
		case kind == model.ActionReject:
			rejected, err := tx.StatusByName(ctx, model.StatusTypeApproval, model.StatusRejected)
			if err != nil {
				return err
			}
			inst.StatusID = rejected.ID
			inst.CompletedAt = &now
			events = append(events, audit.Event{
				Kind: audit.EventRejected, StepID: step.ID, Comment: comment,
			})
		case final:
			approved, err := tx.StatusByName(ctx, model.StatusTypeApproval, model.StatusApproved)
			if err != nil {
				return err
			}
			inst.StatusID = approved.ID
			inst.CompletedAt = &now
			completed = true
			events = append(events,
				audit.Event{Kind: audit.EventApproved, StepID: step.ID, Comment: comment},
				audit.Event{Kind: audit.EventCompleted},
			)
		default:
			// Mid-flow approval: a PENDING or resubmitted run moves to
			// IN_REVIEW once the first step clears. A run that somehow
			// lost its start mark gets one here so SLA clocks keep a base.
			inReview, err := tx.StatusByName(ctx, model.StatusTypeApproval, model.StatusInReview)
			if err != nil {
				return err
			}
			inst.StatusID = inReview.ID
			if inst.StartedAt == nil {
				inst.StartedAt = &now
			}
			events = append(events, audit.Event{
				Kind: audit.EventApproved, StepID: step.ID, Comment: comment,
			})
		}

		if err := tx.UpdateInstance(ctx, &inst); err != nil {
			return err
		}
		if completed {
			if err := e.bridge.OnInstanceApproved(ctx, tx, &inst, rctx.SubjectID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.InstanceDetail{}, err
	}
	span.SetAttributes(observability.AttrStepID.String(step.ID))

	// Audit only after the transaction has committed.
	for _, evt := range events {
		evt.InstanceID = instanceID
		evt.ActorID = rctx.SubjectID
		evt.At = now
		e.record(ctx, evt)
	}
	if e.tally != nil {
		e.tally.RecordApprovalAction(processType, kind, time.Since(wallStart))
		if !stepStart.IsZero() {
			e.tally.RecordStepLatency(processType, now.Sub(stepStart))
		}
		if kind == model.ActionReject {
			e.tally.RecordApprovalCompletion(processType, model.StatusRejected)
		}
		if completed {
			e.tally.RecordApprovalCompletion(processType, model.StatusApproved)
			e.tally.RecordProjectAdvance(processType)
		}
	}
	return e.Detail(ctx, rctx, instanceID)
}

// Detail returns the full single-instance view for the caller.
func (e *Engine) Detail(ctx context.Context, rctx *model.RequestContext, instanceID string) (model.InstanceDetail, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return model.InstanceDetail{}, err
	}
	proj, err := e.store.GetProject(ctx, inst.ProjectID)
	if err != nil {
		return model.InstanceDetail{}, err
	}
	actions, err := e.store.ListActions(ctx, instanceID)
	if err != nil {
		return model.InstanceDetail{}, err
	}
	roleIDs, err := e.roles.RolesOf(ctx, rctx)
	if err != nil {
		return model.InstanceDetail{}, err
	}
	roles := model.NewRoleSet(roleIDs)

	step := CurrentStep(&inst, actions)
	detail := model.InstanceDetail{
		Instance:      inst,
		Project:       proj,
		Flow:          *inst.Flow,
		CurrentStep:   step,
		ProgressLabel: ProgressLabel(&inst, actions),
		Actions:       actions,
	}
	// AlreadyActed reports whether the current step has been consumed,
	// by anyone. A run out of steps has nothing left to act on.
	detail.AlreadyActed = step == nil
	if step != nil {
		detail.SLA = EvaluateSLA(&inst, step, actions, e.now())
		for _, a := range actions {
			if a.StepID == step.ID {
				detail.AlreadyActed = true
			}
		}
		detail.CanAct = roles.Has(step.RequiredRoleID) && !detail.AlreadyActed
	}
	return detail, nil
}

// Inbox returns the instances whose current step is waiting on one of the
// caller's roles, most urgent first. The current step is derived per
// instance, so matching happens here rather than in the store.
func (e *Engine) Inbox(ctx context.Context, rctx *model.RequestContext, filters model.ListFilters) ([]model.InboxItem, int, error) {
	filters.Normalize()

	roleIDs, err := e.roles.RolesOf(ctx, rctx)
	if err != nil {
		return nil, 0, err
	}
	roles := model.NewRoleSet(roleIDs)

	active, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, 0, err
	}

	now := e.now()
	var items []model.InboxItem
	for i := range active {
		ai := &active[i]
		step := CurrentStep(&ai.Instance, ai.Actions)
		if step == nil || !roles.Has(step.RequiredRoleID) {
			continue
		}
		if !matchesSearch(ai, filters.Search) {
			continue
		}
		items = append(items, model.InboxItem{
			Instance:      ai.Instance,
			Project:       ai.Project,
			CurrentStep:   *step,
			ProgressLabel: ProgressLabel(&ai.Instance, ai.Actions),
			SLA:           EvaluateSLA(&ai.Instance, step, ai.Actions, now),
		})
	}

	sortInbox(items)

	total := len(items)
	start := (filters.Page - 1) * filters.PageSize
	if start >= total {
		return []model.InboxItem{}, total, nil
	}
	end := start + filters.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

// History returns the instances the caller has acted on, newest first, each
// with the caller's most recent action attached.
func (e *Engine) History(ctx context.Context, rctx *model.RequestContext, filters model.ListFilters) ([]model.HistoryItem, int, error) {
	filters.Normalize()

	rows, err := e.store.ListActedBy(ctx, rctx.SubjectID)
	if err != nil {
		return nil, 0, err
	}

	var items []model.HistoryItem
	for i := range rows {
		row := &rows[i]
		if len(row.MyActions) == 0 {
			continue
		}
		if filters.Search != "" && !matchesSearch(&store.ActiveInstance{
			Instance: row.Instance, Project: row.Project,
		}, filters.Search) {
			continue
		}
		mine := row.MyActions[0]
		item := model.HistoryItem{
			Instance: row.Instance,
			Project:  row.Project,
			MyAction: mine,
		}
		if row.Instance.Flow != nil {
			if st := row.Instance.Flow.StepByID(mine.StepID); st != nil {
				item.MyActionStep = *st
			}
		}
		actions, err := e.store.ListActions(ctx, row.Instance.ID)
		if err != nil {
			return nil, 0, err
		}
		item.ProgressLabel = ProgressLabel(&row.Instance, actions)
		items = append(items, item)
	}

	total := len(items)
	start := (filters.Page - 1) * filters.PageSize
	if start >= total {
		return []model.HistoryItem{}, total, nil
	}
	end := start + filters.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

// record sends an audit event, never failing the caller.
func (e *Engine) record(ctx context.Context, evt audit.Event) {
	_ = e.sink.Record(ctx, evt)
}

// matchesSearch matches the free-text filter against project code, project
// name, and flow name, case-insensitively.
func matchesSearch(ai *store.ActiveInstance, search string) bool {
	if search == "" {
		return true
	}
	s := strings.ToLower(search)
	if strings.Contains(strings.ToLower(ai.Project.Code), s) ||
		strings.Contains(strings.ToLower(ai.Project.Name), s) {
		return true
	}
	return ai.Instance.Flow != nil && strings.Contains(strings.ToLower(ai.Instance.Flow.Name), s)
}

// sortInbox orders items overdue first, then by hours remaining, then oldest
// run first as the tiebreak.
func sortInbox(items []model.InboxItem) {
	sort.SliceStable(items, func(i, j int) bool {
		si, sj := items[i].SLA, items[j].SLA
		switch {
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		case si != nil && sj != nil:
			if si.IsOverdue != sj.IsOverdue {
				return si.IsOverdue
			}
			if si.HoursRemaining != sj.HoursRemaining {
				return si.HoursRemaining < sj.HoursRemaining
			}
		}
		return items[i].Instance.CreatedAt.Before(items[j].Instance.CreatedAt)
	})
}
