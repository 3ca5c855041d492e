package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vantagelink/rollout/model"
)

// MemoryStore is an in-memory Store for testing and local development. One
// mutex guards everything, so InTx trivially serializes transactions; row
// locking degenerates to holding that mutex.
type MemoryStore struct {
	mu        sync.RWMutex
	flows     map[string]model.Flow
	instances map[string]model.Instance
	actions   map[string][]model.Action // key: instance ID
	statuses  map[string]model.Status
	projects  map[string]model.Project
	histories []model.StatusHistory
}

// NewMemoryStore creates a new in-memory store seeded with the default
// status taxonomy.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		flows:     make(map[string]model.Flow),
		instances: make(map[string]model.Instance),
		actions:   make(map[string][]model.Action),
		statuses:  make(map[string]model.Status),
		projects:  make(map[string]model.Project),
	}
	for _, st := range defaultStatuses() {
		s.statuses[st.ID] = st
	}
	return s
}

func defaultStatuses() []model.Status {
	return []model.Status{
		{ID: "st-approval-pending", No: 1, Name: model.StatusPending, Type: model.StatusTypeApproval},
		{ID: "st-approval-in-review", No: 2, Name: model.StatusInReview, Type: model.StatusTypeApproval},
		{ID: "st-approval-submitted", No: 3, Name: model.StatusSubmitted, Type: model.StatusTypeApproval},
		{ID: "st-approval-approved", No: 4, Name: model.StatusApproved, Type: model.StatusTypeApproval},
		{ID: "st-approval-rejected", No: 5, Name: model.StatusRejected, Type: model.StatusTypeApproval},
		{ID: "st-project-planning", No: 1, Name: "PLANNING", Type: model.StatusTypeProject},
		{ID: "st-project-survey", No: 2, Name: "SURVEY", Type: model.StatusTypeProject},
		{ID: "st-project-construction", No: 3, Name: "CONSTRUCTION", Type: model.StatusTypeProject},
		{ID: "st-project-go-live", No: 4, Name: "GO_LIVE", Type: model.StatusTypeProject},
	}
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// PutProject seeds or replaces a project. Test helper.
func (s *MemoryStore) PutProject(p model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// PutStatus seeds or replaces a taxonomy row. Test helper.
func (s *MemoryStore) PutStatus(st model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.ID] = st
}

// PutInstance seeds or replaces an instance row, bypassing the single-active
// check. Test helper.
func (s *MemoryStore) PutInstance(inst model.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst.Flow = nil
	inst.Status = nil
	s.instances[inst.ID] = inst
}

// CreateFlow persists a flow and its steps.
func (s *MemoryStore) CreateFlow(_ context.Context, flow *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[flow.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("approval flow %q already exists", flow.ID))
	}
	for _, f := range s.flows {
		if f.ProcessType == flow.ProcessType {
			return model.NewConflictError(
				fmt.Sprintf("a flow for process type %q already exists", flow.ProcessType),
			)
		}
	}
	s.flows[flow.ID] = cloneFlow(*flow)
	return nil
}

// UpdateFlow replaces a flow's name and step set.
func (s *MemoryStore) UpdateFlow(_ context.Context, flow *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.flows[flow.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("approval flow %q not found", flow.ID))
	}
	existing.Name = flow.Name
	existing.Steps = cloneSteps(flow.Steps)
	existing.UpdatedAt = flow.UpdatedAt
	s.flows[flow.ID] = existing
	return nil
}

// DeleteFlow removes a flow.
func (s *MemoryStore) DeleteFlow(_ context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[flowID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("approval flow %q not found", flowID))
	}
	delete(s.flows, flowID)
	return nil
}

// GetFlow retrieves a flow with steps ordered ascending.
func (s *MemoryStore) GetFlow(_ context.Context, flowID string) (model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getFlowLocked(flowID)
}

// GetFlowByProcessType retrieves the flow bound to a process-type key.
func (s *MemoryStore) GetFlowByProcessType(_ context.Context, processType string) (model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, f := range s.flows {
		if f.ProcessType == processType {
			return s.getFlowLocked(id)
		}
	}
	return model.Flow{}, model.NewNotFoundError(
		fmt.Sprintf("no approval flow for process type %q", processType),
	)
}

// ListFlows returns all flows as administration summaries.
func (s *MemoryStore) ListFlows(_ context.Context) ([]model.FlowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.FlowSummary
	for id, f := range s.flows {
		flow, _ := s.getFlowLocked(id)
		sum := model.FlowSummary{
			Flow:       flow,
			StepsCount: len(flow.Steps),
		}
		for _, inst := range s.instances {
			if inst.FlowID == id && inst.CompletedAt == nil {
				sum.ActiveProjectCount++
			}
		}
		for _, st := range s.statuses {
			if st.Type == model.StatusTypeProject && strings.EqualFold(st.Name, f.ProcessType) {
				sum.TriggerStatus = st.Name
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Flow.CreatedAt.Before(out[j].Flow.CreatedAt)
	})
	return out, nil
}

// CreateInstance persists a new instance, enforcing the one-active-instance
// rule per (flow, project).
func (s *MemoryStore) CreateInstance(_ context.Context, inst *model.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createInstanceLocked(inst)
}

func (s *MemoryStore) createInstanceLocked(inst *model.Instance) error {
	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("approval instance %q already exists", inst.ID))
	}
	for _, other := range s.instances {
		if other.FlowID == inst.FlowID && other.ProjectID == inst.ProjectID && other.CompletedAt == nil {
			return model.NewConflictError("an approval is already running for this project and flow")
		}
	}
	s.instances[inst.ID] = stripRelations(*inst)
	return nil
}

// GetInstance retrieves an instance with flow and status attached.
func (s *MemoryStore) GetInstance(_ context.Context, instanceID string) (model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getInstanceLocked(instanceID)
}

// LatestInstance returns the most recently created instance for a
// (flow, project) pair.
func (s *MemoryStore) LatestInstance(_ context.Context, flowID, projectID string) (model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest model.Instance
		found  bool
	)
	for _, inst := range s.instances {
		if inst.FlowID != flowID || inst.ProjectID != projectID {
			continue
		}
		if !found || inst.CreatedAt.After(latest.CreatedAt) {
			latest = inst
			found = true
		}
	}
	if !found {
		return model.Instance{}, model.NewNotFoundError("approval instance not found")
	}
	return s.getInstanceLocked(latest.ID)
}

// HasActiveInstance reports whether a non-terminal instance exists for the
// (flow, project) pair.
func (s *MemoryStore) HasActiveInstance(_ context.Context, flowID, projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inst := range s.instances {
		if inst.FlowID == flowID && inst.ProjectID == projectID && inst.CompletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// CountInstances counts all instances referencing a flow.
func (s *MemoryStore) CountInstances(_ context.Context, flowID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, inst := range s.instances {
		if inst.FlowID == flowID {
			n++
		}
	}
	return n, nil
}

// SetSupersededBy links a terminal instance to its revise successor.
func (s *MemoryStore) SetSupersededBy(_ context.Context, instanceID, successorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[instanceID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("approval instance %q not found", instanceID))
	}
	inst.SupersededBy = successorID
	inst.UpdatedAt = time.Now().UTC()
	s.instances[instanceID] = inst
	return nil
}

// ListActive returns every non-terminal instance with relations attached.
func (s *MemoryStore) ListActive(_ context.Context) ([]ActiveInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ActiveInstance
	for id, inst := range s.instances {
		if inst.CompletedAt != nil {
			continue
		}
		full, err := s.getInstanceLocked(id)
		if err != nil {
			return nil, err
		}
		project, err := s.getProjectLocked(inst.ProjectID)
		if err != nil {
			return nil, err
		}
		out = append(out, ActiveInstance{
			Instance: full,
			Project:  project,
			Actions:  cloneActions(s.actions[id]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instance.CreatedAt.Before(out[j].Instance.CreatedAt)
	})
	return out, nil
}

// ListActedBy returns instances the user has acted on, newest first.
func (s *MemoryStore) ListActedBy(_ context.Context, userID string) ([]HistoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []HistoryRow
	for id := range s.instances {
		var mine []model.Action
		for _, a := range s.actions[id] {
			if a.UserID == userID {
				mine = append(mine, a)
			}
		}
		if len(mine) == 0 {
			continue
		}
		sort.Slice(mine, func(i, j int) bool { return mine[i].ActedAt.After(mine[j].ActedAt) })

		full, err := s.getInstanceLocked(id)
		if err != nil {
			return nil, err
		}
		project, err := s.getProjectLocked(full.ProjectID)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryRow{Instance: full, Project: project, MyActions: mine})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instance.CreatedAt.After(out[j].Instance.CreatedAt)
	})
	return out, nil
}

// ListActions returns all actions for an instance, oldest first.
func (s *MemoryStore) ListActions(_ context.Context, instanceID string) ([]model.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneActions(s.actions[instanceID]), nil
}

// StatusByID retrieves one taxonomy row by ID.
func (s *MemoryStore) StatusByID(_ context.Context, statusID string) (model.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusByIDLocked(statusID)
}

// StatusByName retrieves one taxonomy row by type and name.
func (s *MemoryStore) StatusByName(_ context.Context, statusType, name string) (model.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusByNameLocked(statusType, name)
}

// NextStatus returns the status of the given type with the lowest `no`
// strictly greater than afterNo.
func (s *MemoryStore) NextStatus(_ context.Context, statusType string, afterNo int) (model.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextStatusLocked(statusType, afterNo)
}

// GetProject retrieves a project with its status attached.
func (s *MemoryStore) GetProject(_ context.Context, projectID string) (model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProjectLocked(projectID)
}

// InTx runs fn under the store's write lock. The single mutex gives the same
// serialization guarantee the row lock gives in Postgres.
func (s *MemoryStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memTx records undo closures so a failed transaction leaves no trace.
type memTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memTx) LockInstance(_ context.Context, instanceID string) (model.Instance, error) {
	return t.store.getInstanceLocked(instanceID)
}

func (t *memTx) ActionsForInstance(_ context.Context, instanceID string) ([]model.Action, error) {
	return cloneActions(t.store.actions[instanceID]), nil
}

func (t *memTx) ActionExists(_ context.Context, instanceID, stepID string) (bool, error) {
	for _, a := range t.store.actions[instanceID] {
		if a.StepID == stepID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertAction(_ context.Context, action *model.Action) error {
	s := t.store
	for _, a := range s.actions[action.InstanceID] {
		if a.StepID == action.StepID {
			return model.NewAlreadyActedError("an action for this step has already been recorded")
		}
	}
	id := action.InstanceID
	prev := len(s.actions[id])
	s.actions[id] = append(s.actions[id], *action)
	t.undo = append(t.undo, func() { s.actions[id] = s.actions[id][:prev] })
	return nil
}

func (t *memTx) UpdateInstance(_ context.Context, inst *model.Instance) error {
	s := t.store
	existing, exists := s.instances[inst.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("approval instance %q not found", inst.ID))
	}
	prev := existing
	existing.StatusID = inst.StatusID
	existing.StartedAt = inst.StartedAt
	existing.CompletedAt = inst.CompletedAt
	existing.SupersededBy = inst.SupersededBy
	existing.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = existing
	t.undo = append(t.undo, func() { s.instances[prev.ID] = prev })
	return nil
}

func (t *memTx) StatusByID(_ context.Context, statusID string) (model.Status, error) {
	return t.store.statusByIDLocked(statusID)
}

func (t *memTx) StatusByName(_ context.Context, statusType, name string) (model.Status, error) {
	return t.store.statusByNameLocked(statusType, name)
}

func (t *memTx) NextStatus(_ context.Context, statusType string, afterNo int) (model.Status, error) {
	return t.store.nextStatusLocked(statusType, afterNo)
}

func (t *memTx) GetProject(_ context.Context, projectID string) (model.Project, error) {
	return t.store.getProjectLocked(projectID)
}

func (t *memTx) UpdateProjectStatus(_ context.Context, projectID, statusID string) error {
	s := t.store
	p, exists := s.projects[projectID]
	if !exists || p.Deleted {
		return model.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}
	prev := p
	p.StatusID = statusID
	if st, ok := s.statuses[statusID]; ok {
		stCopy := st
		p.Status = &stCopy
	}
	p.UpdatedAt = time.Now().UTC()
	s.projects[projectID] = p
	t.undo = append(t.undo, func() { s.projects[prev.ID] = prev })
	return nil
}

func (t *memTx) InsertStatusHistory(_ context.Context, h *model.StatusHistory) error {
	s := t.store
	prev := len(s.histories)
	s.histories = append(s.histories, *h)
	t.undo = append(t.undo, func() { s.histories = s.histories[:prev] })
	return nil
}

// StatusHistories returns all recorded project status transitions. Test
// helper.
func (s *MemoryStore) StatusHistories() []model.StatusHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StatusHistory, len(s.histories))
	copy(out, s.histories)
	return out
}

func (s *MemoryStore) getFlowLocked(flowID string) (model.Flow, error) {
	f, exists := s.flows[flowID]
	if !exists {
		return model.Flow{}, model.NewNotFoundError(fmt.Sprintf("approval flow %q not found", flowID))
	}
	flow := cloneFlow(f)
	for _, inst := range s.instances {
		if inst.FlowID == flowID && inst.CompletedAt == nil {
			flow.IsActive = true
			break
		}
	}
	return flow, nil
}

func (s *MemoryStore) getInstanceLocked(instanceID string) (model.Instance, error) {
	inst, exists := s.instances[instanceID]
	if !exists {
		return model.Instance{}, model.NewNotFoundError("approval instance not found")
	}
	flow, err := s.getFlowLocked(inst.FlowID)
	if err != nil {
		return model.Instance{}, err
	}
	inst.Flow = &flow

	st, err := s.statusByIDLocked(inst.StatusID)
	if err != nil {
		return model.Instance{}, err
	}
	inst.Status = &st
	return inst, nil
}

func (s *MemoryStore) getProjectLocked(projectID string) (model.Project, error) {
	p, exists := s.projects[projectID]
	if !exists || p.Deleted {
		return model.Project{}, model.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}
	if p.StatusID != "" {
		if st, ok := s.statuses[p.StatusID]; ok {
			stCopy := st
			p.Status = &stCopy
		}
	}
	return p, nil
}

func (s *MemoryStore) statusByIDLocked(statusID string) (model.Status, error) {
	st, exists := s.statuses[statusID]
	if !exists {
		return model.Status{}, model.NewNotFoundError("status not found")
	}
	return st, nil
}

func (s *MemoryStore) statusByNameLocked(statusType, name string) (model.Status, error) {
	for _, st := range s.statuses {
		if st.Type == statusType && st.Name == name {
			return st, nil
		}
	}
	return model.Status{}, model.NewNotFoundError("status not found")
}

func (s *MemoryStore) nextStatusLocked(statusType string, afterNo int) (model.Status, error) {
	var (
		best  model.Status
		found bool
	)
	for _, st := range s.statuses {
		if st.Type != statusType || st.No <= afterNo {
			continue
		}
		if !found || st.No < best.No {
			best = st
			found = true
		}
	}
	if !found {
		return model.Status{}, model.NewNotFoundError("status not found")
	}
	return best, nil
}

func cloneFlow(f model.Flow) model.Flow {
	f.Steps = cloneSteps(f.Steps)
	return f
}

func cloneSteps(steps []model.Step) []model.Step {
	out := make([]model.Step, len(steps))
	copy(out, steps)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func cloneActions(actions []model.Action) []model.Action {
	out := make([]model.Action, len(actions))
	copy(out, actions)
	sort.Slice(out, func(i, j int) bool { return out[i].ActedAt.Before(out[j].ActedAt) })
	return out
}

func stripRelations(inst model.Instance) model.Instance {
	inst.Flow = nil
	inst.Status = nil
	return inst
}
