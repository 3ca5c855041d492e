// Package store persists approval flows, instances, actions, and the shared
// status taxonomy. It exposes a transactional boundary used by the action
// processor: all action recording happens inside one serializable transaction
// holding a row lock on the instance.
package store

import (
	"context"

	"github.com/vantagelink/rollout/model"
)

// ActiveInstance bundles a non-terminal instance with the relations the
// read side needs: the flow with its ordered steps, the resolved status,
// the linked project, and the full action log.
type ActiveInstance struct {
	Instance model.Instance
	Project  model.Project
	Actions  []model.Action
}

// HistoryRow bundles an instance with the actions a particular user has
// taken on it, most recent first.
type HistoryRow struct {
	Instance  model.Instance
	Project   model.Project
	MyActions []model.Action
}

// Store is the persistence interface of the approval engine. Reads attach
// the flow (with steps ordered ascending) and the resolved status to every
// returned instance.
type Store interface {
	// Flows. CreateFlow persists the flow and its steps; UpdateFlow
	// replaces the step set (steps absent from the input are deleted,
	// cascading their actions). DeleteFlow cascades steps and actions.
	CreateFlow(ctx context.Context, flow *model.Flow) error
	UpdateFlow(ctx context.Context, flow *model.Flow) error
	DeleteFlow(ctx context.Context, flowID string) error
	GetFlow(ctx context.Context, flowID string) (model.Flow, error)
	GetFlowByProcessType(ctx context.Context, processType string) (model.Flow, error)
	ListFlows(ctx context.Context) ([]model.FlowSummary, error)

	// Instances.
	CreateInstance(ctx context.Context, inst *model.Instance) error
	GetInstance(ctx context.Context, instanceID string) (model.Instance, error)
	LatestInstance(ctx context.Context, flowID, projectID string) (model.Instance, error)
	HasActiveInstance(ctx context.Context, flowID, projectID string) (bool, error)
	CountInstances(ctx context.Context, flowID string) (int, error)
	SetSupersededBy(ctx context.Context, instanceID, successorID string) error

	// ListActive returns every non-terminal instance with its relations.
	// The current step is derived, not stored, so role filtering happens
	// in the engine after derivation.
	ListActive(ctx context.Context) ([]ActiveInstance, error)

	// ListActedBy returns instances the given user has acted on, newest
	// instance first, with that user's actions attached.
	ListActedBy(ctx context.Context, userID string) ([]HistoryRow, error)

	// Actions, ordered by acted_at ascending.
	ListActions(ctx context.Context, instanceID string) ([]model.Action, error)

	// Status taxonomy.
	StatusByID(ctx context.Context, statusID string) (model.Status, error)
	StatusByName(ctx context.Context, statusType, name string) (model.Status, error)
	// NextStatus returns the status of the given type with the lowest `no`
	// strictly greater than afterNo, or NOT_FOUND when the sequence is
	// exhausted.
	NextStatus(ctx context.Context, statusType string, afterNo int) (model.Status, error)

	// Projects.
	GetProject(ctx context.Context, projectID string) (model.Project, error)

	// InTx runs fn inside one serializable transaction. A returned error
	// rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional surface available to the action processor and the
// project-status bridge. Implementations guarantee that LockInstance holds a
// row-level lock on the instance until the transaction ends, serializing
// concurrent action attempts against it.
type Tx interface {
	// LockInstance loads the instance with flow, steps, and status attached,
	// acquiring a row lock. Lock first, then check: validations performed
	// before the lock would be racy.
	LockInstance(ctx context.Context, instanceID string) (model.Instance, error)

	ActionsForInstance(ctx context.Context, instanceID string) ([]model.Action, error)
	ActionExists(ctx context.Context, instanceID, stepID string) (bool, error)
	InsertAction(ctx context.Context, action *model.Action) error
	UpdateInstance(ctx context.Context, inst *model.Instance) error

	StatusByID(ctx context.Context, statusID string) (model.Status, error)
	StatusByName(ctx context.Context, statusType, name string) (model.Status, error)
	NextStatus(ctx context.Context, statusType string, afterNo int) (model.Status, error)

	GetProject(ctx context.Context, projectID string) (model.Project, error)
	UpdateProjectStatus(ctx context.Context, projectID, statusID string) error
	InsertStatusHistory(ctx context.Context, h *model.StatusHistory) error
}
