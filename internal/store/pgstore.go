package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantagelink/rollout/model"
)

//go:embed schema.sql
var schemaSQL string

// Postgres constraint names the store translates into domain errors.
const (
	constraintActionPerStep  = "approval_actions_approval_instance_id_approval_step_id_key"
	constraintActiveInstance = "approval_instances_active_subject"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema applies the embedded DDL. All statements are idempotent, so
// running it on every startup is safe.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// translateConstraint maps unique-violation errors onto domain errors. Any
// other error passes through unchanged.
func translateConstraint(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintActionPerStep:
		return model.NewAlreadyActedError("an action for this step has already been recorded")
	case constraintActiveInstance:
		return model.NewConflictError("an approval is already running for this project and flow")
	}
	return err
}

// CreateFlow inserts the flow and its steps in one transaction.
func (s *PgStore) CreateFlow(ctx context.Context, flow *model.Flow) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO approval_flows (id, name, process_type, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			flow.ID, flow.Name, flow.ProcessType, flow.CreatedAt, flow.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert flow: %w", err)
		}
		return insertSteps(ctx, tx, flow)
	})
}

// UpdateFlow updates the flow row and replaces its step set. Steps absent
// from the input are deleted, cascading their actions.
func (s *PgStore) UpdateFlow(ctx context.Context, flow *model.Flow) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE approval_flows SET name = $1, updated_at = $2
			WHERE id = $3`,
			flow.Name, flow.UpdatedAt, flow.ID,
		)
		if err != nil {
			return fmt.Errorf("update flow: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewNotFoundError(fmt.Sprintf("approval flow %q not found", flow.ID))
		}

		keep := make([]string, 0, len(flow.Steps))
		for _, st := range flow.Steps {
			keep = append(keep, st.ID)
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM approval_steps
			WHERE approval_flow_id = $1 AND NOT (id = ANY($2))`,
			flow.ID, keep,
		)
		if err != nil {
			return fmt.Errorf("delete removed steps: %w", err)
		}

		// Two passes so reordered steps never collide on the
		// (flow, step_order) unique key mid-update. Parking shifts
		// orders up rather than negating them: step_order carries a
		// positive CHECK that Postgres enforces per row.
		_, err = tx.Exec(ctx, `
			UPDATE approval_steps SET step_order = step_order + 1000000
			WHERE approval_flow_id = $1`,
			flow.ID,
		)
		if err != nil {
			return fmt.Errorf("park step orders: %w", err)
		}
		for _, st := range flow.Steps {
			tag, err := tx.Exec(ctx, `
				UPDATE approval_steps SET
					step_order = $1, name = $2, required_role_id = $3, sla_hours = $4
				WHERE id = $5 AND approval_flow_id = $6`,
				st.Order, st.Name, st.RequiredRoleID, st.SLAHours, st.ID, flow.ID,
			)
			if err != nil {
				return fmt.Errorf("update step: %w", err)
			}
			if tag.RowsAffected() == 0 {
				_, err = tx.Exec(ctx, `
					INSERT INTO approval_steps (id, approval_flow_id, step_order, name, required_role_id, sla_hours)
					VALUES ($1, $2, $3, $4, $5, $6)`,
					st.ID, flow.ID, st.Order, st.Name, st.RequiredRoleID, st.SLAHours,
				)
				if err != nil {
					return fmt.Errorf("insert step: %w", err)
				}
			}
		}
		return nil
	})
}

// DeleteFlow removes the flow; steps and their actions cascade.
func (s *PgStore) DeleteFlow(ctx context.Context, flowID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM approval_flows WHERE id = $1`, flowID)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("approval flow %q not found", flowID))
	}
	return nil
}

// GetFlow retrieves a flow with its steps ordered ascending.
func (s *PgStore) GetFlow(ctx context.Context, flowID string) (model.Flow, error) {
	return getFlowWhere(ctx, s.pool, "id = $1", flowID)
}

// GetFlowByProcessType retrieves the flow bound to a process-type key.
func (s *PgStore) GetFlowByProcessType(ctx context.Context, processType string) (model.Flow, error) {
	return getFlowWhere(ctx, s.pool, "process_type = $1", processType)
}

// ListFlows returns all flows with step counts, active-instance counts, and
// the project status that triggers each flow's process type.
func (s *PgStore) ListFlows(ctx context.Context) ([]model.FlowSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.name, f.process_type, f.created_at, f.updated_at,
		       (SELECT count(*) FROM approval_steps st WHERE st.approval_flow_id = f.id),
		       (SELECT count(*) FROM approval_instances i
		        WHERE i.approval_flow_id = f.id AND i.completed_at IS NULL),
		       COALESCE((SELECT st.name FROM statuses st
		                 WHERE st.type = $1 AND lower(st.name) = lower(f.process_type)), '')
		FROM approval_flows f
		ORDER BY f.created_at ASC`,
		model.StatusTypeProject,
	)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	var out []model.FlowSummary
	for rows.Next() {
		var sum model.FlowSummary
		if err := rows.Scan(
			&sum.Flow.ID, &sum.Flow.Name, &sum.Flow.ProcessType,
			&sum.Flow.CreatedAt, &sum.Flow.UpdatedAt,
			&sum.StepsCount, &sum.ActiveProjectCount, &sum.TriggerStatus,
		); err != nil {
			return nil, fmt.Errorf("scan flow summary: %w", err)
		}
		sum.Flow.IsActive = sum.ActiveProjectCount > 0
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CreateInstance inserts a new approval instance. A 23505 on the partial
// active-subject index becomes a CONFLICT.
func (s *PgStore) CreateInstance(ctx context.Context, inst *model.Instance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approval_instances (
			id, approval_flow_id, project_id, related_type, related_id,
			status_id, started_at, completed_at, superseded_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inst.ID, inst.FlowID, inst.ProjectID, inst.RelatedType, inst.RelatedID,
		inst.StatusID, inst.StartedAt, inst.CompletedAt, inst.SupersededBy,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if derr := translateConstraint(err); derr != err {
			return derr
		}
		return fmt.Errorf("insert approval instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance with flow, steps, and status attached.
func (s *PgStore) GetInstance(ctx context.Context, instanceID string) (model.Instance, error) {
	inst, err := getInstanceWhere(ctx, s.pool, "id = $1", "", instanceID)
	if err != nil {
		return model.Instance{}, err
	}
	return s.attachRelations(ctx, s.pool, inst)
}

// LatestInstance returns the most recently created instance for a
// (flow, project) pair, with relations attached.
func (s *PgStore) LatestInstance(ctx context.Context, flowID, projectID string) (model.Instance, error) {
	inst, err := getInstanceWhere(ctx, s.pool,
		"approval_flow_id = $1 AND project_id = $2",
		"ORDER BY created_at DESC LIMIT 1",
		flowID, projectID,
	)
	if err != nil {
		return model.Instance{}, err
	}
	return s.attachRelations(ctx, s.pool, inst)
}

// HasActiveInstance reports whether a non-terminal instance exists for the
// (flow, project) pair.
func (s *PgStore) HasActiveInstance(ctx context.Context, flowID, projectID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM approval_instances
			WHERE approval_flow_id = $1 AND project_id = $2 AND completed_at IS NULL
		)`,
		flowID, projectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query active instance: %w", err)
	}
	return exists, nil
}

// CountInstances counts all instances referencing a flow, terminal included.
func (s *PgStore) CountInstances(ctx context.Context, flowID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM approval_instances WHERE approval_flow_id = $1`,
		flowID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

// SetSupersededBy links a terminal instance to its revise successor.
func (s *PgStore) SetSupersededBy(ctx context.Context, instanceID, successorID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE approval_instances SET superseded_by = $1, updated_at = $2
		WHERE id = $3`,
		successorID, time.Now().UTC(), instanceID,
	)
	if err != nil {
		return fmt.Errorf("set superseded_by: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("approval instance %q not found", instanceID))
	}
	return nil
}

// ListActive returns every non-terminal instance with flow, status, project,
// and action log attached.
func (s *PgStore) ListActive(ctx context.Context) ([]ActiveInstance, error) {
	insts, err := queryInstances(ctx, s.pool, `
		SELECT `+instanceColumns+`
		FROM approval_instances
		WHERE completed_at IS NULL
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}

	out := make([]ActiveInstance, 0, len(insts))
	for _, inst := range insts {
		inst, err := s.attachRelations(ctx, s.pool, inst)
		if err != nil {
			return nil, err
		}
		project, err := s.GetProject(ctx, inst.ProjectID)
		if err != nil {
			return nil, err
		}
		actions, err := s.ListActions(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ActiveInstance{Instance: inst, Project: project, Actions: actions})
	}
	return out, nil
}

// ListActedBy returns instances the user has acted on, newest first, with
// that user's actions attached.
func (s *PgStore) ListActedBy(ctx context.Context, userID string) ([]HistoryRow, error) {
	insts, err := queryInstances(ctx, s.pool, `
		SELECT `+instanceColumns+`
		FROM approval_instances
		WHERE id IN (SELECT approval_instance_id FROM approval_actions WHERE user_id = $1)
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}

	out := make([]HistoryRow, 0, len(insts))
	for _, inst := range insts {
		inst, err := s.attachRelations(ctx, s.pool, inst)
		if err != nil {
			return nil, err
		}
		project, err := s.GetProject(ctx, inst.ProjectID)
		if err != nil {
			return nil, err
		}
		mine, err := queryActions(ctx, s.pool, `
			SELECT id, approval_instance_id, approval_step_id, user_id, action, comment, acted_at
			FROM approval_actions
			WHERE approval_instance_id = $1 AND user_id = $2
			ORDER BY acted_at DESC`,
			inst.ID, userID,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryRow{Instance: inst, Project: project, MyActions: mine})
	}
	return out, nil
}

// ListActions returns all actions for an instance, oldest first.
func (s *PgStore) ListActions(ctx context.Context, instanceID string) ([]model.Action, error) {
	return queryActions(ctx, s.pool, `
		SELECT id, approval_instance_id, approval_step_id, user_id, action, comment, acted_at
		FROM approval_actions
		WHERE approval_instance_id = $1
		ORDER BY acted_at ASC`,
		instanceID,
	)
}

// StatusByID retrieves one taxonomy row by ID.
func (s *PgStore) StatusByID(ctx context.Context, statusID string) (model.Status, error) {
	return statusWhere(ctx, s.pool, "id = $1", statusID)
}

// StatusByName retrieves one taxonomy row by type and name.
func (s *PgStore) StatusByName(ctx context.Context, statusType, name string) (model.Status, error) {
	return statusWhere(ctx, s.pool, "type = $1 AND name = $2", statusType, name)
}

// NextStatus returns the status of the given type with the lowest `no`
// strictly greater than afterNo.
func (s *PgStore) NextStatus(ctx context.Context, statusType string, afterNo int) (model.Status, error) {
	return statusWhere(ctx, s.pool,
		"type = $1 AND no > $2 ORDER BY no ASC LIMIT 1",
		statusType, afterNo,
	)
}

// GetProject retrieves a project with its status attached. Soft-deleted
// projects are invisible.
func (s *PgStore) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	return getProject(ctx, s.pool, projectID)
}

// InTx runs fn against a serializable transaction. A returned error rolls
// everything back; unique violations surface as domain errors.
func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, store: s})
	})
	return translateConstraint(err)
}

// pgTx adapts a pgx transaction to the Tx surface.
type pgTx struct {
	tx    pgx.Tx
	store *PgStore
}

// LockInstance loads the instance under SELECT ... FOR UPDATE, then attaches
// flow, steps, and status. The row lock is held until the transaction ends.
func (t *pgTx) LockInstance(ctx context.Context, instanceID string) (model.Instance, error) {
	inst, err := getInstanceWhere(ctx, t.tx, "id = $1", "FOR UPDATE", instanceID)
	if err != nil {
		return model.Instance{}, err
	}
	return t.store.attachRelations(ctx, t.tx, inst)
}

func (t *pgTx) ActionsForInstance(ctx context.Context, instanceID string) ([]model.Action, error) {
	return queryActions(ctx, t.tx, `
		SELECT id, approval_instance_id, approval_step_id, user_id, action, comment, acted_at
		FROM approval_actions
		WHERE approval_instance_id = $1
		ORDER BY acted_at ASC`,
		instanceID,
	)
}

func (t *pgTx) ActionExists(ctx context.Context, instanceID, stepID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM approval_actions
			WHERE approval_instance_id = $1 AND approval_step_id = $2
		)`,
		instanceID, stepID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query action existence: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertAction(ctx context.Context, action *model.Action) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO approval_actions (
			id, approval_instance_id, approval_step_id, user_id, action, comment, acted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		action.ID, action.InstanceID, action.StepID,
		action.UserID, action.Kind, action.Comment, action.ActedAt,
	)
	if err != nil {
		if derr := translateConstraint(err); derr != err {
			return derr
		}
		return fmt.Errorf("insert approval action: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateInstance(ctx context.Context, inst *model.Instance) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE approval_instances SET
			status_id = $1, started_at = $2, completed_at = $3, superseded_by = $4, updated_at = $5
		WHERE id = $6`,
		inst.StatusID, inst.StartedAt, inst.CompletedAt, inst.SupersededBy, time.Now().UTC(), inst.ID,
	)
	if err != nil {
		return fmt.Errorf("update approval instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("approval instance %q not found", inst.ID))
	}
	return nil
}

func (t *pgTx) StatusByID(ctx context.Context, statusID string) (model.Status, error) {
	return statusWhere(ctx, t.tx, "id = $1", statusID)
}

func (t *pgTx) StatusByName(ctx context.Context, statusType, name string) (model.Status, error) {
	return statusWhere(ctx, t.tx, "type = $1 AND name = $2", statusType, name)
}

func (t *pgTx) NextStatus(ctx context.Context, statusType string, afterNo int) (model.Status, error) {
	return statusWhere(ctx, t.tx,
		"type = $1 AND no > $2 ORDER BY no ASC LIMIT 1",
		statusType, afterNo,
	)
}

func (t *pgTx) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	return getProject(ctx, t.tx, projectID)
}

func (t *pgTx) UpdateProjectStatus(ctx context.Context, projectID, statusID string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE projects SET status_id = $1, updated_at = $2
		WHERE id = $3 AND NOT is_deleted`,
		statusID, time.Now().UTC(), projectID,
	)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}
	return nil
}

func (t *pgTx) InsertStatusHistory(ctx context.Context, h *model.StatusHistory) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO project_status_histories (
			id, project_id, old_status_id, new_status_id, changed_by, changed_at, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.ProjectID, h.OldStatusID, h.NewStatusID, h.ChangedBy, h.ChangedAt, h.Note,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// querier is the subset of pgxpool.Pool and pgx.Tx the shared helpers need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const instanceColumns = `id, approval_flow_id, project_id, related_type, related_id,
	status_id, started_at, completed_at, superseded_by, created_at, updated_at`

func insertSteps(ctx context.Context, q querier, flow *model.Flow) error {
	for _, st := range flow.Steps {
		_, err := q.Exec(ctx, `
			INSERT INTO approval_steps (id, approval_flow_id, step_order, name, required_role_id, sla_hours)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			st.ID, flow.ID, st.Order, st.Name, st.RequiredRoleID, st.SLAHours,
		)
		if err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
	}
	return nil
}

func getFlowWhere(ctx context.Context, q querier, where string, args ...any) (model.Flow, error) {
	var flow model.Flow
	err := q.QueryRow(ctx, `
		SELECT id, name, process_type, created_at, updated_at
		FROM approval_flows WHERE `+where,
		args...,
	).Scan(&flow.ID, &flow.Name, &flow.ProcessType, &flow.CreatedAt, &flow.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.Flow{}, model.NewNotFoundError("approval flow not found")
	}
	if err != nil {
		return model.Flow{}, fmt.Errorf("query flow: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, approval_flow_id, step_order, name, required_role_id, sla_hours
		FROM approval_steps
		WHERE approval_flow_id = $1
		ORDER BY step_order ASC`,
		flow.ID,
	)
	if err != nil {
		return model.Flow{}, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st model.Step
		if err := rows.Scan(&st.ID, &st.FlowID, &st.Order, &st.Name, &st.RequiredRoleID, &st.SLAHours); err != nil {
			return model.Flow{}, fmt.Errorf("scan step: %w", err)
		}
		flow.Steps = append(flow.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return model.Flow{}, err
	}

	var active bool
	err = q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM approval_instances
			WHERE approval_flow_id = $1 AND completed_at IS NULL
		)`,
		flow.ID,
	).Scan(&active)
	if err != nil {
		return model.Flow{}, fmt.Errorf("query flow activity: %w", err)
	}
	flow.IsActive = active
	return flow, nil
}

func getInstanceWhere(ctx context.Context, q querier, where, suffix string, args ...any) (model.Instance, error) {
	var inst model.Instance
	err := q.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM approval_instances WHERE `+where+` `+suffix,
		args...,
	).Scan(
		&inst.ID, &inst.FlowID, &inst.ProjectID, &inst.RelatedType, &inst.RelatedID,
		&inst.StatusID, &inst.StartedAt, &inst.CompletedAt, &inst.SupersededBy,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Instance{}, model.NewNotFoundError("approval instance not found")
	}
	if err != nil {
		return model.Instance{}, fmt.Errorf("query approval instance: %w", err)
	}
	return inst, nil
}

func queryInstances(ctx context.Context, q querier, query string, args ...any) ([]model.Instance, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approval instances: %w", err)
	}
	defer rows.Close()

	var insts []model.Instance
	for rows.Next() {
		var inst model.Instance
		if err := rows.Scan(
			&inst.ID, &inst.FlowID, &inst.ProjectID, &inst.RelatedType, &inst.RelatedID,
			&inst.StatusID, &inst.StartedAt, &inst.CompletedAt, &inst.SupersededBy,
			&inst.CreatedAt, &inst.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan approval instance: %w", err)
		}
		insts = append(insts, inst)
	}
	return insts, rows.Err()
}

func queryActions(ctx context.Context, q querier, query string, args ...any) ([]model.Action, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approval actions: %w", err)
	}
	defer rows.Close()

	var actions []model.Action
	for rows.Next() {
		var a model.Action
		if err := rows.Scan(
			&a.ID, &a.InstanceID, &a.StepID, &a.UserID, &a.Kind, &a.Comment, &a.ActedAt,
		); err != nil {
			return nil, fmt.Errorf("scan approval action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func statusWhere(ctx context.Context, q querier, where string, args ...any) (model.Status, error) {
	var st model.Status
	err := q.QueryRow(ctx,
		`SELECT id, no, name, type, description FROM statuses WHERE `+where,
		args...,
	).Scan(&st.ID, &st.No, &st.Name, &st.Type, &st.Description)
	if err == pgx.ErrNoRows {
		return model.Status{}, model.NewNotFoundError("status not found")
	}
	if err != nil {
		return model.Status{}, fmt.Errorf("query status: %w", err)
	}
	return st, nil
}

func getProject(ctx context.Context, q querier, projectID string) (model.Project, error) {
	var p model.Project
	var statusID *string
	err := q.QueryRow(ctx, `
		SELECT id, code, name, area, location, status_id, planner_id, is_deleted, created_at, updated_at
		FROM projects
		WHERE id = $1 AND NOT is_deleted`,
		projectID,
	).Scan(
		&p.ID, &p.Code, &p.Name, &p.Area, &p.Location,
		&statusID, &p.PlannerID, &p.Deleted, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Project{}, model.NewNotFoundError(fmt.Sprintf("project %q not found", projectID))
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("query project: %w", err)
	}
	if statusID != nil {
		p.StatusID = *statusID
		st, err := statusWhere(ctx, q, "id = $1", *statusID)
		if err == nil {
			p.Status = &st
		}
	}
	return p, nil
}

// attachRelations loads the flow (with steps) and the status for an instance.
func (s *PgStore) attachRelations(ctx context.Context, q querier, inst model.Instance) (model.Instance, error) {
	flow, err := getFlowWhere(ctx, q, "id = $1", inst.FlowID)
	if err != nil {
		return model.Instance{}, err
	}
	inst.Flow = &flow

	st, err := statusWhere(ctx, q, "id = $1", inst.StatusID)
	if err != nil {
		return model.Instance{}, err
	}
	inst.Status = &st
	return inst, nil
}
