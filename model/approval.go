package model

import "time"

// Action kinds. A closed two-value enum: every recorded action is one or the
// other.
const (
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
)

// Instance status names in the shared status taxonomy. PENDING, IN_REVIEW and
// SUBMITTED mark an instance as active; APPROVED and REJECTED are terminal.
const (
	StatusPending   = "PENDING"
	StatusInReview  = "IN_REVIEW"
	StatusSubmitted = "SUBMITTED"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
)

// ActiveStatusNames lists the status names under which an instance still
// awaits action.
var ActiveStatusNames = []string{StatusPending, StatusInReview, StatusSubmitted}

// MinRejectCommentLen is the minimum length of a rejection comment.
const MinRejectCommentLen = 3

// Flow is a named, ordered template of approval steps tied to a process-type
// key. IsActive is derived: true iff at least one non-terminal instance
// references the flow.
type Flow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProcessType string    `json:"process_type"`
	IsActive    bool      `json:"is_active"`
	Steps       []Step    `json:"steps,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StepByID returns the step with the given ID, or nil.
func (f *Flow) StepByID(stepID string) *Step {
	for i := range f.Steps {
		if f.Steps[i].ID == stepID {
			return &f.Steps[i]
		}
	}
	return nil
}

// Step is one stage in a Flow, gated by a required role and an optional SLA.
// Order is a positive integer, unique within the flow, and defines the total
// ordering of steps. A step with an empty RequiredRoleID can never be
// satisfied and is treated as a flow misconfiguration at submit time.
type Step struct {
	ID             string `json:"id"`
	FlowID         string `json:"flow_id"`
	Order          int    `json:"step_order"`
	Name           string `json:"name"`
	RequiredRoleID string `json:"required_role_id"`
	SLAHours       *int   `json:"sla_hours,omitempty"`
}

// Instance is one running or completed execution of a Flow against one
// business subject (a project plus a related-type discriminator). Status is
// a reference into the shared status taxonomy; the current step is never
// stored and is always derived from the action log.
type Instance struct {
	ID          string     `json:"id"`
	FlowID      string     `json:"flow_id"`
	Flow        *Flow      `json:"flow,omitempty"`
	ProjectID   string     `json:"project_id"`
	RelatedType string     `json:"related_type"`
	RelatedID   string     `json:"related_id,omitempty"`
	StatusID    string     `json:"status_id"`
	Status      *Status    `json:"status,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// SupersededBy links a rejected instance to the instance created by a
	// later revise. The rejection history is retained, never deleted.
	SupersededBy string    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StatusName returns the taxonomy name of the instance status, or "" when the
// status relation is not loaded.
func (in *Instance) StatusName() string {
	if in.Status == nil {
		return ""
	}
	return in.Status.Name
}

// Action is an immutable approve/reject record against one (instance, step)
// pair. At most one action may ever exist per pair.
type Action struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	StepID     string    `json:"step_id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name,omitempty"`
	Kind       string    `json:"action"`
	Comment    string    `json:"comment,omitempty"`
	ActedAt    time.Time `json:"acted_at"`
}

// IsApprove reports whether the action is an approval.
func (a *Action) IsApprove() bool { return a.Kind == ActionApprove }

// IsReject reports whether the action is a rejection.
func (a *Action) IsReject() bool { return a.Kind == ActionReject }

// SLAStatus is the computed SLA block for an instance's current step. It is
// recomputed on every read and never persisted.
type SLAStatus struct {
	Hours          int       `json:"hours"`
	Deadline       time.Time `json:"deadline"`
	IsOverdue      bool      `json:"is_overdue"`
	HoursRemaining int       `json:"hours_remaining"`
}

// ListFilters are the common filters for instance listings.
type ListFilters struct {
	Search   string
	Page     int
	PageSize int
}

// Normalize clamps paging values to sane defaults.
func (f *ListFilters) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 10
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
}

// InboxItem is one row of the approval inbox: an instance whose current step
// matches one of the caller's roles.
type InboxItem struct {
	Instance      Instance   `json:"instance"`
	Project       Project    `json:"project"`
	CurrentStep   Step       `json:"step"`
	ProgressLabel string     `json:"progress_label"`
	SLA           *SLAStatus `json:"sla,omitempty"`
}

// HistoryItem is one row of the caller's action history: an instance the
// caller has acted on, with their most recent action attached.
type HistoryItem struct {
	Instance      Instance `json:"instance"`
	Project       Project  `json:"project"`
	ProgressLabel string   `json:"progress_label"`
	MyAction      Action   `json:"my_action"`
	MyActionStep  Step     `json:"my_action_step"`
}

// InstanceDetail is the full single-instance view.
type InstanceDetail struct {
	Instance      Instance   `json:"instance"`
	Project       Project    `json:"project"`
	Flow          Flow       `json:"flow"`
	CurrentStep   *Step      `json:"current_step,omitempty"`
	ProgressLabel string     `json:"progress_label"`
	SLA           *SLAStatus `json:"sla,omitempty"`
	Actions       []Action   `json:"actions"`
	CanAct        bool       `json:"can_act"`
	AlreadyActed  bool       `json:"already_acted"`
}

// FlowSummary is one row of the flow administration listing.
type FlowSummary struct {
	Flow               Flow   `json:"flow"`
	StepsCount         int    `json:"steps_count"`
	ActiveProjectCount int    `json:"project_count"`
	TriggerStatus      string `json:"trigger_status"`
}

// StepInput is the administrative shape of one step in a flow create/update.
type StepInput struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Order          int    `json:"step_order"`
	RequiredRoleID string `json:"required_role_id"`
	SLAHours       *int   `json:"sla_hours,omitempty"`
}

// FlowInput is the administrative shape of a flow create/update.
type FlowInput struct {
	Name  string      `json:"name"`
	Steps []StepInput `json:"steps"`
}
