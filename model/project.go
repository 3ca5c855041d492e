package model

import "time"

// Status taxonomy type discriminators. The same generic taxonomy table holds
// ordered status sequences for several subject types.
const (
	StatusTypeApproval = "approval"
	StatusTypeProject  = "project"
)

// Status is one row of the shared, generic status taxonomy: an ordering
// number, a name, and a type discriminator. Status sequences are configured
// as data rather than hardcoded enums.
type Status struct {
	ID          string `json:"id"`
	No          int    `json:"no"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Project is the business subject gated by approval flows. Only the fields
// the workflow engine reads are modeled here; the wider project module owns
// the rest.
type Project struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Area      string    `json:"area,omitempty"`
	Location  string    `json:"location,omitempty"`
	StatusID  string    `json:"status_id"`
	Status    *Status   `json:"status,omitempty"`
	PlannerID string    `json:"planner_id,omitempty"`
	Deleted   bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusHistory records one project status transition: old, new, who, when,
// and a free-text note.
type StatusHistory struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	OldStatusID string    `json:"old_status_id"`
	NewStatusID string    `json:"new_status_id"`
	ChangedBy   string    `json:"changed_by"`
	ChangedAt   time.Time `json:"changed_at"`
	Note        string    `json:"note,omitempty"`
}
