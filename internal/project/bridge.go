// Package project bridges completed approvals into the project lifecycle:
// when an approval run finishes with APPROVED, the linked project advances
// one position in its status sequence.
package project

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vantagelink/rollout/internal/store"
	"github.com/vantagelink/rollout/model"
)

// Bridge advances a project's status when its approval completes. It runs
// inside the same transaction as the final approval action, so the action
// record and the status transition commit or roll back together.
type Bridge struct{}

// NewBridge creates a project-status bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// OnInstanceApproved moves the project to the next status in its sequence
// and records exactly one history row. A project already at the end of the
// sequence is left untouched.
func (b *Bridge) OnInstanceApproved(ctx context.Context, tx store.Tx, inst *model.Instance, actorID string, now time.Time) error {
	proj, err := tx.GetProject(ctx, inst.ProjectID)
	if err != nil {
		return err
	}
	if proj.StatusID == "" {
		return nil
	}

	current, err := tx.StatusByID(ctx, proj.StatusID)
	if err != nil {
		return err
	}

	next, err := tx.NextStatus(ctx, model.StatusTypeProject, current.No)
	if err != nil {
		if model.CodeOf(err) == model.ErrNotFound {
			// End of the sequence: nothing to advance to.
			return nil
		}
		return err
	}

	if err := tx.UpdateProjectStatus(ctx, proj.ID, next.ID); err != nil {
		return err
	}
	return tx.InsertStatusHistory(ctx, &model.StatusHistory{
		ID:          uuid.New().String(),
		ProjectID:   proj.ID,
		OldStatusID: current.ID,
		NewStatusID: next.ID,
		ChangedBy:   actorID,
		ChangedAt:   now,
		Note:        fmt.Sprintf("Advanced from %s to %s on approval completion", current.Name, next.Name),
	})
}
