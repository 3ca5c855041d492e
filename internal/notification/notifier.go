package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vantagelink/rollout/model"
)

// Notification tiers.
const (
	TierWarning = "warning"
	TierOverdue = "overdue"
)

// Notification is one SLA alert for an inbox item.
type Notification struct {
	Tier        string    `json:"tier"`
	InstanceID  string    `json:"instance_id"`
	StepID      string    `json:"step_id"`
	StepName    string    `json:"step_name"`
	ProjectCode string    `json:"project_code"`
	ProjectName string    `json:"project_name"`
	FlowName    string    `json:"flow_name"`
	Message     string    `json:"message"`
	Deadline    time.Time `json:"deadline"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier derives SLA notifications from inbox items. An item inside the
// warning window notifies once; an overdue item notifies, then reminds again
// each time the reminder interval elapses.
type Notifier struct {
	dedup            DedupStore
	logger           *zap.Logger
	warningThreshold time.Duration
	reminderInterval time.Duration
	tally            Tally
}

// Tally receives notification counters and the overdue-backlog gauge.
// Safe for concurrent use.
type Tally interface {
	RecordNotification(tier string)
	SetSLAOverdue(processType string, count float64)
}

// NewNotifier creates a Notifier. warningThreshold is how close to the
// deadline the warning tier starts; reminderInterval is how often an overdue
// item re-notifies.
func NewNotifier(dedup DedupStore, logger *zap.Logger, warningThreshold, reminderInterval time.Duration) *Notifier {
	if warningThreshold <= 0 {
		warningThreshold = 4 * time.Hour
	}
	if reminderInterval <= 0 {
		reminderInterval = 24 * time.Hour
	}
	return &Notifier{
		dedup:            dedup,
		logger:           logger,
		warningThreshold: warningThreshold,
		reminderInterval: reminderInterval,
	}
}

// Instrument attaches a counter set. Nil disables instrumentation.
func (n *Notifier) Instrument(t Tally) { n.tally = t }

// Build evaluates the caller's inbox and returns the notifications due now.
// Dedup failures degrade to emitting, never to silence.
func (n *Notifier) Build(ctx context.Context, items []model.InboxItem, now time.Time) []Notification {
	var out []Notification
	overdue := make(map[string]int)
	for i := range items {
		item := &items[i]
		if item.SLA == nil {
			continue
		}
		// Gauge the overdue backlog per process type on every pass,
		// independent of dedup, so a cleared backlog reads zero.
		if _, ok := overdue[item.Instance.RelatedType]; !ok {
			overdue[item.Instance.RelatedType] = 0
		}
		if item.SLA.IsOverdue {
			overdue[item.Instance.RelatedType]++
		}

		tier, ttl := n.classify(item.SLA, now)
		if tier == "" {
			continue
		}

		key := FormatKey(item.Instance.ID, item.CurrentStep.ID, tier)
		seen, err := n.dedup.Seen(ctx, key)
		if err != nil {
			n.logger.Warn("notification dedup lookup failed", zap.String("key", key), zap.Error(err))
		}
		if seen {
			continue
		}
		if err := n.dedup.Mark(ctx, key, ttl); err != nil {
			n.logger.Warn("notification dedup mark failed", zap.String("key", key), zap.Error(err))
		}

		if n.tally != nil {
			n.tally.RecordNotification(tier)
		}
		out = append(out, Notification{
			Tier:        tier,
			InstanceID:  item.Instance.ID,
			StepID:      item.CurrentStep.ID,
			StepName:    item.CurrentStep.Name,
			ProjectCode: item.Project.Code,
			ProjectName: item.Project.Name,
			FlowName:    flowName(item),
			Message:     n.message(item, tier),
			Deadline:    item.SLA.Deadline,
			CreatedAt:   now,
		})
	}
	if n.tally != nil {
		for processType, count := range overdue {
			n.tally.SetSLAOverdue(processType, float64(count))
		}
	}
	return out
}

// classify picks the tier for an SLA block and the dedup TTL that controls
// re-emission. Overdue marks expire on the reminder interval, which is what
// makes reminders recur; warnings are marked until their deadline passes so
// the overdue tier starts fresh.
func (n *Notifier) classify(sla *model.SLAStatus, now time.Time) (string, time.Duration) {
	if sla.IsOverdue {
		return TierOverdue, n.reminderInterval
	}
	remaining := sla.Deadline.Sub(now)
	if remaining <= n.warningThreshold {
		return TierWarning, remaining
	}
	return "", 0
}

func (n *Notifier) message(item *model.InboxItem, tier string) string {
	switch tier {
	case TierOverdue:
		late := -item.SLA.HoursRemaining
		return fmt.Sprintf("%s for %s (%s) is overdue by %dh",
			item.CurrentStep.Name, item.Project.Name, item.Project.Code, late)
	default:
		return fmt.Sprintf("%s for %s (%s) is due in %dh",
			item.CurrentStep.Name, item.Project.Name, item.Project.Code, item.SLA.HoursRemaining)
	}
}

func flowName(item *model.InboxItem) string {
	if item.Instance.Flow != nil {
		return item.Instance.Flow.Name
	}
	return ""
}
