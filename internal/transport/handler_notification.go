package transport

import (
	"net/http"
	"time"

	"github.com/vantagelink/rollout/internal/approval"
	"github.com/vantagelink/rollout/internal/notification"
	"github.com/vantagelink/rollout/model"
)

// notificationPageSize bounds how many inbox items feed one notification
// evaluation pass.
const notificationPageSize = 100

// handleNotifications lists SLA notifications for the caller: inbox items
// inside the warning window or past their deadline, deduplicated across
// requests by the notifier.
func handleNotifications(engine *approval.Engine, notifier *notification.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		items, _, err := engine.Inbox(r.Context(), rctx, model.ListFilters{
			Page:     1,
			PageSize: notificationPageSize,
		})
		if err != nil {
			WriteError(w, err)
			return
		}

		notifications := notifier.Build(r.Context(), items, time.Now())
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        notifications,
			"total_count": len(notifications),
		})
	}
}
