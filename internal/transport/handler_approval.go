package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vantagelink/rollout/internal/approval"
	"github.com/vantagelink/rollout/model"
)

// handleApprovalList serves the combined inbox/history listing. The tab
// query parameter selects which side: "inbox" (default) lists instances
// awaiting an action by one of the caller's roles, "history" lists instances
// the caller has already acted on.
func handleApprovalList(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		filters := model.ListFilters{
			Search:   r.URL.Query().Get("search"),
			Page:     queryInt(r, "page", 1),
			PageSize: queryInt(r, "page_size", 10),
		}

		tab := r.URL.Query().Get("tab")
		switch tab {
		case "", "inbox":
			items, total, err := engine.Inbox(r.Context(), rctx, filters)
			if err != nil {
				WriteError(w, err)
				return
			}
			writePage(w, "inbox", items, total, filters)
		case "history":
			items, total, err := engine.History(r.Context(), rctx, filters)
			if err != nil {
				WriteError(w, err)
				return
			}
			writePage(w, "history", items, total, filters)
		default:
			WriteError(w, model.NewBadRequestError("unknown tab: "+tab))
		}
	}
}

func handleApprovalDetail(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		detail, err := engine.Detail(r.Context(), rctx, instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

func handleApprove(engine *approval.Engine) http.HandlerFunc {
	return decisionHandler(engine.Approve)
}

func handleReject(engine *approval.Engine) http.HandlerFunc {
	return decisionHandler(engine.Reject)
}

// decisionHandler serves a POST that records an approve or reject decision
// on an instance's current step and returns the refreshed detail.
func decisionHandler(act func(ctx context.Context, rctx *model.RequestContext, instanceID, comment string) (model.InstanceDetail, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		var body struct {
			Comment string `json:"comment"`
		}
		// The body is optional: a bare POST is a decision with no comment.
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		detail, err := act(r.Context(), rctx, instanceID, body.Comment)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

// --- helpers ---

func writePage(w http.ResponseWriter, tab string, items any, total int, filters model.ListFilters) {
	filters.Normalize()
	WriteJSON(w, http.StatusOK, map[string]any{
		"tab":         tab,
		"data":        items,
		"total_count": total,
		"page":        filters.Page,
		"page_size":   filters.PageSize,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
