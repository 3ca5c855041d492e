package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vantagelink/rollout/internal/approval"
	"github.com/vantagelink/rollout/model"
)

// flowRequest is the administrative payload for flow create and update.
type flowRequest struct {
	ProcessType string            `json:"process_type"`
	Name        string            `json:"name"`
	Steps       []model.StepInput `json:"steps"`
}

func handleFlowList(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := engine.ListFlows(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": summaries})
	}
}

func handleFlowGet(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flowID := chi.URLParam(r, "flowId")
		flow, err := engine.GetFlow(r.Context(), flowID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, flow)
	}
}

func handleFlowCreate(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body flowRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		flow, err := engine.CreateFlow(r.Context(), rctx, body.ProcessType, model.FlowInput{
			Name:  body.Name,
			Steps: body.Steps,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, flow)
	}
}

func handleFlowUpdate(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		flowID := chi.URLParam(r, "flowId")

		var body flowRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		flow, err := engine.UpdateFlow(r.Context(), rctx, flowID, model.FlowInput{
			Name:  body.Name,
			Steps: body.Steps,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, flow)
	}
}

func handleFlowDelete(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		flowID := chi.URLParam(r, "flowId")

		if err := engine.DeleteFlow(r.Context(), rctx, flowID); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
