package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vantagelink/rollout/internal/approval"
	"github.com/vantagelink/rollout/model"
)

func handleProjectSubmit(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		projectID := chi.URLParam(r, "projectId")

		processType, ok := decodeProcessType(w, r)
		if !ok {
			return
		}

		inst, err := engine.Submit(r.Context(), rctx, projectID, processType)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, inst)
	}
}

func handleProjectRevise(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		projectID := chi.URLParam(r, "projectId")

		processType, ok := decodeProcessType(w, r)
		if !ok {
			return
		}

		inst, err := engine.Revise(r.Context(), rctx, projectID, processType)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, inst)
	}
}

func decodeProcessType(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		ProcessType string `json:"process_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return "", false
	}
	if body.ProcessType == "" {
		WriteError(w, model.NewBadRequestError("process_type is required"))
		return "", false
	}
	return body.ProcessType, true
}
