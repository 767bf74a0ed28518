package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/audit"
	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/prompt"
)

type askRequest struct {
	Question      string        `json:"question"`
	APICredential string        `json:"api_credential"`
	History       []prompt.Turn `json:"history"`
	IncludeSteps  bool          `json:"include_steps"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	credential := request.APICredential
	if credential == "" {
		credential = r.Header.Get("X-Provider-Key")
	}

	resp, err := deps.Pipeline.Ask(r.Context(), sessionFromRequest(r), pipeline.AskInput{
		Question:     request.Question,
		Credential:   credential,
		History:      request.History,
		IncludeSteps: request.IncludeSteps,
	})
	if err != nil {
		writeFailure(r, w, err, nil)
		return
	}
	status := http.StatusOK
	if resp.Error != nil && resp.Error.Kind == failure.KindProvider {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func handleEndSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFromRequest(r)
	if !deps.Pipeline.EndSession(sessionID) {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session does not exist", false, map[string]any{"session_id": sessionID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "status": "ended"})
}

func handleListRuns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", err.Error(), false, nil)
		return
	}
	runs, err := deps.Pipeline.Runs(r.Context(), sessionFromRequest(r), limit)
	if err != nil {
		writeAuditError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func handleGetRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run"))
	run, err := deps.Pipeline.Run(r.Context(), runID)
	if err != nil {
		writeAuditError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeAuditError(r *http.Request, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audit.ErrDisabled):
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_DISABLED", "audit log is not enabled", false, nil)
	case errors.Is(err, audit.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "RUN_NOT_FOUND", "run does not exist", false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to read audit log", true, map[string]any{"details": err.Error()})
	}
}
