package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/straja-ai/apiguard/internal/activation"
	"github.com/straja-ai/apiguard/internal/inspect"
)

type requestStatusResponse struct {
	RequestID string            `json:"request_id"`
	Status    string            `json:"status"`
	Outcome   *inspect.Outcome  `json:"outcome"`
	Event     *activation.Event `json:"event"`
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(mux.Vars(r)["id"])
	entry, ok := s.requestStore.Get(requestID)
	if !ok {
		writeProblem(w, r, http.StatusNotFound, "Not Found", "unknown or expired request id")
		return
	}
	// With auth enabled a project only sees its own requests.
	if project, authed := projectFrom(r.Context()); authed && entry.projectID != project.ID {
		writeProblem(w, r, http.StatusNotFound, "Not Found", "unknown or expired request id")
		return
	}

	resp := requestStatusResponse{
		RequestID: requestID,
		Status:    entry.status,
	}
	if entry.status == statusCompleted {
		resp.Outcome = entry.outcome
		resp.Event = entry.event
	}
	writeJSON(w, http.StatusOK, resp)
}
