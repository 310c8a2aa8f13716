package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// problemDetail is an RFC 7807 error body.
type problemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// blockedBody is returned for unhandled failures outside the analysis paths.
type blockedBody struct {
	Error   string `json:"error"`
	Blocked bool   `json:"blocked"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	p := problemDetail{
		Type:    fmt.Sprintf("https://apiguard.dev/errors/%d", status),
		Title:   title,
		Status:  status,
		Detail:  detail,
		TraceID: w.Header().Get(headerRequestID),
	}
	if r != nil {
		p.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	writeProblem(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

func writeBlocked(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, blockedBody{Error: "Internal server error", Blocked: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
