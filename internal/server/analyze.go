package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/activation"
	"github.com/straja-ai/apiguard/internal/audit"
	"github.com/straja-ai/apiguard/internal/inspect"
	"github.com/straja-ai/apiguard/internal/logging"
	"github.com/straja-ai/apiguard/internal/policy"
	"github.com/straja-ai/apiguard/internal/redact"
	"github.com/straja-ai/apiguard/internal/safety"
	"github.com/straja-ai/apiguard/internal/telemetry"
	"github.com/straja-ai/apiguard/internal/uiplan"
)

// policyTimeout bounds the policy fetch done for an analysis event.
const policyTimeout = 250 * time.Millisecond

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	project, _ := projectFrom(ctx)

	var in safety.Input
	if err := decodeValidated(r.Body, s.schemas.analyze, &in); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}
	tracked := s.requestStore.Start(requestID, project.ID)
	if !tracked && requestID != "" {
		s.log.Warn("request id already tracked for another project", zap.String("request_id", requestID))
	}

	result := s.pipeline.Run(ctx, in)
	outcome := inspect.FailClosed(result, func(err error) {
		trace := ""
		var stageErr *inspect.StageError
		if errors.As(err, &stageErr) {
			trace = stageErr.Trace
		}
		logging.Failure(s.log, r.URL.Path, err, trace)
	})
	failClosed := result.Err() != nil
	if tracked {
		s.requestStore.Complete(requestID, project.ID, outcome)
	}
	elapsed := time.Since(start)
	writeJSON(w, http.StatusOK, outcome)

	// Policy matching and event delivery happen after the response so a slow
	// policy store cannot delay or alter it.
	route, client := r.URL.Path, clientIP(r)
	s.goBackground(context.WithoutCancel(ctx), func(ctx context.Context) {
		matches := s.matchPolicies(ctx, outcome.Verdict)
		ev := activation.BuildEvent(activation.BuildParams{
			RequestID:     requestID,
			ProjectID:     project.ID,
			Route:         route,
			Client:        client,
			Input:         in,
			Outcome:       outcome,
			Signals:       result.Signals(),
			FailClosed:    failClosed,
			PolicyMatches: matches,
			LoggingLevel:  s.loggingLevel,
			Duration:      elapsed,
		})
		s.emitter.Emit(ctx, ev)
		if tracked {
			s.requestStore.AttachEvent(requestID, project.ID, ev)
		}
		s.telemetry.RecordAnalysis(ctx, telemetry.AnalysisMetrics{
			Route:         route,
			ProjectID:     project.ID,
			Threat:        outcome.Verdict.Threat,
			Sensitive:     outcome.Verdict.SensitiveRequest,
			Urgency:       outcome.Verdict.Urgency,
			FailClosed:    failClosed,
			PolicyMatches: len(matches),
			DurationMs:    float64(elapsed.Microseconds()) / 1000,
		})
	})
}

// goBackground runs fn on its own goroutine, tracked so Wait can drain it.
// A panic in fn is logged and swallowed.
func (s *Server) goBackground(ctx context.Context, fn func(context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("background task panicked", zap.String("error", redact.Any(p)))
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until post-response work started by handlers has finished or
// ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// matchPolicies evaluates active policies against v. Any failure yields no matches.
func (s *Server) matchPolicies(ctx context.Context, v safety.Verdict) (out []activation.PolicyMatch) {
	if s.policies == nil || s.engine == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			s.log.Warn("policy evaluation panicked", zap.String("error", redact.Any(p)))
			out = nil
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, policyTimeout)
	defer cancel()

	for _, m := range s.engine.Evaluate(s.policies.Active(ctx), v) {
		out = append(out, activation.PolicyMatch{ID: m.ID, Name: m.Name})
	}
	return out
}

func (s *Server) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if isBodyTooLarge(err) {
		writeProblem(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large", "request body too large")
		return
	}
	writeProblem(w, r, http.StatusBadRequest, "Bad Request", err.Error())
}

func failClosedMetrics(route string) telemetry.AnalysisMetrics {
	v := safety.ConservativeVerdict()
	return telemetry.AnalysisMetrics{
		Route:      route,
		Threat:     v.Threat,
		Sensitive:  v.SensitiveRequest,
		Urgency:    v.Urgency,
		FailClosed: true,
	}
}

func (s *Server) handleUIPlan(w http.ResponseWriter, r *http.Request) {
	var v safety.Verdict
	if err := decodeValidated(r.Body, s.schemas.verdict, &v); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uiplan.Derive(v))
}

type policiesResponse struct {
	Policies []audit.Policy `json:"policies"`
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), policyTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, policiesResponse{Policies: s.policies.Active(ctx)})
}

type evaluateResponse struct {
	Matches []policy.Match `json:"matches"`
}

func (s *Server) handleEvaluatePolicies(w http.ResponseWriter, r *http.Request) {
	var v safety.Verdict
	if err := decodeValidated(r.Body, s.schemas.verdict, &v); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), policyTimeout)
	defer cancel()

	matches := []policy.Match{}
	if s.engine != nil {
		matches = s.engine.Evaluate(s.policies.Active(ctx), v)
	}
	writeJSON(w, http.StatusOK, evaluateResponse{Matches: matches})
}
