package activation

import (
	"context"
	"errors"

	"github.com/straja-ai/apiguard/internal/audit"
)

// AuditSink persists each event's spec and verdict through an audit.Recorder.
type AuditSink struct {
	rec *audit.Recorder
}

func NewAuditSink(rec *audit.Recorder) (*AuditSink, error) {
	if !rec.Enabled() {
		return nil, errors.New("audit sink requires a configured audit store")
	}
	return &AuditSink{rec: rec}, nil
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	rec := audit.VerdictRecord{
		Verdict:    ev.Verdict,
		UIContract: ev.UIContract,
		RiskScore:  ev.Summary.RiskScore,
		CreatedAt:  ev.Timestamp,
	}
	if ev.Audit != nil {
		rec.UserIntent = ev.Audit.UserIntent
		if ev.Audit.APISpec != "" {
			rec.APISpecID = s.rec.InsertAPISpec(ctx, ev.Audit.APISpecName, ev.Audit.APISpec)
		}
	}
	if id := s.rec.InsertVerdict(ctx, rec); id == "" {
		return errors.New("verdict was not stored")
	}
	return nil
}

func (s *AuditSink) Close(context.Context) error { return nil }
