package inspect

import (
	"fmt"

	"github.com/straja-ai/apiguard/internal/safety"
	"github.com/straja-ai/apiguard/internal/uiplan"
)

// Outcome is the verdict/contract pair returned to the safety-analysis caller.
type Outcome struct {
	Verdict    safety.Verdict  `json:"verdict"`
	UIContract uiplan.Contract `json:"ui_contract"`
}

// Conservative returns the fixed fail-closed outcome. Every fallback path in
// the service, pipeline and HTTP recovery alike, uses this value.
func Conservative() Outcome {
	return Outcome{
		Verdict:    safety.ConservativeVerdict(),
		UIContract: uiplan.Conservative(),
	}
}

// Stage identifies a pipeline step.
type Stage string

const (
	StageExtract Stage = "extract"
	StageCompose Stage = "compose"
	StageDerive  Stage = "derive"
)

// StageError reports a failure inside one pipeline stage.
type StageError struct {
	Stage Stage
	Cause error
	Trace string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("inspect: %s stage failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Result is either an outcome or the error that prevented one. It is
// converted into a response only through FailClosed.
type Result struct {
	outcome Outcome
	signals safety.SignalSet
	err     error
}

// Ok wraps a successfully computed outcome.
func Ok(o Outcome, signals safety.SignalSet) Result {
	return Result{outcome: o, signals: signals}
}

// Err wraps a pipeline failure. A nil err is replaced so the result still
// reads as failed.
func Err(err error) Result {
	if err == nil {
		err = fmt.Errorf("inspect: unspecified failure")
	}
	return Result{err: err}
}

// Err returns the failure, or nil for an ok result.
func (r Result) Err() error { return r.err }

// Signals returns the detection signals of an ok result.
func (r Result) Signals() safety.SignalSet { return r.signals }

// FailClosed turns a result into the outcome sent to the caller. A failed
// result is reported and replaced by Conservative; report may be nil and a
// panicking report is contained.
func FailClosed(r Result, report func(error)) Outcome {
	if r.err == nil {
		return r.outcome
	}
	if report != nil {
		func() {
			defer func() { _ = recover() }()
			report(r.err)
		}()
	}
	return Conservative()
}
