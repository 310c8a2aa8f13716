// Package inspect runs the signal → verdict → UI contract pipeline and keeps
// its failures from reaching the caller as anything but the conservative
// outcome.
package inspect

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/straja-ai/apiguard/internal/safety"
	"github.com/straja-ai/apiguard/internal/uiplan"
)

// Pipeline wires the three pure stages together. It holds no mutable state
// and may be shared by concurrent requests.
type Pipeline struct {
	extract func(safety.Input) safety.SignalSet
	compose func(safety.SignalSet) safety.Verdict
	derive  func(safety.Verdict) uiplan.Contract
	tracer  trace.Tracer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTracer records a span per run.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithExtractor replaces the extraction stage.
func WithExtractor(fn func(safety.Input) safety.SignalSet) Option {
	return func(p *Pipeline) { p.extract = fn }
}

// WithComposer replaces the verdict composition stage.
func WithComposer(fn func(safety.SignalSet) safety.Verdict) Option {
	return func(p *Pipeline) { p.compose = fn }
}

// WithDeriver replaces the UI plan derivation stage.
func WithDeriver(fn func(safety.Verdict) uiplan.Contract) Option {
	return func(p *Pipeline) { p.derive = fn }
}

// New builds a pipeline around ex.
func New(ex *safety.Extractor, opts ...Option) *Pipeline {
	if ex == nil {
		ex = safety.NewExtractor(safety.DefaultVocabulary())
	}
	p := &Pipeline{
		extract: ex.Extract,
		compose: safety.Compose,
		derive:  uiplan.Derive,
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes extract, compose and derive in order. The first failing stage
// ends the run with an Err result; nothing is retried.
func (p *Pipeline) Run(ctx context.Context, in safety.Input) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := p.tracer.Start(ctx, "apiguard.inspect")
	defer span.End()

	signals, err := runStage(StageExtract, p.extract, in)
	if err != nil {
		return failed(span, err)
	}
	verdict, err := runStage(StageCompose, p.compose, signals)
	if err != nil {
		return failed(span, err)
	}
	contract, err := runStage(StageDerive, p.derive, verdict)
	if err != nil {
		return failed(span, err)
	}

	span.SetAttributes(
		attribute.Bool("apiguard.threat", verdict.Threat),
		attribute.Bool("apiguard.sensitive_request", verdict.SensitiveRequest),
		attribute.Bool("apiguard.urgency", verdict.Urgency),
		attribute.Int("apiguard.signal_count", len(signals.Signals)),
	)
	return Ok(Outcome{Verdict: verdict, UIContract: contract}, signals)
}

func runStage[I, O any](stage Stage, fn func(I) O, in I) (out O, err error) {
	if fn == nil {
		return out, &StageError{Stage: stage, Cause: fmt.Errorf("stage not configured")}
	}
	defer func() {
		if rec := recover(); rec != nil {
			cause, ok := rec.(error)
			if !ok {
				cause = fmt.Errorf("%v", rec)
			}
			err = &StageError{Stage: stage, Cause: cause, Trace: string(debug.Stack())}
		}
	}()
	return fn(in), nil
}

func failed(span trace.Span, err error) Result {
	span.RecordError(err)
	span.SetStatus(codes.Error, "fail-closed")
	span.SetAttributes(attribute.Bool("apiguard.fail_closed", true))
	return Err(err)
}
