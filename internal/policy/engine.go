package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/audit"
	"github.com/straja-ai/apiguard/internal/safety"
)

// Match names a policy whose rule held for a verdict.
type Match struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Engine evaluates policy rules written in CEL. A rule sees:
//
//	verdict.urgency, verdict.threat, verdict.sensitive_request, verdict.explanation
//	risk_score (double)
//
// and must yield a bool.
type Engine struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
	log      *zap.Logger
}

func NewEngine(log *zap.Logger) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("verdict", cel.DynType),
		cel.Variable("risk_score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		env:      env,
		prgCache: make(map[string]cel.Program),
		log:      log.Named("policy"),
	}, nil
}

// Check compiles rule and reports whether it is usable.
func (e *Engine) Check(rule string) error {
	_, err := e.program(rule)
	return err
}

// Evaluate returns the policies whose rule holds for v, in input order.
// Rules that fail to compile or evaluate are skipped.
func (e *Engine) Evaluate(policies []audit.Policy, v safety.Verdict) []Match {
	matches := []Match{}
	if e == nil || len(policies) == 0 {
		return matches
	}
	input := map[string]any{
		"verdict": map[string]any{
			"urgency":           v.Urgency,
			"threat":            v.Threat,
			"sensitive_request": v.SensitiveRequest,
			"explanation":       v.Explanation,
		},
		"risk_score": audit.RiskScore(v),
	}
	for _, p := range policies {
		if strings.TrimSpace(p.Rule) == "" {
			continue
		}
		ok, err := e.evaluateExpr(p.Rule, input)
		if err != nil {
			e.log.Warn("policy rule skipped",
				zap.String("policy_id", p.ID),
				zap.String("policy", p.Name),
				zap.Error(err),
			)
			continue
		}
		if ok {
			matches = append(matches, Match{ID: p.ID, Name: p.Name})
		}
	}
	return matches
}

func (e *Engine) evaluateExpr(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}
