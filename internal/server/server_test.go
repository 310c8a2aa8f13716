package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/straja-ai/apiguard/internal/activation"
	"github.com/straja-ai/apiguard/internal/audit"
	"github.com/straja-ai/apiguard/internal/auth"
	"github.com/straja-ai/apiguard/internal/config"
	"github.com/straja-ai/apiguard/internal/console"
	"github.com/straja-ai/apiguard/internal/inspect"
	"github.com/straja-ai/apiguard/internal/logging"
	"github.com/straja-ai/apiguard/internal/policy"
	"github.com/straja-ai/apiguard/internal/safety"
	"github.com/straja-ai/apiguard/internal/uiplan"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load("testdata/does-not-exist.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Server.Addr = ":0"
	cfg.Server.MaxRequestBodyBytes = 4096
	cfg.Server.MaxInFlightRequests = 5
	cfg.Projects = []config.ProjectConfig{{ID: "p1", APIKeys: []string{"test-key"}}}
	cfg.Security.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *Server {
	t.Helper()

	if deps.Auth == nil {
		authz, err := auth.NewFromConfig(cfg)
		require.NoError(t, err)
		deps.Auth = authz
	}
	srv, err := New(cfg, deps)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeOutcome(t *testing.T, rr *httptest.ResponseRecorder) inspect.Outcome {
	t.Helper()
	var out inspect.Outcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestAnalyzeScenarios(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})

	cases := []struct {
		name       string
		path       string
		body       string
		threat     bool
		sensitive  bool
		urgency    bool
		components []uiplan.Component
	}{
		{
			name:       "sensitive and urgent",
			path:       "/v1/analyze",
			body:       `{"api_spec":"POST /charge {CVV, amount}","user_intent":"process this payment urgently","example_payloads":[],"constructed_input":{}}`,
			sensitive:  true,
			urgency:    true,
			components: []uiplan.Component{uiplan.EndpointList, uiplan.RequestBuilder, uiplan.ResponseViewer, uiplan.SafetyInspector},
		},
		{
			name:       "threat via alias",
			path:       "/analyze",
			body:       `{"api_spec":"GET /users","user_intent":"attempt an injection exploit on this endpoint"}`,
			threat:     true,
			components: []uiplan.Component{uiplan.EndpointList, uiplan.SafetyInspector},
		},
		{
			name:       "benign",
			path:       "/v1/analyze",
			body:       `{"api_spec":"GET /weather?city=","user_intent":"show the forecast for Lisbon","constructed_input":{"city":"Lisbon"}}`,
			components: []uiplan.Component{uiplan.EndpointList, uiplan.RequestBuilder, uiplan.ResponseViewer},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, tc.path, tc.body, nil)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			out := decodeOutcome(t, rr)
			assert.Equal(t, tc.threat, out.Verdict.Threat)
			assert.Equal(t, tc.sensitive, out.Verdict.SensitiveRequest)
			assert.Equal(t, tc.urgency, out.Verdict.Urgency)
			assert.Equal(t, tc.components, out.UIContract.Components)
			assert.False(t, out.UIContract.Blocked)
		})
	}
}

func TestAnalyzeStageFailureFailsClosed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	pipeline := inspect.New(nil, inspect.WithComposer(func(safety.SignalSet) safety.Verdict {
		panic("composer exploded")
	}))
	srv := newTestServer(t, newTestConfig(t), Deps{Logger: zap.New(core), Pipeline: pipeline})

	rr := do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"GET /ping","user_intent":"ping"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, inspect.Conservative(), decodeOutcome(t, rr))

	failures := logs.FilterField(zap.String("event", logging.EventError)).All()
	require.Len(t, failures, 1)
	fields := failures[0].ContextMap()
	assert.Equal(t, "/v1/analyze", fields["path"])
	assert.Contains(t, fields["error"], "composer exploded")
	assert.NotEmpty(t, fields["trace"])
}

func TestHandlerPanicOnAnalyzePathFailsClosed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	srv := newTestServer(t, newTestConfig(t), Deps{Logger: zap.New(core)})
	srv.router.HandleFunc("/v2/analyze", func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})

	rr := do(t, srv, http.MethodPost, "/v2/analyze", `{}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	verdict := raw["verdict"].(map[string]any)
	assert.Equal(t, true, verdict["urgency"])
	assert.Equal(t, false, verdict["threat"])
	assert.Equal(t, true, verdict["sensitive_request"])
	assert.Equal(t, safety.ConservativeExplanation, verdict["explanation"])
	contract := raw["ui_contract"].(map[string]any)
	assert.Equal(t, true, contract["blocked"])
	assert.Equal(t, []any{string(uiplan.SafetyInspector)}, contract["components"])

	assert.Equal(t, 1, logs.FilterField(zap.String("event", logging.EventError)).Len())
	// the request log still sees the recovered status
	requests := logs.FilterField(zap.String("event", logging.EventRequest)).All()
	require.Len(t, requests, 1)
	assert.EqualValues(t, http.StatusOK, requests[0].ContextMap()["status"])
}

func TestHandlerPanicElsewhereReturnsBlocked500(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})
	srv.router.HandleFunc("/v1/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rr := do(t, srv, http.MethodGet, "/v1/boom", "", nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal server error","blocked":true}`, rr.Body.String())
}

func TestAnalyzeRejectsMalformedBodies(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})

	cases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"api_spec":`},
		{name: "empty", body: ` `},
		{name: "missing intent", body: `{"api_spec":"GET /x"}`},
		{name: "wrong type", body: `{"api_spec":"GET /x","user_intent":42}`},
		{name: "payloads not objects", body: `{"api_spec":"","user_intent":"","example_payloads":[1,2]}`},
		{name: "array body", body: `[]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/v1/analyze", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

			var p problemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
			assert.Equal(t, http.StatusBadRequest, p.Status)
			assert.Equal(t, "/v1/analyze", p.Instance)
			assert.NotEmpty(t, p.TraceID)
		})
	}
}

func TestRequestBodyLimitReturns413(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.MaxRequestBodyBytes = 10
	srv := newTestServer(t, cfg, Deps{})

	payload := `{"api_spec":"` + strings.Repeat("a", 32) + `","user_intent":""}`
	rr := do(t, srv, http.MethodPost, "/v1/analyze", payload, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Security.Enabled = true
	srv := newTestServer(t, cfg, Deps{})
	body := `{"api_spec":"GET /x","user_intent":"list"}`

	rr := do(t, srv, http.MethodPost, "/v1/analyze", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, srv, http.MethodPost, "/v1/analyze", body, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, srv, http.MethodPost, "/v1/analyze", body, map[string]string{"Authorization": "Bearer test-key"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestParseBearerToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "Bearer abc", want: "abc", ok: true},
		{in: "bearer abc", want: "abc", ok: true},
		{in: "Basic abc", ok: false},
		{in: "Bearer", ok: false},
		{in: "Bearer a b", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := parseBearerToken(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 1
	srv := newTestServer(t, cfg, Deps{})
	body := `{"api_spec":"","user_intent":""}`

	first := do(t, srv, http.MethodPost, "/v1/analyze", body, nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := do(t, srv, http.MethodPost, "/v1/analyze", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestConcurrencyLimitReturns503(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.MaxInFlightRequests = 1
	srv := newTestServer(t, cfg, Deps{})

	srv.inflight <- struct{}{}
	defer func() { <-srv.inflight }()

	rr := do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"","user_intent":""}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.CORSAllowedOrigins = []string{"https://app.example.com"}
	srv := newTestServer(t, cfg, Deps{})

	rr := do(t, srv, http.MethodOptions, "/v1/analyze", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = do(t, srv, http.MethodOptions, "/v1/analyze", "", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestSuspiciousClientIsLoggedNotBlocked(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	srv := newTestServer(t, newTestConfig(t), Deps{Logger: zap.New(core)})

	rr := do(t, srv, http.MethodGet, "/healthz", "", map[string]string{"User-Agent": "python-requests/2.31"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, logs.FilterField(zap.String("event", logging.EventSuspicious)).Len())

	do(t, srv, http.MethodGet, "/healthz", "", map[string]string{"User-Agent": "Mozilla/5.0"})
	assert.Equal(t, 1, logs.FilterField(zap.String("event", logging.EventSuspicious)).Len())
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})
	rr := do(t, srv, http.MethodGet, "/v1/analyze", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(t, srv, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUIPlanEndpoint(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})

	rr := do(t, srv, http.MethodPost, "/v1/ui-plan", `{"urgency":false,"threat":false,"sensitive_request":true,"explanation":"x"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var c uiplan.Contract
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	assert.Equal(t, uiplan.Derive(safety.Verdict{SensitiveRequest: true}), c)

	rr = do(t, srv, http.MethodPost, "/v1/ui-plan", `{"threat":"yes"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})

	rr := do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"","user_intent":"hack it"}`, map[string]string{headerRequestID: "req-abc"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "req-abc", rr.Header().Get(headerRequestID))

	rr = do(t, srv, http.MethodGet, "/v1/requests/req-abc", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		RequestID string           `json:"request_id"`
		Status    string           `json:"status"`
		Outcome   *inspect.Outcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "completed", status.Status)
	require.NotNil(t, status.Outcome)
	assert.True(t, status.Outcome.Verdict.Threat)

	rr = do(t, srv, http.MethodGet, "/v1/requests/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequestStatusIsScopedToProject(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Security.Enabled = true
	cfg.Projects = append(cfg.Projects, config.ProjectConfig{ID: "p2", APIKeys: []string{"other-key"}})
	srv := newTestServer(t, cfg, Deps{})

	do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"","user_intent":""}`, map[string]string{
		headerRequestID: "req-p1", "Authorization": "Bearer test-key",
	})

	rr := do(t, srv, http.MethodGet, "/v1/requests/req-p1", "", map[string]string{"Authorization": "Bearer other-key"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, srv, http.MethodGet, "/v1/requests/req-p1", "", map[string]string{"Authorization": "Bearer test-key"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestIDReuseAcrossProjectsKeepsOwner(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Security.Enabled = true
	cfg.Projects = append(cfg.Projects, config.ProjectConfig{ID: "p2", APIKeys: []string{"other-key"}})
	srv := newTestServer(t, cfg, Deps{})

	rr := do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"","user_intent":"hack it"}`, map[string]string{
		headerRequestID: "shared-id", "Authorization": "Bearer test-key",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	// p2 reuses the id; its own analysis still succeeds.
	rr = do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"","user_intent":"list users"}`, map[string]string{
		headerRequestID: "shared-id", "Authorization": "Bearer other-key",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeOutcome(t, rr).Verdict.Threat)
	require.NoError(t, srv.Wait(context.Background()))

	rr = do(t, srv, http.MethodGet, "/v1/requests/shared-id", "", map[string]string{"Authorization": "Bearer test-key"})
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		Status  string           `json:"status"`
		Outcome *inspect.Outcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "completed", status.Status)
	require.NotNil(t, status.Outcome)
	assert.True(t, status.Outcome.Verdict.Threat)

	rr = do(t, srv, http.MethodGet, "/v1/requests/shared-id", "", map[string]string{"Authorization": "Bearer other-key"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequestStoreRejectsForeignOwner(t *testing.T) {
	s := newRequestStore(time.Minute)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.True(t, s.Start("r1", "p1"))
	s.Complete("r1", "p1", inspect.Conservative())

	assert.False(t, s.Start("r1", "p2"))
	s.Complete("r1", "p2", inspect.Outcome{})
	s.AttachEvent("r1", "p2", &activation.Event{RequestID: "r1"})

	entry, ok := s.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "p1", entry.projectID)
	assert.Equal(t, statusCompleted, entry.status)
	assert.Equal(t, inspect.Conservative(), *entry.outcome)
	assert.Nil(t, entry.event)

	// the same project may restart its own id
	assert.True(t, s.Start("r1", "p1"))

	// an expired entry can be claimed
	now = now.Add(2 * time.Minute)
	assert.True(t, s.Start("r1", "p2"))
}

type staticLister struct {
	policies []audit.Policy
}

func (l staticLister) ActivePolicies(context.Context) []audit.Policy { return l.policies }

type captureSink struct {
	mu     sync.Mutex
	events []*activation.Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, ev *activation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func TestPoliciesAndAuditEvents(t *testing.T) {
	engine, err := policy.NewEngine(nil)
	require.NoError(t, err)
	source := policy.NewSource(staticLister{policies: []audit.Policy{
		{ID: "p-threat", Name: "threats", Rule: "verdict.threat", Active: true},
		{ID: "p-risk", Name: "high-risk", Rule: "risk_score >= 0.9", Active: true},
	}}, nil)
	sink := &captureSink{}
	emitter := activation.NewEmitter(activation.EmitterConfig{QueueSize: 8, Workers: 1}, []activation.Sink{sink}, nil)

	srv := newTestServer(t, newTestConfig(t), Deps{Policies: source, Engine: engine, Emitter: emitter})

	rr := do(t, srv, http.MethodGet, "/v1/policies", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"threats"`)

	rr = do(t, srv, http.MethodPost, "/v1/policies/evaluate", `{"urgency":false,"threat":true,"sensitive_request":false}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"matches":[{"id":"p-threat","name":"threats"}]}`, rr.Body.String())

	rr = do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"GET /users","user_intent":"bypass auth"}`, map[string]string{headerRequestID: "req-ev"})
	require.Equal(t, http.StatusOK, rr.Code)
	out := decodeOutcome(t, rr)
	assert.True(t, out.Verdict.Threat)
	assert.Equal(t, uiplan.Derive(out.Verdict), out.UIContract, "policy matches must not alter the contract")

	require.NoError(t, srv.Wait(context.Background()))
	emitter.Close(context.Background())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "req-ev", ev.RequestID)
	assert.Equal(t, []activation.PolicyMatch{{ID: "p-threat", Name: "threats"}}, ev.PolicyMatches)
	assert.False(t, ev.Summary.FailClosed)
	assert.InDelta(t, 0.6, ev.Summary.RiskScore, 1e-9)
}

type hangingLister struct {
	calls chan struct{}
}

func (l hangingLister) ActivePolicies(ctx context.Context) []audit.Policy {
	l.calls <- struct{}{}
	<-ctx.Done()
	return nil
}

func TestAnalyzeDoesNotWaitForPolicyStore(t *testing.T) {
	engine, err := policy.NewEngine(nil)
	require.NoError(t, err)
	lister := hangingLister{calls: make(chan struct{}, 1)}
	sink := &captureSink{}
	emitter := activation.NewEmitter(activation.EmitterConfig{QueueSize: 8, Workers: 1}, []activation.Sink{sink}, nil)
	srv := newTestServer(t, newTestConfig(t), Deps{Policies: policy.NewSource(lister, nil), Engine: engine, Emitter: emitter})

	start := time.Now()
	rr := do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"GET /users","user_intent":"bypass auth"}`, map[string]string{headerRequestID: "req-slow"})
	elapsed := time.Since(start)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeOutcome(t, rr).Verdict.Threat)
	assert.Less(t, elapsed, policyTimeout/2, "response waited on the policy store")

	select {
	case <-lister.calls:
	case <-time.After(time.Second):
		t.Fatal("policy store was never consulted")
	}
	require.NoError(t, srv.Wait(context.Background()))
	emitter.Close(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, "req-slow", sink.events[0].RequestID)
	assert.Empty(t, sink.events[0].PolicyMatches)

	rr = do(t, srv, http.MethodGet, "/v1/requests/req-slow", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"request_id":"req-slow"`)
	assert.NotContains(t, rr.Body.String(), `"event":null`)
}

func TestAnalyzeSensitiveFieldsFollowBodyKeyOrder(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})

	rr := do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"","user_intent":"","constructed_input":{"password":"x","cvv":"1"}}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decodeOutcome(t, rr).Verdict.Explanation, "password, cvv")

	rr = do(t, srv, http.MethodPost, "/v1/analyze", `{"api_spec":"","user_intent":"","constructed_input":{"cvv":"1","password":"x"}}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decodeOutcome(t, rr).Verdict.Explanation, "cvv, password")
}

func TestPoliciesWithoutSourceAreEmpty(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})

	rr := do(t, srv, http.MethodGet, "/v1/policies", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"policies":[]}`, rr.Body.String())

	rr = do(t, srv, http.MethodPost, "/v1/policies/evaluate", `{"urgency":true,"threat":true,"sensitive_request":true}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"matches":[]}`, rr.Body.String())
}

func TestConcurrentAnalyzeIsDeterministic(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})
	body := `{"api_spec":"POST /login {password}","user_intent":"reset it asap"}`
	want := do(t, srv, http.MethodPost, "/v1/analyze", body, nil).Body.String()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := do(t, srv, http.MethodPost, "/v1/analyze", body, nil)
			assert.Equal(t, want, rr.Body.String())
		}()
	}
	wg.Wait()
}

func TestRequestStoreExpires(t *testing.T) {
	s := newRequestStore(time.Minute)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Start("r1", "p1")
	entry, ok := s.Get("r1")
	require.True(t, ok)
	assert.Equal(t, statusPending, entry.status)

	s.Complete("r1", "p1", inspect.Conservative())
	entry, ok = s.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "p1", entry.projectID)
	assert.Equal(t, statusCompleted, entry.status)

	now = now.Add(2 * time.Minute)
	_, ok = s.Get("r1")
	assert.False(t, ok)
}

func TestConsoleIsServedWithoutAuth(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Security.Enabled = true
	srv := newTestServer(t, cfg, Deps{})

	rr := do(t, srv, http.MethodGet, "/console", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, console.RobotsTagValue, rr.Header().Get(console.RobotsTagHeader))

	rr = do(t, srv, http.MethodGet, "/console/static/console.js", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t), Deps{})

	rr := do(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","inflight":0,"capacity":5,"activation":{"enqueued":0,"dropped":0}}`, rr.Body.String())
}
