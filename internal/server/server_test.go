package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scopeshift/internal/config"
	"scopeshift/internal/db"
	"scopeshift/internal/domain"
	"scopeshift/internal/engine"
	"scopeshift/internal/migrate"
	"scopeshift/internal/oracle"
	"scopeshift/internal/repo"
	"scopeshift/internal/stage"
)

const todoScope = `{"features":[
	{"id":"feat-001","title":"Add todo","tier":"V0","acceptanceCriteria":[{"id":"ac-001-1","description":"Item is stored"}]},
	{"id":"feat-002","title":"Complete todo","tier":"V0","acceptanceCriteria":[{"id":"ac-002-1","description":"Item is marked done"}]}
],"testSpecs":[],"codeTemplates":[]}`

const todoProposals = `{"candidates":[{"id":"prop-1","title":"Due dates","tier_suggestion":"V1","rationale":"Users plan ahead",
	"impacts":{"cold_start_ms":"+0","p99_latency_ms":"+5","cost":"low"},"risk":"low","acs":["A due date can be set"],
	"constraints_ok":true}]}`

const todoTestPlan = `{"tests":[{"id":"t-1","tier":"V0","name":"create todo","endpoint":"POST /todos",
	"preconditions":[],"payload":"{\"title\":\"milk\"}","assertions":[{"type":"status","op":"eq","value":"201"}]}]}`

type stubOracle struct {
	mu        sync.Mutex
	responses map[domain.Stage]string
	failures  map[domain.Stage]error
	gates     map[domain.Stage]chan struct{}
}

// Invoke blocks on the stage's gate, if one is set, until it is closed or
// ctx is done.
func (s *stubOracle) Invoke(ctx context.Context, req oracle.Request) (string, error) {
	s.mu.Lock()
	gate := s.gates[req.Stage]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[req.Stage]; err != nil {
		return "", err
	}
	return s.responses[req.Stage], nil
}

type testServer struct {
	URL    string
	client *http.Client
	oracle *stubOracle
	ledger *repo.Ledger
	engine *engine.Engine
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	stub := &stubOracle{
		responses: map[domain.Stage]string{
			domain.StageScope:    todoScope,
			domain.StageProposal: todoProposals,
			domain.StageAnalysis: `{"issues":[],"score":91}`,
			domain.StageTestPlan: todoTestPlan,
		},
		failures: map[domain.Stage]error{},
		gates:    map[domain.Stage]chan struct{}{},
	}
	runner := stage.NewRunner(stub, zap.NewNop())
	runner.LocalChecks = false
	ledger := repo.NewLedger(conn)
	e := engine.New(runner, domain.DefaultConstraints(), zap.NewNop())
	e.Recorder = ledger

	handler, err := New(Config{Engine: e, Ledger: ledger, BasePath: "/v0", Auth: auth})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{URL: srv.URL, client: srv.Client(), oracle: stub, ledger: ledger, engine: e}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func TestPipelineOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "A todo list app"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var scope ScopeResponse
	require.NoError(t, json.Unmarshal(data, &scope))
	require.Len(t, scope.Document.Features, 2)
	assert.NotEmpty(t, scope.ScopeVersion)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/proposals", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var proposals ProposalsResponse
	require.NoError(t, json.Unmarshal(data, &proposals))
	require.Len(t, proposals.Candidates, 1)
	assert.Equal(t, "Due dates", proposals.Candidates[0].Title)
	assert.Equal(t, scope.ScopeVersion, proposals.ScopeVersion)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/analysis", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var analysis AnalysisResponse
	require.NoError(t, json.Unmarshal(data, &analysis))
	assert.Empty(t, analysis.Analysis.Issues)
	require.NotNil(t, analysis.Analysis.Score)
	assert.InDelta(t, 91, *analysis.Analysis.Score, 1e-9)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/test-plan", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var plan TestPlanResponse
	require.NoError(t, json.Unmarshal(data, &plan))
	require.Len(t, plan.TestPlan.Tests, 1)
	assert.Equal(t, map[string]any{"title": "milk"}, plan.TestPlan.Tests[0].Payload)
	assert.Equal(t, float64(201), plan.TestPlan.Tests[0].Assertions[0].Value)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/state", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var state StateResponse
	require.NoError(t, json.Unmarshal(data, &state))
	require.NotNil(t, state.Document)
	assert.Equal(t, scope.ScopeVersion, state.ScopeVersion)
	for _, st := range domain.Stages {
		assert.Equal(t, string(engine.SlotSucceeded), state.Slots[string(st)].State, st)
	}
	assert.Len(t, state.Proposals, 1)
	require.NotNil(t, state.TestPlan)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/projection", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var proj domain.ScopeProjection
	require.NoError(t, json.Unmarshal(data, &proj))
	assert.Len(t, proj.Features, 2)
	assert.Len(t, proj.Acceptance, 2)
	assert.InDelta(t, 400, proj.Constraints.ColdStartMs, 1e-9)
}

func TestEmptyScenarioIsBadRequest(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "   "}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "empty_scenario", decodeError(t, data).Code)

	runs, err := srv.ledger.Repo.ListRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDownstreamWithoutScopeIsConflict(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	for _, p := range []string{"/v0/proposals", "/v0/analysis", "/v0/test-plan"} {
		res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+p, nil, nil)
		require.Equal(t, http.StatusConflict, res.StatusCode, p)
		assert.Equal(t, "no_scope", decodeError(t, data).Code, p)
	}
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/projection", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
}

func TestOracleFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "A todo list app"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	srv.oracle.mu.Lock()
	srv.oracle.failures[domain.StageAnalysis] = errors.New("upstream unavailable")
	srv.oracle.mu.Unlock()

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/analysis", nil, nil)
	require.Equal(t, http.StatusBadGateway, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, "oracle_failure", body.Code)
	assert.Contains(t, body.Message, "failed to analyze scope")
	assert.Equal(t, "analysis", body.Details["stage"])

	// Other stages stay usable.
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/proposals", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestProposalsWithNoFeaturesIsConflict(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	srv.oracle.responses[domain.StageScope] = `{"features":[],"testSpecs":[],"codeTemplates":[]}`
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "Nothing"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/proposals", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "no_features", decodeError(t, data).Code)
}

func TestStageOutlivesClientDisconnect(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "A todo list app"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	gate := make(chan struct{})
	srv.oracle.mu.Lock()
	srv.oracle.gates[domain.StageAnalysis] = gate
	srv.oracle.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/v0/analysis", nil)
	require.NoError(t, err)
	_, err = srv.client.Do(req)
	require.Error(t, err)

	// Give the server time to observe the closed connection.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, engine.SlotRunning, srv.engine.Snapshot().Analysis.State)
	close(gate)

	require.Eventually(t, func() bool {
		return srv.engine.Snapshot().Analysis.State == engine.SlotSucceeded
	}, 2*time.Second, 10*time.Millisecond)
	slot := srv.engine.Snapshot().Analysis
	assert.Empty(t, slot.Error)
	require.NotNil(t, slot.Output)
	require.NotNil(t, slot.Output.Score)
	assert.InDelta(t, 91, *slot.Output.Score, 1e-9)
}

func TestRunRecordsRequester(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "s3cret"})
	token, err := SignToken("s3cret", "alice", time.Hour)
	require.NoError(t, err)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "A todo list app"}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/analysis", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var runs paginatedRuns
	require.NoError(t, json.Unmarshal(data, &runs))
	require.Len(t, runs.Items, 2)
	byStage := map[string]RunResponse{}
	for _, r := range runs.Items {
		byStage[r.Stage] = r
	}
	assert.Equal(t, "alice", byStage["scope"].RequestedBy)
	assert.Empty(t, byStage["analysis"].RequestedBy)
}

func TestStageResponseCarriesOwnRun(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	srv.oracle.responses[domain.StageAnalysis] = `{"issues":[],"score":140}`
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "A todo list app"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var scope ScopeResponse
	require.NoError(t, json.Unmarshal(data, &scope))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/analysis", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var analysis AnalysisResponse
	require.NoError(t, json.Unmarshal(data, &analysis))
	assert.Equal(t, scope.ScopeVersion, analysis.ScopeVersion)
	require.Len(t, analysis.Warnings, 1)
	assert.Equal(t, domain.KindNormalization, analysis.Warnings[0].Kind)
	assert.Equal(t, "score", analysis.Warnings[0].Subject)
}

func TestRunsAndEvents(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "A todo list app"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/analysis", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var runs paginatedRuns
	require.NoError(t, json.Unmarshal(data, &runs))
	require.Len(t, runs.Items, 2)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs?stage=analysis", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &runs))
	require.Len(t, runs.Items, 1)
	run := runs.Items[0]
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.NotEmpty(t, run.ScopeVersion)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs/"+run.ID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs?stage=deploy", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	// Two runs produce four events; page through them two at a time.
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "run.succeeded", page.Items[0].Type)
	assert.Equal(t, "analysis", page.Items[0].Stage)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var next paginatedEvents
	require.NoError(t, json.Unmarshal(data, &next))
	require.Len(t, next.Items, 2)
	assert.Empty(t, next.NextCursor)
	assert.Less(t, next.Items[0].ID, page.Items[1].ID)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?run_id="+run.ID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestSchemaEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/schemas/test-plan", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var desc map[string]any
	require.NoError(t, json.Unmarshal(data, &desc))
	assert.Equal(t, "object", desc["type"])
	assert.Contains(t, desc["required"], "tests")

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/schemas/deploy", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestHealthAndOpenAPI(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "s3cret", Required: true})
	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var oas map[string]any
	require.NoError(t, json.Unmarshal(data, &oas))
	paths, ok := oas["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{"/v0/scope", "/v0/proposals", "/v0/analysis", "/v0/test-plan", "/v0/state", "/v0/runs"} {
		assert.Contains(t, paths, p)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "s3cret", Required: true})

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/state", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/state", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	other, err := SignToken("other", "alice", time.Hour)
	require.NoError(t, err)
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/state", nil, map[string]string{"Authorization": "Bearer " + other})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := SignToken("s3cret", "alice", time.Hour)
	require.NoError(t, err)
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/state", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestAuthOptional(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "s3cret"})
	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/state", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	// A presented token is still verified.
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/state", nil, map[string]string{"Authorization": "Basic abc"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignToken("s3cret", "alice", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Second + 10*time.Millisecond)
	_, err = authenticateJWT(token, "s3cret")
	require.Error(t, err)
}

func TestNewRequiresSecretWhenAuthRequired(t *testing.T) {
	e := engine.New(nil, domain.DefaultConstraints(), nil)
	_, err := New(Config{Engine: e, Auth: AuthConfig{Required: true}})
	require.Error(t, err)
	_, err = New(Config{})
	require.Error(t, err)
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	var mu sync.Mutex
	var got []webhookEvent
	var headers []http.Header
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx := context.Background()
	d := NewWebhookDispatcher(srv.ledger.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"run.succeeded"},
		Secret: "hush",
	}}, zap.NewNop())
	// First pass pins the cursor; nothing exists yet.
	d.DispatchAll(ctx)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "A todo list app"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "run.succeeded", got[0].Type)
	assert.Equal(t, "scope", got[0].Stage)
	assert.Equal(t, "run.succeeded", headers[0].Get("X-Scopeshift-Event"))
	assert.Equal(t, "hush", headers[0].Get("X-Scopeshift-Secret"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, domain.RunSucceeded, payload["status"])
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	var mu sync.Mutex
	calls := 0
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	ctx := context.Background()
	d := NewWebhookDispatcher(srv.ledger.Repo, []config.WebhookConfig{{URL: hook.URL, Events: []string{"run.started"}}}, zap.NewNop())
	d.DispatchAll(ctx)
	res, _ := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/scope", map[string]any{"scenario": "A todo list app"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	d.DispatchAll(ctx)
	d.DispatchAll(ctx)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
	d.DispatchAll(ctx)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestWebhookRunStopsOnCancel(t *testing.T) {
	d := NewWebhookDispatcher(repo.Repo{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 50, normalizeLimit(0))
	assert.Equal(t, 200, normalizeLimit(1000))
	assert.Equal(t, 7, normalizeLimit(7))
}
