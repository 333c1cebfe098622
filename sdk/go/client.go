package scopeshiftsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal scopeshift HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Stage calls wait on the oracle,
// so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  5 * time.Minute,
	}
}

type AcceptanceCriterion struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type Feature struct {
	ID                 string                `json:"id"`
	Title              string                `json:"title"`
	Tier               string                `json:"tier"`
	AcceptanceCriteria []AcceptanceCriterion `json:"acceptanceCriteria"`
}

type TestSpec struct {
	FeatureID string `json:"featureId"`
	FileName  string `json:"fileName"`
	Code      string `json:"code"`
}

type CodeTemplate struct {
	FeatureID string `json:"featureId"`
	FileName  string `json:"fileName"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// ScopeDocument is the generated scope.
type ScopeDocument struct {
	Features      []Feature      `json:"features"`
	TestSpecs     []TestSpec     `json:"testSpecs"`
	CodeTemplates []CodeTemplate `json:"codeTemplates"`
}

// Warning reports a field replaced with a safe default during decoding.
type Warning struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type ScopeResult struct {
	Document     ScopeDocument `json:"document"`
	ScopeVersion string        `json:"scope_version"`
	Warnings     []Warning     `json:"warnings,omitempty"`
}

type ProposedFeature struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	TierSuggestion string `json:"tier_suggestion"`
	Rationale      string `json:"rationale"`
	Impacts        struct {
		ColdStartMs  string `json:"cold_start_ms"`
		P99LatencyMs string `json:"p99_latency_ms"`
		Cost         string `json:"cost"`
	} `json:"impacts"`
	Risk          string   `json:"risk"`
	ACs           []string `json:"acs"`
	DependsOn     []string `json:"depends_on,omitempty"`
	ConstraintsOK bool     `json:"constraints_ok"`
	Conflicts     []string `json:"conflicts,omitempty"`
}

type ProposalsResult struct {
	Candidates   []ProposedFeature `json:"candidates"`
	ScopeVersion string            `json:"scope_version,omitempty"`
	Warnings     []Warning         `json:"warnings,omitempty"`
}

type Issue struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Location struct {
		Type      string `json:"type"`
		FeatureID string `json:"feature_id,omitempty"`
		ACIndex   *int   `json:"ac_index,omitempty"`
	} `json:"location"`
	ProposedFix struct {
		Summary     string `json:"summary"`
		Action      string `json:"action,omitempty"`
		UpdatedText string `json:"updated_text,omitempty"`
	} `json:"proposed_fix"`
}

type Analysis struct {
	Issues []Issue  `json:"issues"`
	Score  *float64 `json:"score,omitempty"`
	Notes  string   `json:"notes,omitempty"`
}

type AnalysisResult struct {
	Analysis     Analysis  `json:"analysis"`
	ScopeVersion string    `json:"scope_version,omitempty"`
	Warnings     []Warning `json:"warnings,omitempty"`
}

type Assertion struct {
	Type  string `json:"type"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value"`
}

type Test struct {
	ID            string         `json:"id"`
	Tier          string         `json:"tier"`
	Name          string         `json:"name"`
	Endpoint      string         `json:"endpoint"`
	Preconditions []string       `json:"preconditions"`
	Payload       map[string]any `json:"payload"`
	Assertions    []Assertion    `json:"assertions"`
}

type TestPlanResult struct {
	TestPlan struct {
		Tests []Test `json:"tests"`
	} `json:"test_plan"`
	ScopeVersion string    `json:"scope_version,omitempty"`
	Warnings     []Warning `json:"warnings,omitempty"`
}

// SlotStatus is one stage's state in a State response.
type SlotStatus struct {
	State        string    `json:"state"`
	Error        string    `json:"error,omitempty"`
	Warnings     []Warning `json:"warnings,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	ScopeVersion string    `json:"scope_version,omitempty"`
}

// State is the server's current document and stage slots.
type State struct {
	Document     *ScopeDocument        `json:"document,omitempty"`
	ScopeVersion string                `json:"scope_version,omitempty"`
	Busy         string                `json:"busy,omitempty"`
	Slots        map[string]SlotStatus `json:"slots"`
}

// Run is a recorded stage invocation.
type Run struct {
	ID           string    `json:"id"`
	Stage        string    `json:"stage"`
	Status       string    `json:"status"`
	ScopeVersion string    `json:"scope_version,omitempty"`
	RequestedBy  string    `json:"requested_by,omitempty"`
	StartedAt    string    `json:"started_at"`
	FinishedAt   string    `json:"finished_at,omitempty"`
	Error        string    `json:"error,omitempty"`
	Warnings     []Warning `json:"warnings,omitempty"`
}

// Event represents a ledger entry.
type Event struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	Stage   string         `json:"stage"`
	RunID   string         `json:"run_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is read from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GenerateScope replaces the server's scope document.
func (c *Client) GenerateScope(ctx context.Context, scenario string) (ScopeResult, error) {
	var resp ScopeResult
	err := c.do(ctx, http.MethodPost, "scope", map[string]any{"scenario": scenario}, &resp)
	return resp, err
}

// ProposeFeatures runs feature proposal on the current scope.
func (c *Client) ProposeFeatures(ctx context.Context) (ProposalsResult, error) {
	var resp ProposalsResult
	err := c.do(ctx, http.MethodPost, "proposals", nil, &resp)
	return resp, err
}

// AnalyzeScope runs scope analysis on the current scope.
func (c *Client) AnalyzeScope(ctx context.Context) (AnalysisResult, error) {
	var resp AnalysisResult
	err := c.do(ctx, http.MethodPost, "analysis", nil, &resp)
	return resp, err
}

// GenerateTestPlan runs test-plan generation on the current scope.
func (c *Client) GenerateTestPlan(ctx context.Context) (TestPlanResult, error) {
	var resp TestPlanResult
	err := c.do(ctx, http.MethodPost, "test-plan", nil, &resp)
	return resp, err
}

func (c *Client) State(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, "state", nil, &resp)
	return resp, err
}

// Runs lists recent runs, optionally for one stage.
func (c *Client) Runs(ctx context.Context, stage string, limit int) ([]Run, error) {
	q := url.Values{}
	if stage != "" {
		q.Set("stage", stage)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Run `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) Run(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
