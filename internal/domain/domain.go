package domain

// Stage names one of the four independently invocable pipeline operations.
type Stage string

const (
	StageScope    Stage = "scope"
	StageProposal Stage = "proposal"
	StageAnalysis Stage = "analysis"
	StageTestPlan Stage = "test_plan"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageScope, StageProposal, StageAnalysis, StageTestPlan}

// ParseStage accepts the canonical name plus the dashed form used in URLs.
func ParseStage(s string) (Stage, bool) {
	switch s {
	case "scope":
		return StageScope, true
	case "proposal", "proposals":
		return StageProposal, true
	case "analysis":
		return StageAnalysis, true
	case "test_plan", "test-plan", "testplan":
		return StageTestPlan, true
	}
	return "", false
}

// Tier values.
const (
	TierV0 = "V0"
	TierV1 = "V1"
)

type AcceptanceCriterion struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
}

type Feature struct {
	ID                 string                `json:"id" yaml:"id"`
	Title              string                `json:"title" yaml:"title"`
	Tier               string                `json:"tier" yaml:"tier" enum:"V0,V1"`
	AcceptanceCriteria []AcceptanceCriterion `json:"acceptanceCriteria" yaml:"acceptanceCriteria"`
}

type TestSpec struct {
	FeatureID string `json:"featureId" yaml:"featureId"`
	FileName  string `json:"fileName" yaml:"fileName"`
	Code      string `json:"code" yaml:"code"`
}

type CodeTemplate struct {
	FeatureID string `json:"featureId" yaml:"featureId"`
	FileName  string `json:"fileName" yaml:"fileName"`
	Language  string `json:"language" yaml:"language"`
	Code      string `json:"code" yaml:"code"`
}

// ScopeDocument is the root artifact produced by scope generation.
type ScopeDocument struct {
	Features      []Feature      `json:"features" yaml:"features"`
	TestSpecs     []TestSpec     `json:"testSpecs" yaml:"testSpecs"`
	CodeTemplates []CodeTemplate `json:"codeTemplates" yaml:"codeTemplates"`
}

// Clone returns a deep copy so callers can never reach the engine's copy.
func (d ScopeDocument) Clone() ScopeDocument {
	out := ScopeDocument{
		Features:      make([]Feature, len(d.Features)),
		TestSpecs:     append([]TestSpec{}, d.TestSpecs...),
		CodeTemplates: append([]CodeTemplate{}, d.CodeTemplates...),
	}
	for i, f := range d.Features {
		f.AcceptanceCriteria = append([]AcceptanceCriterion{}, f.AcceptanceCriteria...)
		out.Features[i] = f
	}
	return out
}

type Impacts struct {
	ColdStartMs  string `json:"cold_start_ms" yaml:"cold_start_ms"`
	P99LatencyMs string `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	Cost         string `json:"cost" yaml:"cost" enum:"low,med,high"`
}

type ProposedFeature struct {
	ID             string   `json:"id" yaml:"id"`
	Title          string   `json:"title" yaml:"title"`
	TierSuggestion string   `json:"tier_suggestion" yaml:"tier_suggestion" enum:"V0,V1"`
	Rationale      string   `json:"rationale" yaml:"rationale"`
	Impacts        Impacts  `json:"impacts" yaml:"impacts"`
	Risk           string   `json:"risk" yaml:"risk" enum:"low,med,high"`
	ACs            []string `json:"acs" yaml:"acs"`
	DependsOn      []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	ConstraintsOK  bool     `json:"constraints_ok" yaml:"constraints_ok"`
	Conflicts      []string `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// ProposalSet is the feature proposal output.
type ProposalSet struct {
	Candidates []ProposedFeature `json:"candidates" yaml:"candidates"`
}

type Location struct {
	Type      string `json:"type" yaml:"type"`
	FeatureID string `json:"feature_id,omitempty" yaml:"feature_id,omitempty"`
	ACIndex   *int   `json:"ac_index,omitempty" yaml:"ac_index,omitempty"`
}

type ProposedFix struct {
	Summary     string `json:"summary" yaml:"summary"`
	Action      string `json:"action,omitempty" yaml:"action,omitempty"`
	UpdatedText string `json:"updated_text,omitempty" yaml:"updated_text,omitempty"`
}

type Issue struct {
	ID          string      `json:"id" yaml:"id"`
	Severity    string      `json:"severity" yaml:"severity" enum:"critical,warning,info"`
	Message     string      `json:"message" yaml:"message"`
	Location    Location    `json:"location" yaml:"location"`
	ProposedFix ProposedFix `json:"proposed_fix" yaml:"proposed_fix"`
}

// Issue location types named by the analysis rule set.
const (
	IssueDuplicate     = "DUPLICATE"
	IssueConflictAuth  = "CONFLICT_AUTH"
	IssueConflictEmail = "CONFLICT_EMAIL"
	IssueMissingAC     = "MISSING_AC"
	IssueDependency    = "DEPENDENCY"
	IssueV0External    = "V0_EXTERNAL"
)

type ScopeAnalysis struct {
	Issues []Issue  `json:"issues" yaml:"issues"`
	Score  *float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Notes  string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

type Assertion struct {
	Type  string `json:"type" yaml:"type"`
	Op    string `json:"op,omitempty" yaml:"op,omitempty"`
	Value any    `json:"value" yaml:"value"`
}

type Test struct {
	ID            string         `json:"id" yaml:"id"`
	Tier          string         `json:"tier" yaml:"tier" enum:"V0,V1"`
	Name          string         `json:"name" yaml:"name"`
	Endpoint      string         `json:"endpoint" yaml:"endpoint"`
	Preconditions []string       `json:"preconditions" yaml:"preconditions"`
	Payload       map[string]any `json:"payload" yaml:"payload"`
	Assertions    []Assertion    `json:"assertions" yaml:"assertions"`
}

type TestPlan struct {
	Tests []Test `json:"tests" yaml:"tests"`
}

// Constraints are injected into every derived input for stages 2-4.
type Constraints struct {
	ColdStartMs  float64  `json:"cold_start_ms" yaml:"cold_start_ms"`
	AuthRequired bool     `json:"auth_required" yaml:"auth_required"`
	P99LatencyMs *float64 `json:"p99_latency_ms,omitempty" yaml:"p99_latency_ms,omitempty"`
}

// DefaultConstraints returns the constants the pipeline has always used.
func DefaultConstraints() Constraints {
	p99 := 800.0
	return Constraints{ColdStartMs: 400, AuthRequired: false, P99LatencyMs: &p99}
}

// FeatureRef is the narrow feature view sent to feature proposal.
type FeatureRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type FeatureInput struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tier  string `json:"tier"`
}

type AcceptanceInput struct {
	Feature string `json:"feature"`
	ID      string `json:"id"`
	Text    string `json:"text"`
}

// ScopeProjection is the derived input for analysis and test planning.
type ScopeProjection struct {
	Features    []FeatureInput    `json:"features"`
	Acceptance  []AcceptanceInput `json:"acceptance"`
	Constraints Constraints       `json:"constraints"`
}

// Warning records a nested field that failed secondary decoding and was
// replaced with a safe default. Kind is always KindNormalization.
type Warning struct {
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Stage   Stage     `json:"stage" yaml:"stage"`
	Subject string    `json:"subject" yaml:"subject"`
	Message string    `json:"message" yaml:"message"`
}

// Run statuses as stored in the ledger.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunDiscarded = "discarded"
)

type Run struct {
	ID           string    `json:"id"`
	Stage        Stage     `json:"stage"`
	Status       string    `json:"status" enum:"running,succeeded,failed,discarded"`
	ScopeVersion string    `json:"scope_version,omitempty"`
	RequestedBy  string    `json:"requested_by,omitempty"`
	StartedAt    string    `json:"started_at" format:"date-time"`
	FinishedAt   *string   `json:"finished_at,omitempty" format:"date-time"`
	Error        string    `json:"error,omitempty"`
	Warnings     []Warning `json:"warnings,omitempty"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	Stage   Stage  `json:"stage"`
	RunID   string `json:"run_id,omitempty"`
	Payload string `json:"payload_json"`
}
