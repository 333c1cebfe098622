package stage

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"scopeshift/internal/domain"
	"scopeshift/internal/oracle"
	"scopeshift/internal/schema"
)

//go:embed prompts/*
var promptFS embed.FS

var templates = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

func system(name string) string {
	data, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		panic(fmt.Sprintf("missing embedded prompt %s: %v", name, err))
	}
	return strings.TrimSpace(string(data))
}

var (
	scopeSystem    = system("scope_system.txt")
	proposalSystem = system("proposal_system.txt")
	analysisSystem = system("analysis_system.txt")
	testPlanSystem = system("test_plan_system.txt")
)

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ScopeRequest builds the scope generation request for a scenario.
func (r *Runner) ScopeRequest(scenario string) oracle.Request {
	return oracle.Request{
		Stage:             domain.StageScope,
		SystemInstruction: scopeSystem,
		Prompt:            strings.TrimSpace(scenario),
		Schema:            schema.Scope,
		Sampling:          r.sampling(domain.StageScope),
	}
}

type proposalData struct {
	Seeds        []string
	ColdStartMs  string
	AuthRequired bool
	P99LatencyMs string
}

// ProposalRequest builds the feature proposal request. Only ids and titles
// of existing features are sent.
func (r *Runner) ProposalRequest(seeds []domain.FeatureRef, c domain.Constraints) (oracle.Request, error) {
	data := proposalData{ColdStartMs: formatNumber(c.ColdStartMs), AuthRequired: c.AuthRequired}
	for _, s := range seeds {
		data.Seeds = append(data.Seeds, s.Title)
	}
	if c.P99LatencyMs != nil {
		data.P99LatencyMs = formatNumber(*c.P99LatencyMs)
	}
	prompt, err := render("proposal.tmpl", data)
	if err != nil {
		return oracle.Request{}, err
	}
	return oracle.Request{
		Stage:             domain.StageProposal,
		SystemInstruction: proposalSystem,
		Prompt:            prompt,
		Schema:            schema.Proposal,
		Sampling:          r.sampling(domain.StageProposal),
	}, nil
}

type projectionData struct {
	Input     string
	Endpoints []string
}

func encodeProjection(p domain.ScopeProjection) (string, error) {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode projection: %w", err)
	}
	return string(b), nil
}

// AnalysisRequest builds the scope health analysis request.
func (r *Runner) AnalysisRequest(p domain.ScopeProjection) (oracle.Request, error) {
	input, err := encodeProjection(p)
	if err != nil {
		return oracle.Request{}, err
	}
	prompt, err := render("analysis.tmpl", projectionData{Input: input})
	if err != nil {
		return oracle.Request{}, err
	}
	return oracle.Request{
		Stage:             domain.StageAnalysis,
		SystemInstruction: analysisSystem,
		Prompt:            prompt,
		Schema:            schema.Analysis,
		Sampling:          r.sampling(domain.StageAnalysis),
	}, nil
}

// TestPlanRequest builds the test-plan request.
func (r *Runner) TestPlanRequest(p domain.ScopeProjection) (oracle.Request, error) {
	input, err := encodeProjection(p)
	if err != nil {
		return oracle.Request{}, err
	}
	prompt, err := render("test_plan.tmpl", projectionData{Input: input, Endpoints: r.endpoints()})
	if err != nil {
		return oracle.Request{}, err
	}
	return oracle.Request{
		Stage:             domain.StageTestPlan,
		SystemInstruction: testPlanSystem,
		Prompt:            prompt,
		Schema:            schema.TestPlan,
		Sampling:          r.sampling(domain.StageTestPlan),
	}, nil
}
