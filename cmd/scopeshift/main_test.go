package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"scopeshift/internal/domain"
	scopeshiftsdk "scopeshift/sdk/go"
)

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"scope.json": `{"features":[
			{"id":"feat-001","title":"Create event","tier":"V0","acceptanceCriteria":[{"id":"ac-001-1","description":"Event is stored"}]},
			{"id":"feat-002","title":"RSVP to event","tier":"V0","acceptanceCriteria":[{"id":"ac-002-1","description":"Attendee is listed"}]}
		],"testSpecs":[],"codeTemplates":[]}`,
		"proposal.json": `{"candidates":[{"id":"prop-1","title":"Waitlist","tier_suggestion":"V1","rationale":"Full events",
			"impacts":{"cold_start_ms":"+0","p99_latency_ms":"+10","cost":"low"},"risk":"med","acs":["Overflow is queued"],"constraints_ok":true}]}`,
		"analysis.json": `{"issues":[],"score":88,"notes":"Looks tight."}`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGenerateWithFixturesCollectsFailures(t *testing.T) {
	dir := writeFixtures(t)
	planPath := filepath.Join(t.TempDir(), "plan.yaml")

	out, err := execute(t, "generate", "--fixtures", dir, "--all", "--format", "json", "--out", planPath, "An event RSVP service")
	// No test_plan fixture: that stage fails, the others still run.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 stage(s) failed")

	var plan Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan), out)
	assert.Equal(t, "An event RSVP service", plan.Scenario)
	assert.NotEmpty(t, plan.ScopeVersion)
	require.Len(t, plan.Scope.Features, 2)
	require.Len(t, plan.Proposals, 1)
	assert.Equal(t, "Waitlist", plan.Proposals[0].Title)
	require.NotNil(t, plan.Analysis)
	assert.Equal(t, "Looks tight.", plan.Analysis.Notes)
	assert.Nil(t, plan.TestPlan)
	assert.Contains(t, plan.Failures[domain.StageTestPlan], "failed to generate test plan")

	data, err := os.ReadFile(planPath)
	require.NoError(t, err)
	var fromFile Plan
	require.NoError(t, yaml.Unmarshal(data, &fromFile))
	assert.Equal(t, plan.ScopeVersion, fromFile.ScopeVersion)
}

func TestGenerateEmptyScenario(t *testing.T) {
	_, err := execute(t, "generate", "--fixtures", writeFixtures(t), "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario is empty")
}

func TestGenerateRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "generate", "--fixtures", writeFixtures(t), "--format", "xml", "An app")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestPromptForProposalUsesScopeFile(t *testing.T) {
	dir := writeFixtures(t)
	out, err := execute(t, "prompt", "proposal", "--fixtures", dir, "--scope", filepath.Join(dir, "scope.json"), "--format", "json")
	require.NoError(t, err)
	var view promptView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, domain.StageProposal, view.Stage)
	assert.Contains(t, view.Prompt, "Create event")
	assert.Contains(t, view.Prompt, "RSVP to event")
	assert.NotEmpty(t, view.SystemInstruction)
}

func TestPromptScopeNeedsScenario(t *testing.T) {
	_, err := execute(t, "prompt", "scope", "--fixtures", writeFixtures(t))
	require.Error(t, err)
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema", "analysis")
	require.NoError(t, err)
	var desc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &desc))
	assert.Equal(t, "object", desc["type"])

	_, err = execute(t, "schema", "deploy")
	require.Error(t, err)
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scopeshift.yml")
	_, err := execute(t, "config", "init", "--path", path)
	require.NoError(t, err)
	_, err = execute(t, "config", "init", "--path", path)
	require.Error(t, err)
	_, err = execute(t, "config", "init", "--path", path, "--force")
	require.NoError(t, err)
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("SCOPESHIFT_JWT_SECRET", "")
	_, err := execute(t, "token", "--fixtures", writeFixtures(t))
	require.Error(t, err)

	t.Setenv("SCOPESHIFT_JWT_SECRET", "s3cret")
	out, err := execute(t, "token", "--fixtures", writeFixtures(t), "--subject", "alice")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}

func TestRenderRuns(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderRuns(&buf, []scopeshiftsdk.Run{{
		ID:           "0f8fad5b-d9cb-469f-a165-70867728950e",
		Stage:        "analysis",
		Status:       "failed",
		ScopeVersion: "bafkreigh2akiscaildc",
		StartedAt:    "2024-01-01T11:55:00Z",
		FinishedAt:   "2024-01-01T11:55:02Z",
		Error:        "failed to analyze scope: boom",
	}}, now)
	out := buf.String()
	assert.Contains(t, out, "5 minutes ago")
	assert.Contains(t, out, "2s")
	assert.Contains(t, out, "failed to analyze scope: boom")
	assert.Contains(t, out, "0f8f…28950e")
}

func TestReadScenario(t *testing.T) {
	s, err := readScenario(strings.NewReader("from stdin"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", s)

	s, err = readScenario(strings.NewReader("ignored"), []string{"A", "todo", "app"}, "")
	require.NoError(t, err)
	assert.Equal(t, "A todo app", s)
}
