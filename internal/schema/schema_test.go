package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"scopeshift/internal/domain"
)

func TestRegistryCoversEveryStage(t *testing.T) {
	for _, st := range domain.Stages {
		d, ok := For(st)
		require.True(t, ok, "stage %s", st)
		assert.Equal(t, TypeObject, d.Type)
		assert.NotEmpty(t, d.Required)
	}
}

func TestDecodeScope(t *testing.T) {
	raw := `{
	  "features": [{"id":"feat-001","title":"Add todo","tier":"V0",
	    "acceptanceCriteria":[{"id":"ac-001-1","description":"A todo can be created"}]}],
	  "testSpecs": [{"featureId":"feat-001","fileName":"test_add.py","code":"def test_add(): pass"}],
	  "codeTemplates": []
	}`
	var doc domain.ScopeDocument
	require.NoError(t, Decode(raw, Scope, &doc))
	require.Len(t, doc.Features, 1)
	assert.Equal(t, "Add todo", doc.Features[0].Title)
	assert.Equal(t, "ac-001-1", doc.Features[0].AcceptanceCriteria[0].ID)
	assert.Empty(t, doc.CodeTemplates)
}

func TestDecodeRejectsSyntax(t *testing.T) {
	var doc domain.ScopeDocument
	err := Decode("Sure! Here is your JSON: {", Scope, &doc)
	var syn *SyntaxError
	require.True(t, errors.As(err, &syn), "got %v", err)

	err = Decode(`{"features":[],"testSpecs":[],"codeTemplates":[]} trailing`, Scope, &doc)
	require.True(t, errors.As(err, &syn), "got %v", err)
}

func TestDecodeReportsMissingRequired(t *testing.T) {
	var doc domain.ScopeDocument
	err := Decode(`{"features":[{"id":"f1","title":"x","tier":"V0"}],"testSpecs":[]}`, Scope, &doc)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	paths := map[string]bool{}
	for _, v := range verr.Violations {
		paths[v.Path] = true
	}
	assert.True(t, paths["$.codeTemplates"])
	assert.True(t, paths["$.features[0].acceptanceCriteria"])
}

func TestValidateEnumsAndTypes(t *testing.T) {
	raw := `{"candidates":[{"id":"P-1","title":"Share link","tier_suggestion":"V2","rationale":"r",
	  "impacts":{"cold_start_ms":"+10","p99_latency_ms":"0","cost":"cheap"},
	  "risk":"low","acs":["a"],"constraints_ok":"yes"}]}`
	var set domain.ProposalSet
	err := Decode(raw, Proposal, &set)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Len(t, verr.Violations, 3)
	assert.Contains(t, err.Error(), "tier_suggestion")
	assert.Contains(t, err.Error(), "impacts.cost")
	assert.Contains(t, err.Error(), "constraints_ok")
}

func TestValidateOptionalNullAndInteger(t *testing.T) {
	raw := `{"issues":[{"id":"I-1","severity":"warning","message":"m",
	  "location":{"type":"MISSING_AC","feature_id":null,"ac_index":2},
	  "proposed_fix":{"summary":"add one"}}],"score":72.5}`
	var out domain.ScopeAnalysis
	require.NoError(t, Decode(raw, Analysis, &out))
	require.Len(t, out.Issues, 1)
	require.NotNil(t, out.Issues[0].Location.ACIndex)
	assert.Equal(t, 2, *out.Issues[0].Location.ACIndex)
	require.NotNil(t, out.Score)
	assert.InDelta(t, 72.5, *out.Score, 0.001)

	bad := `{"issues":[{"id":"I-1","severity":"warning","message":"m",
	  "location":{"type":"X","ac_index":1.5},"proposed_fix":{"summary":"s"}}]}`
	err := Decode(bad, Analysis, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ac_index")
}

func TestGenAIConversionKeepsOrderAndRequired(t *testing.T) {
	g := TestPlan.GenAI()
	require.Equal(t, genai.TypeObject, g.Type)
	tests := g.Properties["tests"]
	require.NotNil(t, tests)
	assert.Equal(t, genai.TypeArray, tests.Type)
	item := tests.Items
	assert.Equal(t, []string{"id", "tier", "name", "endpoint", "preconditions", "payload", "assertions"}, item.PropertyOrdering)
	assert.ElementsMatch(t, item.Required, item.PropertyOrdering)
	assert.Equal(t, []string{"V0", "V1"}, item.Properties["tier"].Enum)
	assert.Equal(t, genai.TypeString, item.Properties["payload"].Type)
}

func TestMarshalIndent(t *testing.T) {
	b, err := Analysis.MarshalIndent()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "object", m["type"])
	assert.Equal(t, []any{"issues"}, m["required"])
	assert.Equal(t, []any{"issues", "score", "notes"}, m["propertyOrdering"])
}
