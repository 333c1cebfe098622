package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scopeshift/internal/config"
	"scopeshift/internal/domain"
)

func TestBuildRequiresAPIKeyForGemini(t *testing.T) {
	_, err := Build(context.Background(), config.Default(), zap.NewNop(), func(string) string { return "" })
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestBuildWithFixturesRunsPipeline(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("scope.json", `{"features":[{"id":"feat-001","title":"Add todo","tier":"V0",
		"acceptanceCriteria":[{"id":"ac-001-1","description":"Item is stored"}]}],"testSpecs":[],"codeTemplates":[]}`)
	write("analysis.json", `{"issues":[]}`)

	cfg := config.Default()
	cfg.Oracle.Provider = config.ProviderFixture
	cfg.Oracle.FixturesDir = dir
	off := false
	cfg.Analysis.LocalChecks = &off

	a, err := Build(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer a.Close()
	assert.False(t, a.Runner.LocalChecks)

	_, err = a.Engine.GenerateScope(context.Background(), "A todo list app")
	require.NoError(t, err)
	out, err := a.Engine.AnalyzeScope(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Issues)

	runs, err := a.Ledger.Repo.ListRuns(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, domain.RunSucceeded, r.Status)
	}

	_, err = a.Engine.GenerateTestPlan(context.Background())
	require.Error(t, err, "no test_plan fixture")
	assert.Contains(t, err.Error(), "failed to generate test plan")
}

func TestNewRunnerLayersConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TestPlan.Endpoints = []string{"POST /todos"}
	r := NewRunner(cfg, nil, zap.NewNop())
	assert.Equal(t, []string{"POST /todos"}, r.Endpoints)
	assert.InDelta(t, 0.4, *r.Sampling[domain.StageProposal].Temperature, 1e-6)
	assert.True(t, r.LocalChecks)
}
