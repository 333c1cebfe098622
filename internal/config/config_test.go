package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopeshift/internal/domain"
)

func TestDefaultMatchesPipelineConstants(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ProviderGemini, cfg.Oracle.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.Oracle.Model)
	assert.Equal(t, 400.0, cfg.Constraints.ColdStartMs)
	assert.False(t, cfg.Constraints.AuthRequired)
	require.NotNil(t, cfg.Constraints.P99LatencyMs)
	assert.Equal(t, 800.0, *cfg.Constraints.P99LatencyMs)

	scope := cfg.Sampling(domain.StageScope)
	require.NotNil(t, scope.TopK)
	assert.InDelta(t, 40, *scope.TopK, 1e-6)
	assert.InDelta(t, 0.4, *cfg.Sampling(domain.StageProposal).Temperature, 1e-6)
	assert.Len(t, cfg.SamplingByStage(), 4)
	assert.Len(t, cfg.TestPlan.Endpoints, 3)
	assert.True(t, cfg.LocalChecks())
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
oracle:
  provider: fixture
  fixtures_dir: ./fixtures
constraints:
  auth_required: true
stages:
  analysis:
    temperature: 0
analysis:
  local_checks: false
`))
	require.NoError(t, err)
	assert.Equal(t, "./fixtures", cfg.Oracle.FixturesDir)
	assert.Equal(t, "gemini-2.5-pro", cfg.Oracle.Model)
	assert.True(t, cfg.Constraints.AuthRequired)
	assert.Equal(t, 400.0, cfg.Constraints.ColdStartMs)
	assert.InDelta(t, 0, *cfg.Sampling(domain.StageAnalysis).Temperature, 1e-6)
	assert.InDelta(t, 0.2, *cfg.Sampling(domain.StageScope).Temperature, 1e-6)
	assert.False(t, cfg.LocalChecks())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"provider":     "oracle:\n  provider: openai\n",
		"fixtures dir": "oracle:\n  provider: fixture\n",
		"stage":        "stages:\n  deploy:\n    temperature: 0.1\n",
		"temperature":  "stages:\n  scope:\n    temperature: 3\n",
		"top_p":        "stages:\n  scope:\n    top_p: 0\n",
		"endpoint":     "test_plan:\n  endpoints: [\"\"]\n",
		"base path":    "server:\n  base_path: v0\n",
		"auth secret":  "server:\n  require_auth: true\n",
		"webhook":      "webhooks:\n  - events: [run.failed]\n",
		"cold start":   "constraints:\n  cold_start_ms: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: :9999\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	require.Error(t, err)
}

func TestResolveAPIKey(t *testing.T) {
	env := map[string]string{"API_KEY": "fallback", "GEMINI_API_KEY": "gemini"}
	key, err := ResolveAPIKey(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "gemini", key)

	_, err = ResolveAPIKey(func(string) string { return "" })
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}
