package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"scopeshift/internal/domain"
	"scopeshift/internal/oracle"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "scopeshift.yml"

// Oracle providers.
const (
	ProviderGemini  = "gemini"
	ProviderFixture = "fixture"
)

// APIKeyEnv lists the environment variables searched for the oracle
// credential, in order.
var APIKeyEnv = []string{"SCOPESHIFT_API_KEY", "GEMINI_API_KEY", "API_KEY"}

// Config models scopeshift.yml.
type Config struct {
	Oracle struct {
		Provider    string `yaml:"provider"`
		Model       string `yaml:"model"`
		BaseURL     string `yaml:"base_url,omitempty"`
		FixturesDir string `yaml:"fixtures_dir,omitempty"`
	} `yaml:"oracle"`
	Constraints domain.Constraints         `yaml:"constraints"`
	Stages      map[string]oracle.Sampling `yaml:"stages"`
	TestPlan    struct {
		Endpoints []string `yaml:"endpoints"`
	} `yaml:"test_plan"`
	Analysis struct {
		LocalChecks *bool `yaml:"local_checks,omitempty"`
	} `yaml:"analysis"`
	Server struct {
		Addr        string `yaml:"addr"`
		BasePath    string `yaml:"base_path,omitempty"`
		JWTSecret   string `yaml:"jwt_secret,omitempty"`
		RequireAuth bool   `yaml:"require_auth,omitempty"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Sampling returns the sampling configured for a stage.
func (c *Config) Sampling(stage domain.Stage) oracle.Sampling {
	return c.Stages[string(stage)]
}

// SamplingByStage returns every configured stage's sampling keyed by stage.
func (c *Config) SamplingByStage() map[domain.Stage]oracle.Sampling {
	out := make(map[domain.Stage]oracle.Sampling, len(c.Stages))
	for name, s := range c.Stages {
		if st, ok := domain.ParseStage(name); ok {
			out[st] = s
		}
	}
	return out
}

// LocalChecks reports whether deterministic analysis checks are enabled.
func (c *Config) LocalChecks() bool {
	return c.Analysis.LocalChecks == nil || *c.Analysis.LocalChecks
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Oracle.Provider {
	case ProviderGemini:
	case ProviderFixture:
		if strings.TrimSpace(c.Oracle.FixturesDir) == "" {
			return fmt.Errorf("config.oracle.fixtures_dir is required for provider %q", ProviderFixture)
		}
	default:
		return fmt.Errorf("config.oracle.provider must be %q or %q", ProviderGemini, ProviderFixture)
	}
	if c.Constraints.ColdStartMs < 0 {
		return fmt.Errorf("config.constraints.cold_start_ms must be >= 0")
	}
	if p := c.Constraints.P99LatencyMs; p != nil && *p < 0 {
		return fmt.Errorf("config.constraints.p99_latency_ms must be >= 0")
	}
	for name, s := range c.Stages {
		if _, ok := domain.ParseStage(name); !ok {
			return fmt.Errorf("config.stages has unknown stage %s", name)
		}
		if t := s.Temperature; t != nil && (*t < 0 || *t > 2) {
			return fmt.Errorf("stage %s temperature must be within [0,2]", name)
		}
		if p := s.TopP; p != nil && (*p <= 0 || *p > 1) {
			return fmt.Errorf("stage %s top_p must be within (0,1]", name)
		}
		if k := s.TopK; k != nil && *k < 1 {
			return fmt.Errorf("stage %s top_k must be >= 1", name)
		}
	}
	for i, ep := range c.TestPlan.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("config.test_plan.endpoints[%d] is empty", i)
		}
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.RequireAuth && strings.TrimSpace(c.Server.JWTSecret) == "" {
		return fmt.Errorf("config.server.jwt_secret is required when require_auth is set")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// ResolveAPIKey returns the oracle credential from the environment. A
// missing key is a configuration error and fatal at start-up.
func ResolveAPIKey(getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, name := range APIKeyEnv {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", domain.ConfigurationError(fmt.Sprintf("oracle API key is not set; export one of %s", strings.Join(APIKeyEnv, ", ")))
}

// Load reads and validates config from path. A missing file at the default
// path yields the defaults; a missing explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return Default(), nil
		}
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Unset fields
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// YAML renders the config.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `oracle:
  provider: gemini
  model: gemini-2.5-pro

constraints:
  cold_start_ms: 400
  auth_required: false
  p99_latency_ms: 800

stages:
  scope:
    temperature: 0.2
    top_p: 0.9
    top_k: 40
  proposal:
    temperature: 0.4
  analysis:
    temperature: 0.1
  test_plan:
    temperature: 0.1

test_plan:
  endpoints:
    - POST /events
    - POST /events/{id}/rsvp
    - GET  /events/{id}/attendees.txt

analysis:
  local_checks: true

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
