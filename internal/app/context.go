package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"

	"scopeshift/internal/config"
	"scopeshift/internal/db"
	"scopeshift/internal/engine"
	"scopeshift/internal/migrate"
	"scopeshift/internal/oracle"
	"scopeshift/internal/repo"
	"scopeshift/internal/stage"
)

// App is a fully wired pipeline: oracle, stage runner, engine and run
// ledger.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *sql.DB
	Ledger *repo.Ledger
	Runner *stage.Runner
	Engine *engine.Engine
}

// NewOracle builds the configured oracle client wrapped in call logging.
// The Gemini provider needs a credential from the environment; its absence
// is a configuration error.
func NewOracle(ctx context.Context, cfg *config.Config, getenv func(string) string, log *zap.Logger) (oracle.Client, error) {
	var client oracle.Client
	switch cfg.Oracle.Provider {
	case config.ProviderFixture:
		client = oracle.Fixtures{Dir: cfg.Oracle.FixturesDir}
	case config.ProviderGemini, "":
		key, err := config.ResolveAPIKey(getenv)
		if err != nil {
			return nil, err
		}
		g, err := oracle.NewGemini(ctx, oracle.GeminiConfig{APIKey: key, Model: cfg.Oracle.Model, BaseURL: cfg.Oracle.BaseURL})
		if err != nil {
			return nil, err
		}
		client = g
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
	}
	return oracle.Logged(client, log), nil
}

// Build wires an App from config. The ledger lives in memory and is closed
// with the App.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, getenv func(string) string) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	client, err := NewOracle(ctx, cfg, getenv, log)
	if err != nil {
		return nil, err
	}
	return BuildWithOracle(ctx, cfg, log, client)
}

// BuildWithOracle wires an App around an existing oracle client.
func BuildWithOracle(ctx context.Context, cfg *config.Config, log *zap.Logger, client oracle.Client) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := db.Open(db.Config{})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	log.Debug("ledger ready", zap.Strings("migrations", applied))

	runner := NewRunner(cfg, client, log)
	ledger := repo.NewLedger(conn)
	eng := engine.New(runner, cfg.Constraints, log.Named("engine"))
	eng.Recorder = ledger
	return &App{Config: cfg, Log: log, DB: conn, Ledger: ledger, Runner: runner, Engine: eng}, nil
}

// NewRunner builds a stage runner with the config's sampling, endpoints and
// local check toggle layered over the defaults.
func NewRunner(cfg *config.Config, client oracle.Client, log *zap.Logger) *stage.Runner {
	r := stage.NewRunner(client, log.Named("stage"))
	for st, s := range cfg.SamplingByStage() {
		r.Sampling[st] = s
	}
	if len(cfg.TestPlan.Endpoints) > 0 {
		r.Endpoints = append([]string{}, cfg.TestPlan.Endpoints...)
	}
	r.LocalChecks = cfg.LocalChecks()
	return r
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
