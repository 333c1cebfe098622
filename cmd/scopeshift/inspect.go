package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scopeshift/internal/app"
	"scopeshift/internal/config"
	"scopeshift/internal/domain"
	"scopeshift/internal/oracle"
	"scopeshift/internal/projection"
	"scopeshift/internal/schema"
	"scopeshift/internal/server"
	scopeshiftsdk "scopeshift/sdk/go"
)

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema [stage]",
		Short:     "Print the response schema each stage declares to the oracle",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"scope", "proposal", "analysis", "test_plan"},
		RunE: func(cmd *cobra.Command, args []string) error {
			stages := domain.Stages
			if len(args) == 1 {
				st, ok := domain.ParseStage(args[0])
				if !ok {
					return fmt.Errorf("unknown stage %q", args[0])
				}
				stages = []domain.Stage{st}
			}
			for _, st := range stages {
				desc, _ := schema.For(st)
				data, err := desc.MarshalIndent()
				if err != nil {
					return err
				}
				if len(stages) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", st)
				}
				cmd.OutOrStdout().Write(data)
			}
			return nil
		},
	}
}

type promptView struct {
	Stage             domain.Stage    `json:"stage" yaml:"stage"`
	SystemInstruction string          `json:"system_instruction" yaml:"system_instruction"`
	Prompt            string          `json:"prompt" yaml:"prompt"`
	Sampling          oracle.Sampling `json:"sampling" yaml:"sampling"`
}

func promptCmd() *cobra.Command {
	var scopeFile string
	cmd := &cobra.Command{
		Use:   "prompt <stage> [scenario]",
		Short: "Print the exact prompt a stage would send",
		Long: `Prompt renders a stage's system instruction and prompt without calling
the oracle. The scope stage takes a scenario; the other stages read a scope
document (JSON, as produced by 'generate --format json' or its scope field)
from --scope.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := domain.ParseStage(args[0])
			if !ok {
				return fmt.Errorf("unknown stage %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runner := app.NewRunner(cfg, nil, zap.NewNop())

			var req oracle.Request
			if st == domain.StageScope {
				scenario := strings.Join(args[1:], " ")
				if strings.TrimSpace(scenario) == "" {
					return errors.New("scope prompt needs a scenario")
				}
				req = runner.ScopeRequest(scenario)
			} else {
				if scopeFile == "" {
					return fmt.Errorf("--scope is required for stage %s", st)
				}
				doc, err := readScopeDocument(scopeFile)
				if err != nil {
					return err
				}
				switch st {
				case domain.StageProposal:
					req, err = runner.ProposalRequest(projection.Seeds(doc), cfg.Constraints)
				case domain.StageAnalysis:
					req, err = runner.AnalysisRequest(projection.Build(doc, cfg.Constraints))
				case domain.StageTestPlan:
					req, err = runner.TestPlanRequest(projection.Build(doc, cfg.Constraints))
				}
				if err != nil {
					return err
				}
			}
			view := promptView{Stage: st, SystemInstruction: req.SystemInstruction, Prompt: req.Prompt, Sampling: req.Sampling}
			return printOutput(cmd.OutOrStdout(), view, func(w io.Writer) {
				fmt.Fprintf(w, "--- system (%s) ---\n%s\n--- prompt ---\n%s\n", st, view.SystemInstruction, view.Prompt)
			})
		},
	}
	cmd.Flags().StringVar(&scopeFile, "scope", "", "scope document JSON file")
	return cmd
}

// readScopeDocument accepts a bare document or a generate plan carrying one
// under "scope".
func readScopeDocument(path string) (domain.ScopeDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ScopeDocument{}, err
	}
	var wrapped struct {
		Scope *domain.ScopeDocument `json:"scope"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Scope != nil {
		return *wrapped.Scope, nil
	}
	var doc domain.ScopeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.ScopeDocument{}, fmt.Errorf("parse scope document: %w", err)
	}
	return doc, nil
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create scopeshift.yml",
		Long:  "Config holds the oracle provider and model, the constraints injected into every downstream stage, per-stage sampling, the test-plan endpoints, server settings and webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), cfg, func(w io.Writer) {
				data, err := cfg.YAML()
				if err != nil {
					fmt.Fprintln(w, err)
					return
				}
				w.Write(data)
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	var path string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", config.DefaultPath, "destination file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("SCOPESHIFT_JWT_SECRET"); env != "" {
				secret = env
			}
			token, err := server.SignToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func runsCmd() *cobra.Command {
	var remote, token, stage string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent stage runs recorded by a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := scopeshiftsdk.New(remote)
			client.BearerToken = token
			runs, err := client.Runs(cmd.Context(), stage, limit)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), runs, func(w io.Writer) { renderRuns(w, runs, time.Now()) })
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "http://127.0.0.1:8080", "scopeshift server URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("SCOPESHIFT_TOKEN"), "bearer token")
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func renderRuns(w io.Writer, runs []scopeshiftsdk.Run, now time.Time) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Stage", "Status", "Scope", "Started", "Took", "Error"})
	for _, r := range runs {
		started, took := r.StartedAt, ""
		if t, err := time.Parse(time.RFC3339Nano, r.StartedAt); err == nil {
			started = humanize.RelTime(t, now, "ago", "from now")
			if f, err := time.Parse(time.RFC3339Nano, r.FinishedAt); err == nil {
				took = f.Sub(t).Round(time.Millisecond).String()
			}
		}
		tw.AppendRow(table.Row{shortID(r.ID), r.Stage, r.Status, shortID(r.ScopeVersion), started, took, r.Error})
	}
	tw.Render()
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:4] + "…" + id[len(id)-6:]
}
