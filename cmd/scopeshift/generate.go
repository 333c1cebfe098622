package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scopeshift/internal/app"
	"scopeshift/internal/domain"
	scopeshiftsdk "scopeshift/sdk/go"
)

// Plan is everything one generate invocation produced.
type Plan struct {
	Scenario     string                   `json:"scenario" yaml:"scenario"`
	ScopeVersion string                   `json:"scope_version" yaml:"scope_version"`
	Scope        domain.ScopeDocument     `json:"scope" yaml:"scope"`
	Proposals    []domain.ProposedFeature `json:"proposals,omitempty" yaml:"proposals,omitempty"`
	Analysis     *domain.ScopeAnalysis    `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	TestPlan     *domain.TestPlan         `json:"test_plan,omitempty" yaml:"test_plan,omitempty"`
	Warnings     []domain.Warning         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Failures     map[domain.Stage]string  `json:"failures,omitempty" yaml:"failures,omitempty"`
}

type stageSelection struct {
	propose, analyze, testPlan bool
}

// planBackend runs the stages either in-process or against a server.
type planBackend interface {
	scope(ctx context.Context, scenario string, p *Plan) error
	propose(ctx context.Context, p *Plan) error
	analyze(ctx context.Context, p *Plan) error
	testPlan(ctx context.Context, p *Plan) error
}

func generateCmd() *cobra.Command {
	var sel stageSelection
	var all bool
	var out, remote, token, scenarioFile string
	cmd := &cobra.Command{
		Use:   "generate [scenario]",
		Short: "Generate a scope document and, optionally, the downstream stages",
		Long: `Generate runs scope generation for the scenario, then each selected
downstream stage on the resulting document. A failing downstream stage is
reported and does not stop the others.

The scenario is taken from the arguments, --file, or standard input when
neither is given.`,
		Example: `  scopeshift generate "A tiny event RSVP service" --all
  scopeshift generate --file scenario.txt --analyze --out plan.yaml
  scopeshift generate "A todo app" --remote http://127.0.0.1:8080 --propose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				sel = stageSelection{propose: true, analyze: true, testPlan: true}
			}
			scenario, err := readScenario(cmd.InOrStdin(), args, scenarioFile)
			if err != nil {
				return err
			}
			if _, err := outputFormat(); err != nil {
				return err
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			var backend planBackend
			if remote != "" {
				client := scopeshiftsdk.New(remote)
				client.BearerToken = token
				backend = remoteBackend{client: client}
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				a, err := app.Build(cmd.Context(), cfg, log, nil)
				if err != nil {
					return err
				}
				defer a.Close()
				backend = localBackend{app: a}
			}

			plan, err := runPlan(cmd.Context(), backend, scenario, sel, log)
			if err != nil {
				return err
			}
			if out != "" {
				if err := writePlan(out, plan); err != nil {
					return err
				}
				log.Info("plan written", zap.String("path", out))
			}
			if err := printOutput(cmd.OutOrStdout(), plan, func(w io.Writer) { renderPlan(w, plan) }); err != nil {
				return err
			}
			if n := len(plan.Failures); n > 0 {
				return fmt.Errorf("%d stage(s) failed", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sel.propose, "propose", false, "run feature proposal")
	cmd.Flags().BoolVar(&sel.analyze, "analyze", false, "run scope analysis")
	cmd.Flags().BoolVar(&sel.testPlan, "test-plan", false, "run test-plan generation")
	cmd.Flags().BoolVar(&all, "all", false, "run every downstream stage")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the plan to a .json, .yaml or .yml file")
	cmd.Flags().StringVar(&remote, "remote", "", "run against a scopeshift server at this URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("SCOPESHIFT_TOKEN"), "bearer token for --remote")
	cmd.Flags().StringVar(&scenarioFile, "file", "", "read the scenario from a file")
	return cmd
}

func readScenario(stdin io.Reader, args []string, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read scenario: %w", err)
	}
	return string(data), nil
}

// runPlan runs scope generation and then each selected stage. Scope
// failure aborts; downstream failures are collected.
func runPlan(ctx context.Context, b planBackend, scenario string, sel stageSelection, log *zap.Logger) (*Plan, error) {
	plan := &Plan{Scenario: strings.TrimSpace(scenario)}
	if err := b.scope(ctx, scenario, plan); err != nil {
		return nil, err
	}
	steps := []struct {
		stage domain.Stage
		on    bool
		run   func(context.Context, *Plan) error
	}{
		{domain.StageProposal, sel.propose, b.propose},
		{domain.StageAnalysis, sel.analyze, b.analyze},
		{domain.StageTestPlan, sel.testPlan, b.testPlan},
	}
	for _, step := range steps {
		if !step.on {
			continue
		}
		if err := step.run(ctx, plan); err != nil {
			log.Warn("stage failed", zap.String("stage", string(step.stage)), zap.Error(err))
			if plan.Failures == nil {
				plan.Failures = map[domain.Stage]string{}
			}
			plan.Failures[step.stage] = err.Error()
		}
	}
	return plan, nil
}

type localBackend struct {
	app *app.App
}

func (b localBackend) scope(ctx context.Context, scenario string, p *Plan) error {
	doc, err := b.app.Engine.GenerateScope(ctx, scenario)
	if err != nil {
		return err
	}
	snap := b.app.Engine.Snapshot()
	p.Scope = doc
	p.ScopeVersion = snap.ScopeVersion
	p.Warnings = append(p.Warnings, snap.Scope.Warnings...)
	return nil
}

func (b localBackend) propose(ctx context.Context, p *Plan) error {
	out, err := b.app.Engine.ProposeFeatures(ctx)
	if err != nil {
		return err
	}
	p.Proposals = out
	p.Warnings = append(p.Warnings, b.app.Engine.Snapshot().Proposal.Warnings...)
	return nil
}

func (b localBackend) analyze(ctx context.Context, p *Plan) error {
	out, err := b.app.Engine.AnalyzeScope(ctx)
	if err != nil {
		return err
	}
	p.Analysis = &out
	p.Warnings = append(p.Warnings, b.app.Engine.Snapshot().Analysis.Warnings...)
	return nil
}

func (b localBackend) testPlan(ctx context.Context, p *Plan) error {
	out, err := b.app.Engine.GenerateTestPlan(ctx)
	if err != nil {
		return err
	}
	p.TestPlan = &out
	p.Warnings = append(p.Warnings, b.app.Engine.Snapshot().TestPlan.Warnings...)
	return nil
}

type remoteBackend struct {
	client *scopeshiftsdk.Client
}

func (b remoteBackend) scope(ctx context.Context, scenario string, p *Plan) error {
	res, err := b.client.GenerateScope(ctx, scenario)
	if err != nil {
		return err
	}
	p.ScopeVersion = res.ScopeVersion
	if err := convert(res.Document, &p.Scope); err != nil {
		return err
	}
	return appendWarnings(p, res.Warnings)
}

func (b remoteBackend) propose(ctx context.Context, p *Plan) error {
	res, err := b.client.ProposeFeatures(ctx)
	if err != nil {
		return err
	}
	if err := convert(res.Candidates, &p.Proposals); err != nil {
		return err
	}
	return appendWarnings(p, res.Warnings)
}

func (b remoteBackend) analyze(ctx context.Context, p *Plan) error {
	res, err := b.client.AnalyzeScope(ctx)
	if err != nil {
		return err
	}
	var out domain.ScopeAnalysis
	if err := convert(res.Analysis, &out); err != nil {
		return err
	}
	p.Analysis = &out
	return appendWarnings(p, res.Warnings)
}

func (b remoteBackend) testPlan(ctx context.Context, p *Plan) error {
	res, err := b.client.GenerateTestPlan(ctx)
	if err != nil {
		return err
	}
	var out domain.TestPlan
	if err := convert(res.TestPlan, &out); err != nil {
		return err
	}
	p.TestPlan = &out
	return appendWarnings(p, res.Warnings)
}

func appendWarnings(p *Plan, ws []scopeshiftsdk.Warning) error {
	var out []domain.Warning
	if err := convert(ws, &out); err != nil {
		return err
	}
	p.Warnings = append(p.Warnings, out...)
	return nil
}

// convert maps SDK wire types onto domain types; both share one JSON shape.
func convert(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func writePlan(path string, plan *Plan) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = printJSON(f, plan)
	case ".yaml", ".yml":
		err = printYAML(f, plan)
	default:
		err = errors.New("plan output must end in .json, .yaml or .yml")
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func renderPlan(w io.Writer, p *Plan) {
	fmt.Fprintf(w, "Scope %s\n", p.ScopeVersion)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Tier", "Title", "Acceptance criteria"})
	for _, f := range p.Scope.Features {
		acs := make([]string, 0, len(f.AcceptanceCriteria))
		for _, ac := range f.AcceptanceCriteria {
			acs = append(acs, ac.Description)
		}
		tw.AppendRow(table.Row{f.ID, f.Tier, f.Title, strings.Join(acs, "\n")})
	}
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d specs", len(p.Scope.TestSpecs)), fmt.Sprintf("%d templates", len(p.Scope.CodeTemplates))})
	tw.Render()

	if len(p.Proposals) > 0 {
		fmt.Fprintln(w, "\nProposals")
		tw = table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"ID", "Title", "Tier", "Risk", "Cost", "Constraints OK"})
		for _, c := range p.Proposals {
			tw.AppendRow(table.Row{c.ID, c.Title, c.TierSuggestion, c.Risk, c.Impacts.Cost, c.ConstraintsOK})
		}
		tw.Render()
	}

	if p.Analysis != nil {
		score := "-"
		if p.Analysis.Score != nil {
			score = fmt.Sprintf("%.0f", *p.Analysis.Score)
		}
		fmt.Fprintf(w, "\nAnalysis (score %s)\n", score)
		tw = table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"ID", "Severity", "Type", "Feature", "Message"})
		for _, is := range p.Analysis.Issues {
			tw.AppendRow(table.Row{is.ID, is.Severity, is.Location.Type, is.Location.FeatureID, is.Message})
		}
		tw.Render()
		if p.Analysis.Notes != "" {
			fmt.Fprintln(w, p.Analysis.Notes)
		}
	}

	if p.TestPlan != nil {
		fmt.Fprintln(w, "\nTest plan")
		tw = table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"ID", "Tier", "Endpoint", "Name", "Assertions"})
		for _, t := range p.TestPlan.Tests {
			tw.AppendRow(table.Row{t.ID, t.Tier, t.Endpoint, t.Name, len(t.Assertions)})
		}
		tw.Render()
	}

	for _, warn := range p.Warnings {
		fmt.Fprintf(w, "warning: %s %s: %s\n", warn.Stage, warn.Subject, warn.Message)
	}
	for st, msg := range p.Failures {
		fmt.Fprintf(w, "failed: %s: %s\n", st, msg)
	}
}
