// Package stage implements the four stage contracts: prompt construction,
// the schema each response must satisfy, sampling, and post-parse
// normalization into typed domain values.
package stage

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"scopeshift/internal/domain"
	"scopeshift/internal/oracle"
	"scopeshift/internal/schema"
)

// DefaultEndpoints are the canonical endpoints every test plan targets.
var DefaultEndpoints = []string{
	"POST /events",
	"POST /events/{id}/rsvp",
	"GET  /events/{id}/attendees.txt",
}

// DefaultSampling returns the per-stage sampling parameters. Generative
// stages run warmer than analytical ones.
func DefaultSampling() map[domain.Stage]oracle.Sampling {
	return map[domain.Stage]oracle.Sampling{
		domain.StageScope:    {Temperature: oracle.Float(0.2), TopP: oracle.Float(0.9), TopK: oracle.Float(40)},
		domain.StageProposal: {Temperature: oracle.Float(0.4)},
		domain.StageAnalysis: {Temperature: oracle.Float(0.1)},
		domain.StageTestPlan: {Temperature: oracle.Float(0.1)},
	}
}

// Runner executes stages against an oracle. The zero value is not usable;
// build one with NewRunner.
type Runner struct {
	Oracle   oracle.Client
	Log      *zap.Logger
	Sampling map[domain.Stage]oracle.Sampling
	// Endpoints fixed in the test-plan prompt.
	Endpoints []string
	// LocalChecks merges deterministic lint issues into analysis output.
	LocalChecks bool
}

func NewRunner(client oracle.Client, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Oracle:      client,
		Log:         log,
		Sampling:    DefaultSampling(),
		Endpoints:   append([]string{}, DefaultEndpoints...),
		LocalChecks: true,
	}
}

func (r *Runner) sampling(stage domain.Stage) oracle.Sampling {
	if s, ok := r.Sampling[stage]; ok {
		return s
	}
	return DefaultSampling()[stage]
}

func (r *Runner) endpoints() []string {
	if len(r.Endpoints) == 0 {
		return DefaultEndpoints
	}
	return r.Endpoints
}

// call invokes the oracle and decodes its text into out against d.
func (r *Runner) call(ctx context.Context, req oracle.Request, out any) error {
	text, err := r.Oracle.Invoke(ctx, req)
	if err != nil {
		return domain.StageFailure(req.Stage, err)
	}
	if err := schema.Decode(strings.TrimSpace(text), req.Schema, out); err != nil {
		return domain.StageFailure(req.Stage, err)
	}
	return nil
}

func (r *Runner) warn(w domain.Warning) domain.Warning {
	w.Kind = domain.KindNormalization
	r.Log.Warn("normalization warning",
		zap.String("stage", string(w.Stage)),
		zap.String("subject", w.Subject),
		zap.String("message", w.Message))
	return w
}
