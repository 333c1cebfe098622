package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"scopeshift/internal/domain"
	"scopeshift/internal/lint"
)

// AnalyzeScope runs scope health analysis on a projection. Empty issues is
// a healthy result.
func (r *Runner) AnalyzeScope(ctx context.Context, p domain.ScopeProjection) (domain.ScopeAnalysis, []domain.Warning, error) {
	req, err := r.AnalysisRequest(p)
	if err != nil {
		return domain.ScopeAnalysis{}, nil, domain.StageFailure(domain.StageAnalysis, err)
	}
	var out domain.ScopeAnalysis
	if err := r.call(ctx, req, &out); err != nil {
		return domain.ScopeAnalysis{}, nil, err
	}
	if out.Issues == nil {
		out.Issues = []domain.Issue{}
	}

	var warnings []domain.Warning
	if out.Score != nil && (*out.Score < 0 || *out.Score > 100) {
		clamped := min(max(*out.Score, 0), 100)
		warnings = append(warnings, r.warn(domain.Warning{
			Stage:   domain.StageAnalysis,
			Subject: "score",
			Message: fmt.Sprintf("clamped out-of-range score %v to %v", *out.Score, clamped),
		}))
		out.Score = &clamped
	}

	if r.LocalChecks {
		local := lint.Check(p)
		before := len(out.Issues)
		out.Issues = lint.Merge(out.Issues, local)
		if added := len(out.Issues) - before; added > 0 {
			r.Log.Debug("local checks added issues", zap.Int("count", added))
		}
	}
	return out, warnings, nil
}
