package stage

import (
	"context"
	"fmt"
	"strings"

	"scopeshift/internal/domain"
)

// GenerateScope turns a scenario into a scope document. The scenario must
// be non-empty after trimming; callers enforce that before invoking.
func (r *Runner) GenerateScope(ctx context.Context, scenario string) (domain.ScopeDocument, []domain.Warning, error) {
	if strings.TrimSpace(scenario) == "" {
		return domain.ScopeDocument{}, nil, domain.StageFailure(domain.StageScope, fmt.Errorf("scenario is empty"))
	}
	var doc domain.ScopeDocument
	if err := r.call(ctx, r.ScopeRequest(scenario), &doc); err != nil {
		return domain.ScopeDocument{}, nil, err
	}
	warnings := r.normalizeScope(&doc)
	return doc, warnings, nil
}

// normalizeScope enforces the document invariants the oracle is only asked
// to honour: every feature has an acceptance criterion, and specs and
// templates reference existing features.
func (r *Runner) normalizeScope(doc *domain.ScopeDocument) []domain.Warning {
	var warnings []domain.Warning
	known := map[string]bool{}
	features := make([]domain.Feature, 0, len(doc.Features))
	for _, f := range doc.Features {
		if len(f.AcceptanceCriteria) == 0 {
			warnings = append(warnings, r.warn(domain.Warning{
				Stage:   domain.StageScope,
				Subject: "feature " + f.ID,
				Message: "dropped: feature has no acceptance criteria",
			}))
			continue
		}
		known[f.ID] = true
		features = append(features, f)
	}
	doc.Features = features

	specs := make([]domain.TestSpec, 0, len(doc.TestSpecs))
	for _, s := range doc.TestSpecs {
		if !known[s.FeatureID] {
			warnings = append(warnings, r.warn(domain.Warning{
				Stage:   domain.StageScope,
				Subject: "test spec " + s.FileName,
				Message: fmt.Sprintf("dropped: unknown feature %q", s.FeatureID),
			}))
			continue
		}
		specs = append(specs, s)
	}
	doc.TestSpecs = specs

	tmpls := make([]domain.CodeTemplate, 0, len(doc.CodeTemplates))
	for _, c := range doc.CodeTemplates {
		if !known[c.FeatureID] {
			warnings = append(warnings, r.warn(domain.Warning{
				Stage:   domain.StageScope,
				Subject: "code template " + c.FileName,
				Message: fmt.Sprintf("dropped: unknown feature %q", c.FeatureID),
			}))
			continue
		}
		tmpls = append(tmpls, c)
	}
	doc.CodeTemplates = tmpls
	return warnings
}
