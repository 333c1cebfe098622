// Package projection derives the narrow inputs later stages need from a
// scope document. Every function is pure; callers rebuild on every run.
package projection

import "scopeshift/internal/domain"

// Build flattens doc into the analysis / test-plan input. Slices are never
// nil so the encoded form always carries empty arrays.
func Build(doc domain.ScopeDocument, c domain.Constraints) domain.ScopeProjection {
	p := domain.ScopeProjection{
		Features:    make([]domain.FeatureInput, 0, len(doc.Features)),
		Acceptance:  []domain.AcceptanceInput{},
		Constraints: c,
	}
	if c.P99LatencyMs != nil {
		v := *c.P99LatencyMs
		p.Constraints.P99LatencyMs = &v
	}
	for _, f := range doc.Features {
		p.Features = append(p.Features, domain.FeatureInput{ID: f.ID, Title: f.Title, Tier: f.Tier})
		for _, ac := range f.AcceptanceCriteria {
			p.Acceptance = append(p.Acceptance, domain.AcceptanceInput{Feature: f.ID, ID: ac.ID, Text: ac.Description})
		}
	}
	return p
}

// Seeds returns the id/title view sent to feature proposal.
func Seeds(doc domain.ScopeDocument) []domain.FeatureRef {
	out := make([]domain.FeatureRef, 0, len(doc.Features))
	for _, f := range doc.Features {
		out = append(out, domain.FeatureRef{ID: f.ID, Title: f.Title})
	}
	return out
}
