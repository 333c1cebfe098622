package stage

import (
	"context"
	"errors"

	"scopeshift/internal/domain"
)

// ErrNoFeatures is returned when feature proposal is asked to seed from an
// empty feature list. The oracle is not called.
var ErrNoFeatures = errors.New("no features to seed proposals from")

// ProposeFeatures asks the oracle for new candidate features. An empty
// candidate list is a valid result.
func (r *Runner) ProposeFeatures(ctx context.Context, seeds []domain.FeatureRef, c domain.Constraints) ([]domain.ProposedFeature, []domain.Warning, error) {
	if len(seeds) == 0 {
		return nil, nil, ErrNoFeatures
	}
	req, err := r.ProposalRequest(seeds, c)
	if err != nil {
		return nil, nil, domain.StageFailure(domain.StageProposal, err)
	}
	var out domain.ProposalSet
	if err := r.call(ctx, req, &out); err != nil {
		return nil, nil, err
	}
	if out.Candidates == nil {
		out.Candidates = []domain.ProposedFeature{}
	}
	for i := range out.Candidates {
		if out.Candidates[i].ACs == nil {
			out.Candidates[i].ACs = []string{}
		}
	}
	return out.Candidates, nil, nil
}
