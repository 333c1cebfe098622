// Package fingerprint assigns content-addressed versions to scope documents
// so downstream results can name the exact document they were derived from.
package fingerprint

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"scopeshift/internal/domain"
)

// Version returns the CIDv1 (raw codec, sha2-256) of the document's JSON
// encoding. Equal documents always share a version.
func Version(doc domain.ScopeDocument) (string, error) {
	data, err := json.Marshal(canonical(doc))
	if err != nil {
		return "", fmt.Errorf("encode scope document: %w", err)
	}
	c, err := Sum(data)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Sum returns the CIDv1 of raw bytes.
func Sum(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Verify reports whether version names doc.
func Verify(doc domain.ScopeDocument, version string) (bool, error) {
	want, err := cid.Decode(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}
	got, err := Version(doc)
	if err != nil {
		return false, err
	}
	return got == want.String(), nil
}

// nil and empty slices encode differently; versions must not care.
func canonical(doc domain.ScopeDocument) domain.ScopeDocument {
	out := doc.Clone()
	for i := range out.Features {
		if out.Features[i].AcceptanceCriteria == nil {
			out.Features[i].AcceptanceCriteria = []domain.AcceptanceCriterion{}
		}
	}
	return out
}
