// Package lint runs the deterministic subset of the scope health rules
// locally, so missing criteria, obvious duplicates and keyword-level
// conflicts are reported even when the oracle misses them.
package lint

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"scopeshift/internal/domain"
)

// DuplicateThreshold is the title similarity at which two features are
// reported as duplicates.
const DuplicateThreshold = 0.8

var (
	loginTerms    = []string{"login", "log in", "logged in", "sign in", "signed in", "signin", "authenticated", "authentication", "password", "account required"}
	publicTerms   = []string{"public link", "public url", "shareable link", "share link", "anyone with the link", "public page", "publicly"}
	emailTerms    = []string{"email required", "require email", "requires email", "requires an email", "must provide email", "must enter email", "email address is required", "collect email"}
	externalTerms = []string{"database", "postgres", "mysql", "send email", "email provider", "smtp", "sendgrid", "mailgun", "google maps", "maps api", "stripe", "twilio", "third party", "external api", "webhook", "oauth"}

	// negators cancel a term found within negationWindow words of it,
	// e.g. "with no login", "login is not required".
	negators = map[string]bool{
		"no": true, "not": true, "without": true, "never": true, "optional": true,
		"isn't": true, "aren't": true, "doesn't": true, "don't": true, "needn't": true,
	}
)

const negationWindow = 3

// Check inspects a projection and returns the issues it can prove locally.
// Issue ids are "local-1", "local-2", ... in detection order.
func Check(p domain.ScopeProjection) []domain.Issue {
	var issues []domain.Issue
	add := func(severity, typ, featureID string, acIndex *int, msg string, fix domain.ProposedFix) {
		issues = append(issues, domain.Issue{
			ID:          fmt.Sprintf("local-%d", len(issues)+1),
			Severity:    severity,
			Message:     msg,
			Location:    domain.Location{Type: typ, FeatureID: featureID, ACIndex: acIndex},
			ProposedFix: fix,
		})
	}

	byFeature := map[string][]domain.AcceptanceInput{}
	for _, a := range p.Acceptance {
		byFeature[a.Feature] = append(byFeature[a.Feature], a)
	}

	for _, f := range p.Features {
		if len(byFeature[f.ID]) == 0 {
			add("critical", domain.IssueMissingAC, f.ID, nil,
				fmt.Sprintf("Feature %q has no acceptance criteria.", f.Title),
				domain.ProposedFix{Summary: "Add at least one testable acceptance criterion.", Action: "add_ac"})
		}
	}

	for i := 0; i < len(p.Features); i++ {
		for j := i + 1; j < len(p.Features); j++ {
			a, b := p.Features[i], p.Features[j]
			if Similarity(a.Title, b.Title) >= DuplicateThreshold {
				add("warning", domain.IssueDuplicate, b.ID, nil,
					fmt.Sprintf("Feature %q duplicates %q.", b.Title, a.Title),
					domain.ProposedFix{Summary: fmt.Sprintf("Merge into %s.", a.ID), Action: "merge"})
			}
		}
	}

	tiers := map[string]string{}
	for _, f := range p.Features {
		tiers[f.ID] = f.Tier
	}
	publicFeatures := map[string]bool{}
	for _, f := range p.Features {
		if mentions(f.Title, publicTerms) {
			publicFeatures[f.ID] = true
		}
	}
	for _, acs := range byFeature {
		for _, a := range acs {
			if mentions(a.Text, publicTerms) {
				publicFeatures[a.Feature] = true
			}
		}
	}
	anyPublic := len(publicFeatures) > 0

	for _, f := range p.Features {
		for idx, a := range byFeature[f.ID] {
			if !p.Constraints.AuthRequired && mentions(a.Text, loginTerms) {
				add("critical", domain.IssueConflictAuth, f.ID, &idx,
					fmt.Sprintf("Acceptance criterion %s requires login but auth_required=false.", a.ID),
					domain.ProposedFix{Summary: "Drop the login requirement or move it to V1.", Action: "modify"})
			}
			if anyPublic && mentions(a.Text, emailTerms) {
				add("warning", domain.IssueConflictEmail, f.ID, &idx,
					fmt.Sprintf("Acceptance criterion %s requires an email while the scope offers public link access.", a.ID),
					domain.ProposedFix{Summary: "Make email optional for public access.", Action: "modify"})
			}
			if tiers[f.ID] == domain.TierV0 && mentions(a.Text, externalTerms) {
				add("warning", domain.IssueV0External, f.ID, &idx,
					fmt.Sprintf("V0 acceptance criterion %s depends on an external integration.", a.ID),
					domain.ProposedFix{Summary: "Move the integration to V1.", Action: "retier"})
			}
		}
	}
	return issues
}

// Merge appends local issues to the oracle's. A local issue is dropped when
// the oracle reported the same rule for the same feature, either for the
// whole feature or for the same acceptance criterion.
func Merge(remote, local []domain.Issue) []domain.Issue {
	seen := map[string]bool{}
	for _, is := range remote {
		seen[key(is.Location, true)] = true
	}
	out := append([]domain.Issue{}, remote...)
	for _, is := range local {
		if seen[key(is.Location, false)] || seen[key(is.Location, true)] {
			continue
		}
		seen[key(is.Location, true)] = true
		out = append(out, is)
	}
	return out
}

func key(loc domain.Location, withAC bool) string {
	k := strings.ToUpper(loc.Type) + "\x00" + loc.FeatureID
	if withAC && loc.ACIndex != nil {
		k += fmt.Sprintf("\x00%d", *loc.ACIndex)
	}
	return k
}

// fold builds a fresh Caser per call; Casers are stateful.
func fold(s string) string { return cases.Fold().String(s) }

// Similarity returns 1 - levenshtein/maxlen over case-folded, whitespace
// collapsed titles. Identical titles score 1, disjoint ones approach 0.
func Similarity(a, b string) float64 {
	ra := []rune(normalize(a))
	rb := []rune(normalize(b))
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func normalize(s string) string {
	s = fold(s)
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}), " ")
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// mentions reports whether text contains one of terms as whole words and
// at least one such occurrence is not negated.
func mentions(text string, terms []string) bool {
	w := words(text)
	for _, term := range terms {
		tw := words(term)
		for i := 0; i+len(tw) <= len(w); i++ {
			if slices.Equal(w[i:i+len(tw)], tw) && !negated(w, i, i+len(tw)) {
				return true
			}
		}
	}
	return false
}

func negated(w []string, start, end int) bool {
	for i := max(0, start-negationWindow); i < min(len(w), end+negationWindow); i++ {
		if (i < start || i >= end) && negators[w[i]] {
			return true
		}
	}
	return false
}

// words case-folds s and splits it on anything but letters, digits and
// apostrophes.
func words(s string) []string {
	s = strings.ReplaceAll(fold(s), "’", "'")
	return strings.FieldsFunc(s, func(r rune) bool {
		return r != '\'' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
