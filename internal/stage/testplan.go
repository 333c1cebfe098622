package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scopeshift/internal/domain"
)

// The test-plan wire shape carries payload and assertion values as strings
// that may themselves encode JSON.
type wireTestPlan struct {
	Tests []wireTest `json:"tests"`
}

type wireTest struct {
	ID            string          `json:"id"`
	Tier          string          `json:"tier"`
	Name          string          `json:"name"`
	Endpoint      string          `json:"endpoint"`
	Preconditions []string        `json:"preconditions"`
	Payload       string          `json:"payload"`
	Assertions    []wireAssertion `json:"assertions"`
}

type wireAssertion struct {
	Type  string `json:"type"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// GenerateTestPlan converts a projection into a test plan. Secondary
// decoding of payloads and assertion values never fails the stage.
func (r *Runner) GenerateTestPlan(ctx context.Context, p domain.ScopeProjection) (domain.TestPlan, []domain.Warning, error) {
	req, err := r.TestPlanRequest(p)
	if err != nil {
		return domain.TestPlan{}, nil, domain.StageFailure(domain.StageTestPlan, err)
	}
	var wire wireTestPlan
	if err := r.call(ctx, req, &wire); err != nil {
		return domain.TestPlan{}, nil, err
	}

	var warnings []domain.Warning
	plan := domain.TestPlan{Tests: make([]domain.Test, 0, len(wire.Tests))}
	for _, wt := range wire.Tests {
		t := domain.Test{
			ID:            wt.ID,
			Tier:          wt.Tier,
			Name:          wt.Name,
			Endpoint:      wt.Endpoint,
			Preconditions: wt.Preconditions,
			Assertions:    make([]domain.Assertion, 0, len(wt.Assertions)),
		}
		if t.Preconditions == nil {
			t.Preconditions = []string{}
		}
		payload, err := DecodePayload(wt.Payload)
		if err != nil {
			warnings = append(warnings, r.warn(domain.Warning{
				Stage:   domain.StageTestPlan,
				Subject: "test " + wt.ID + " payload",
				Message: err.Error(),
			}))
		}
		t.Payload = payload
		for _, a := range wt.Assertions {
			t.Assertions = append(t.Assertions, domain.Assertion{
				Type:  a.Type,
				Op:    a.Op,
				Value: DecodeAssertionValue(a.Value),
			})
		}
		plan.Tests = append(plan.Tests, t)
	}
	return plan, warnings, nil
}

// DecodePayload decodes a JSON-encoded request payload into a mapping. On
// failure it returns an empty mapping together with the reason; the mapping
// is never nil. A blank payload is an empty mapping without error.
func DecodePayload(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]any{}, fmt.Errorf("payload is not valid JSON, using {}: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}, fmt.Errorf("payload is %s, not an object, using {}", jsonKind(v))
	}
	return m, nil
}

// DecodeAssertionValue opportunistically decodes an assertion value as
// JSON. Anything that does not decode is kept verbatim as a string.
func DecodeAssertionValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	}
	return fmt.Sprintf("%T", v)
}
