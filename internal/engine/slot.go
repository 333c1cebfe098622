package engine

import (
	"scopeshift/internal/domain"
)

type SlotState string

const (
	SlotIdle      SlotState = "idle"
	SlotRunning   SlotState = "running"
	SlotSucceeded SlotState = "succeeded"
	SlotFailed    SlotState = "failed"
)

// Slot is one stage's result. Output is set only when State is succeeded,
// Error only when it is failed.
type Slot[T any] struct {
	State        SlotState        `json:"state" enum:"idle,running,succeeded,failed"`
	Output       *T               `json:"output,omitempty"`
	Error        string           `json:"error,omitempty"`
	Warnings     []domain.Warning `json:"warnings,omitempty"`
	RunID        string           `json:"run_id,omitempty"`
	ScopeVersion string           `json:"scope_version,omitempty"`
	StartedAt    string           `json:"started_at,omitempty"`
	FinishedAt   string           `json:"finished_at,omitempty"`

	err error
}

// Err returns the failure recorded in the slot.
func (s Slot[T]) Err() error { return s.err }

func (s *Slot[T]) succeed(out T, warnings []domain.Warning, at string) {
	s.State = SlotSucceeded
	s.Output = &out
	s.Warnings = warnings
	s.FinishedAt = at
}

func (s *Slot[T]) fail(err error, warnings []domain.Warning, at string) {
	s.State = SlotFailed
	s.Output = nil
	s.err = err
	s.Error = err.Error()
	s.Warnings = warnings
	s.FinishedAt = at
}

func (s Slot[T]) normalized() Slot[T] {
	if s.State == "" {
		s.State = SlotIdle
	}
	return s
}

// Snapshot is a consistent copy of the engine's state.
type Snapshot struct {
	Document     *domain.ScopeDocument      `json:"document,omitempty"`
	ScopeVersion string                     `json:"scope_version,omitempty"`
	Constraints  domain.Constraints         `json:"constraints"`
	Busy         domain.Stage               `json:"busy,omitempty"`
	Scope        Slot[domain.ScopeDocument] `json:"scope"`
	Proposal     Slot[domain.ProposalSet]   `json:"proposal"`
	Analysis     Slot[domain.ScopeAnalysis] `json:"analysis"`
	TestPlan     Slot[domain.TestPlan]      `json:"test_plan"`
}

// State returns the slot state for a stage.
func (s Snapshot) State(st domain.Stage) SlotState {
	switch st {
	case domain.StageScope:
		return s.Scope.State
	case domain.StageProposal:
		return s.Proposal.State
	case domain.StageAnalysis:
		return s.Analysis.State
	case domain.StageTestPlan:
		return s.TestPlan.State
	}
	return ""
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		ScopeVersion: e.version,
		Constraints:  e.Constraints,
		Busy:         e.busy,
		Scope:        e.scope.normalized(),
		Proposal:     e.proposal.normalized(),
		Analysis:     e.analysis.normalized(),
		TestPlan:     e.testPlan.normalized(),
	}
	if e.doc != nil {
		doc := e.doc.Clone()
		s.Document = &doc
	}
	if s.Scope.Output != nil {
		out := s.Scope.Output.Clone()
		s.Scope.Output = &out
	}
	return s
}
