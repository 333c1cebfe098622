package server

import (
	"encoding/json"

	"scopeshift/internal/domain"
	"scopeshift/internal/engine"
)

// Request DTOs

type ScopeRequest struct {
	Scenario string `json:"scenario" doc:"Free-text product scenario" example:"A todo list app"`
}

// Response DTOs

type ScopeResponse struct {
	Document     domain.ScopeDocument `json:"document"`
	ScopeVersion string               `json:"scope_version"`
	Warnings     []domain.Warning     `json:"warnings,omitempty"`
}

type ProposalsResponse struct {
	Candidates   []domain.ProposedFeature `json:"candidates"`
	ScopeVersion string                   `json:"scope_version,omitempty"`
	Warnings     []domain.Warning         `json:"warnings,omitempty"`
}

type AnalysisResponse struct {
	Analysis     domain.ScopeAnalysis `json:"analysis"`
	ScopeVersion string               `json:"scope_version,omitempty"`
	Warnings     []domain.Warning     `json:"warnings,omitempty"`
}

type TestPlanResponse struct {
	TestPlan     domain.TestPlan  `json:"test_plan"`
	ScopeVersion string           `json:"scope_version,omitempty"`
	Warnings     []domain.Warning `json:"warnings,omitempty"`
}

type SlotStatus struct {
	State        string           `json:"state" enum:"idle,running,succeeded,failed"`
	Error        string           `json:"error,omitempty"`
	Warnings     []domain.Warning `json:"warnings,omitempty"`
	RunID        string           `json:"run_id,omitempty"`
	ScopeVersion string           `json:"scope_version,omitempty"`
	StartedAt    string           `json:"started_at,omitempty"`
	FinishedAt   string           `json:"finished_at,omitempty"`
}

type StateResponse struct {
	Document     *domain.ScopeDocument    `json:"document,omitempty"`
	ScopeVersion string                   `json:"scope_version,omitempty"`
	Constraints  domain.Constraints       `json:"constraints"`
	Busy         string                   `json:"busy,omitempty"`
	Slots        map[string]SlotStatus    `json:"slots"`
	Proposals    []domain.ProposedFeature `json:"proposals,omitempty"`
	Analysis     *domain.ScopeAnalysis    `json:"analysis,omitempty"`
	TestPlan     *domain.TestPlan         `json:"test_plan,omitempty"`
}

type RunResponse struct {
	ID           string           `json:"id"`
	Stage        string           `json:"stage"`
	Status       string           `json:"status" enum:"running,succeeded,failed,discarded"`
	ScopeVersion string           `json:"scope_version,omitempty"`
	RequestedBy  string           `json:"requested_by,omitempty"`
	StartedAt    string           `json:"started_at" format:"date-time"`
	FinishedAt   string           `json:"finished_at,omitempty"`
	Error        string           `json:"error,omitempty"`
	Warnings     []domain.Warning `json:"warnings,omitempty"`
}

type EventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	Stage   string         `json:"stage"`
	RunID   string         `json:"run_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

type paginatedRuns struct {
	Items []RunResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func slotStatus[T any](s engine.Slot[T]) SlotStatus {
	return SlotStatus{
		State:        string(s.State),
		Error:        s.Error,
		Warnings:     s.Warnings,
		RunID:        s.RunID,
		ScopeVersion: s.ScopeVersion,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
	}
}

func stateResponse(s engine.Snapshot) StateResponse {
	resp := StateResponse{
		Document:     s.Document,
		ScopeVersion: s.ScopeVersion,
		Constraints:  s.Constraints,
		Busy:         string(s.Busy),
		Slots: map[string]SlotStatus{
			string(domain.StageScope):    slotStatus(s.Scope),
			string(domain.StageProposal): slotStatus(s.Proposal),
			string(domain.StageAnalysis): slotStatus(s.Analysis),
			string(domain.StageTestPlan): slotStatus(s.TestPlan),
		},
		Analysis: s.Analysis.Output,
		TestPlan: s.TestPlan.Output,
	}
	if s.Proposal.Output != nil {
		resp.Proposals = s.Proposal.Output.Candidates
	}
	return resp
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:           r.ID,
		Stage:        string(r.Stage),
		Status:       r.Status,
		ScopeVersion: r.ScopeVersion,
		RequestedBy:  r.RequestedBy,
		StartedAt:    r.StartedAt,
		FinishedAt:   stringOrEmpty(r.FinishedAt),
		Error:        r.Error,
		Warnings:     r.Warnings,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:      e.ID,
		TS:      e.TS,
		Type:    e.Type,
		Stage:   string(e.Stage),
		RunID:   e.RunID,
		Payload: decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
