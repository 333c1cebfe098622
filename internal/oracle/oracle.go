// Package oracle talks to the external generative text-completion service.
// A call is a single shot: one (system instruction, prompt, schema) triple in,
// raw text out. There are no retries.
package oracle

import (
	"context"
	"errors"

	"scopeshift/internal/domain"
	"scopeshift/internal/schema"
)

// Sampling carries stage-specific sampling parameters through unchanged.
// Nil fields are left to the service default.
type Sampling struct {
	Temperature *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	TopK        *float32 `json:"top_k,omitempty" yaml:"top_k,omitempty"`
}

// Request is one oracle invocation.
type Request struct {
	Stage             domain.Stage
	SystemInstruction string
	Prompt            string
	Schema            *schema.Descriptor
	Sampling          Sampling
}

// Client invokes the oracle and returns its raw text.
type Client interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

var (
	// ErrBlocked means the service refused to answer the prompt.
	ErrBlocked = errors.New("prompt blocked by service")
	// ErrEmptyResponse means the service returned no candidate text.
	ErrEmptyResponse = errors.New("empty response from service")
)

// Float is a helper for literal sampling values.
func Float(v float32) *float32 { return &v }
