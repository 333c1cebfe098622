// Package schema declares the structural contract each stage's oracle output
// must satisfy. Descriptors are declarative: they are converted into the
// oracle's response schema and used to validate what comes back.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"google.golang.org/genai"

	"scopeshift/internal/domain"
)

// Type is a JSON value kind.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Descriptor is a nested type descriptor with required-field lists at every
// object level. Properties keep declaration order.
type Descriptor struct {
	Type        Type        `json:"type" yaml:"type"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Properties  []Property  `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items       *Descriptor `json:"items,omitempty" yaml:"items,omitempty"`
	Required    []string    `json:"required,omitempty" yaml:"required,omitempty"`
}

// Property is a named field of an object descriptor.
type Property struct {
	Name       string      `json:"name" yaml:"name"`
	Descriptor *Descriptor `json:"schema" yaml:"schema"`
}

// Field pairs a property with its required-ness while building objects.
type Field struct {
	Property
	Required bool
}

// Req declares a required field.
func Req(name string, d *Descriptor) Field {
	return Field{Property: Property{Name: name, Descriptor: d}, Required: true}
}

// Opt declares an optional field.
func Opt(name string, d *Descriptor) Field {
	return Field{Property: Property{Name: name, Descriptor: d}}
}

func Object(desc string, fields ...Field) *Descriptor {
	d := &Descriptor{Type: TypeObject, Description: desc}
	for _, f := range fields {
		d.Properties = append(d.Properties, f.Property)
		if f.Required {
			d.Required = append(d.Required, f.Name)
		}
	}
	return d
}

func Array(desc string, items *Descriptor) *Descriptor {
	return &Descriptor{Type: TypeArray, Description: desc, Items: items}
}

func String(desc string) *Descriptor {
	return &Descriptor{Type: TypeString, Description: desc}
}

func Enum(desc string, values ...string) *Descriptor {
	return &Descriptor{Type: TypeString, Description: desc, Enum: values}
}

func Number(desc string) *Descriptor {
	return &Descriptor{Type: TypeNumber, Description: desc}
}

func Integer(desc string) *Descriptor {
	return &Descriptor{Type: TypeInteger, Description: desc}
}

func Boolean(desc string) *Descriptor {
	return &Descriptor{Type: TypeBoolean, Description: desc}
}

// GenAI converts the descriptor into the Gemini response schema.
func (d *Descriptor) GenAI() *genai.Schema {
	if d == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(d.Type),
		Description: d.Description,
		Enum:        append([]string(nil), d.Enum...),
		Required:    append([]string(nil), d.Required...),
	}
	if len(d.Enum) > 0 {
		out.Format = "enum"
	}
	if d.Items != nil {
		out.Items = d.Items.GenAI()
	}
	if len(d.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(d.Properties))
		for _, p := range d.Properties {
			out.Properties[p.Name] = p.Descriptor.GenAI()
			out.PropertyOrdering = append(out.PropertyOrdering, p.Name)
		}
	}
	return out
}

func genaiType(t Type) genai.Type {
	switch t {
	case TypeObject:
		return genai.TypeObject
	case TypeArray:
		return genai.TypeArray
	case TypeString:
		return genai.TypeString
	case TypeNumber:
		return genai.TypeNumber
	case TypeInteger:
		return genai.TypeInteger
	case TypeBoolean:
		return genai.TypeBoolean
	}
	return genai.TypeUnspecified
}

// Violation is one structural mismatch between a value and its descriptor.
type Violation struct {
	Path   string
	Reason string
}

func (v Violation) String() string {
	return v.Path + ": " + v.Reason
}

// ValidationError lists every violation found in a decoded value.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	const max = 5
	if len(parts) > max {
		parts = append(parts[:max], fmt.Sprintf("and %d more", len(e.Violations)-max))
	}
	return "response does not match schema: " + strings.Join(parts, "; ")
}

// Validate checks a value produced by json.Unmarshal into `any` (with
// UseNumber or plain float64 numbers) against the descriptor.
func (d *Descriptor) Validate(v any) error {
	var out []Violation
	d.validate("$", v, &out)
	if len(out) == 0 {
		return nil
	}
	return &ValidationError{Violations: out}
}

func (d *Descriptor) validate(path string, v any, out *[]Violation) {
	if v == nil {
		*out = append(*out, Violation{Path: path, Reason: "null where " + string(d.Type) + " expected"})
		return
	}
	switch d.Type {
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			*out = append(*out, Violation{Path: path, Reason: "expected object, got " + kindOf(v)})
			return
		}
		for _, name := range d.Required {
			if _, ok := obj[name]; !ok {
				*out = append(*out, Violation{Path: path + "." + name, Reason: "required field missing"})
			}
		}
		for _, p := range d.Properties {
			val, ok := obj[p.Name]
			if !ok {
				continue
			}
			if val == nil && !d.requires(p.Name) {
				continue
			}
			p.Descriptor.validate(path+"."+p.Name, val, out)
		}
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			*out = append(*out, Violation{Path: path, Reason: "expected array, got " + kindOf(v)})
			return
		}
		if d.Items == nil {
			return
		}
		for i, item := range arr {
			d.Items.validate(fmt.Sprintf("%s[%d]", path, i), item, out)
		}
	case TypeString:
		s, ok := v.(string)
		if !ok {
			*out = append(*out, Violation{Path: path, Reason: "expected string, got " + kindOf(v)})
			return
		}
		if len(d.Enum) > 0 && !contains(d.Enum, s) {
			*out = append(*out, Violation{Path: path, Reason: fmt.Sprintf("%q not in %v", s, d.Enum)})
		}
	case TypeNumber:
		if _, ok := number(v); !ok {
			*out = append(*out, Violation{Path: path, Reason: "expected number, got " + kindOf(v)})
		}
	case TypeInteger:
		f, ok := number(v)
		if !ok || f != math.Trunc(f) {
			*out = append(*out, Violation{Path: path, Reason: "expected integer, got " + kindOf(v)})
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			*out = append(*out, Violation{Path: path, Reason: "expected boolean, got " + kindOf(v)})
		}
	}
}

func (d *Descriptor) requires(name string) bool {
	return contains(d.Required, name)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// SyntaxError reports oracle text that is not parseable JSON.
type SyntaxError struct {
	Cause error
}

func (e *SyntaxError) Error() string { return "response is not valid JSON: " + e.Cause.Error() }
func (e *SyntaxError) Unwrap() error { return e.Cause }

// Decode parses raw oracle text, validates it against d and unmarshals it
// into out. Decoding fails on syntax errors and schema mismatches only.
func Decode(raw string, d *Descriptor, out any) error {
	text := strings.TrimSpace(raw)
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return &SyntaxError{Cause: err}
	}
	if dec.More() {
		return &SyntaxError{Cause: fmt.Errorf("trailing data after top-level value")}
	}
	if err := d.Validate(generic); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return &SyntaxError{Cause: err}
	}
	return nil
}

// MarshalIndent renders the descriptor as ordered JSON Schema text.
func (d *Descriptor) MarshalIndent() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.jsonSchema()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// jsonSchema returns a map form; key order inside properties is alphabetical
// because encoding/json sorts map keys, so ordering is carried separately.
func (d *Descriptor) jsonSchema() map[string]any {
	m := map[string]any{"type": string(d.Type)}
	if d.Description != "" {
		m["description"] = d.Description
	}
	if len(d.Enum) > 0 {
		m["enum"] = d.Enum
	}
	if d.Items != nil {
		m["items"] = d.Items.jsonSchema()
	}
	if len(d.Properties) > 0 {
		props := make(map[string]any, len(d.Properties))
		order := make([]string, 0, len(d.Properties))
		for _, p := range d.Properties {
			props[p.Name] = p.Descriptor.jsonSchema()
			order = append(order, p.Name)
		}
		m["properties"] = props
		m["propertyOrdering"] = order
	}
	if len(d.Required) > 0 {
		req := append([]string(nil), d.Required...)
		sort.Strings(req)
		m["required"] = req
	}
	return m
}

// For returns the descriptor registered for a stage.
func For(stage domain.Stage) (*Descriptor, bool) {
	d, ok := registry[stage]
	return d, ok
}

var registry = map[domain.Stage]*Descriptor{
	domain.StageScope:    Scope,
	domain.StageProposal: Proposal,
	domain.StageAnalysis: Analysis,
	domain.StageTestPlan: TestPlan,
}
