package settings

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports a value that does not have the PersistentState shape.
type ValidationError struct {
	Msg   string
	Value any // the rejected value, kept for diagnostics
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// SyntaxError reports stored text that is not valid JSON.
type SyntaxError struct {
	Text string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed persistent state: %v", e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Result is the outcome of Validate. Exactly one of State and Err is set.
type Result struct {
	State *PersistentState
	Err   *ValidationError
}

// OK reports whether validation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Validate checks a decoded JSON value (as produced by json.Unmarshal into
// an any) against the PersistentState shape: a non-null object whose
// settings field is a non-null object with a known theme. Unknown fields
// are ignored.
func Validate(raw any) Result {
	invalid := Result{Err: &ValidationError{Msg: "invalid persistent state", Value: raw}}

	obj, ok := raw.(map[string]any)
	if !ok || obj == nil {
		return invalid
	}
	s, ok := obj["settings"].(map[string]any)
	if !ok || s == nil {
		return invalid
	}
	theme, ok := s["theme"].(string)
	if !ok || !Theme(theme).Valid() {
		return invalid
	}

	return Result{State: New(Theme(theme))}
}

// Parse decodes and validates stored text. It returns a *SyntaxError for
// malformed JSON and a *ValidationError for a structural mismatch.
func Parse(text string) (*PersistentState, error) {
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &SyntaxError{Text: text, Err: err}
	}
	r := Validate(raw)
	if !r.OK() {
		return nil, r.Err
	}
	return r.State, nil
}
