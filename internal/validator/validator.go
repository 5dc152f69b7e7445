// Package validator gates whether a parsed document is accepted.
//
// The interface is a capability boundary: the shipped strategy checks
// structural well-formedness and signature presence. Full XSD schema
// conformance and cryptographic signature verification are deeper
// capabilities a production deployment plugs in behind the same
// interface without touching callers.
package validator

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
)

// Result contains the complete validation verdict
type Result struct {
	// Overall validity - true only if all enabled checks pass
	Valid bool `json:"valid"`

	// Individual check results
	SchemaOK       bool `json:"schema_ok"`
	SignatureFound bool `json:"signature_found"`

	// Warnings (non-fatal issues)
	Warnings []string `json:"warnings,omitempty"`

	// Errors (reasons for invalid result)
	Errors []string `json:"errors,omitempty"`
}

// AddWarning adds a warning message to the result
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddError adds an error message and sets Valid to false
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

// Validator validates raw document content before it enters the queue.
type Validator interface {
	// Validate returns the verdict for one document. The returned error
	// is reserved for validator malfunction; a rejected document comes
	// back as a Result with Valid=false.
	Validate(ctx context.Context, data []byte) (*Result, error)

	// Name identifies the strategy in logs and error detail.
	Name() string
}

// StructuralValidator checks markup well-formedness, the presence of the
// blocks a fiscal document cannot be without, and signature presence.
type StructuralValidator struct {
	requireSignature bool
}

// StructuralOption configures a StructuralValidator.
type StructuralOption func(*StructuralValidator)

// WithRequiredSignature makes a missing Signature element a validation
// error instead of a warning.
func WithRequiredSignature() StructuralOption {
	return func(v *StructuralValidator) { v.requireSignature = true }
}

// NewStructuralValidator creates the default validation strategy.
func NewStructuralValidator(opts ...StructuralOption) *StructuralValidator {
	v := &StructuralValidator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name identifies the strategy.
func (v *StructuralValidator) Name() string { return "structural" }

// Validate runs the structural checks.
func (v *StructuralValidator) Validate(ctx context.Context, data []byte) (*Result, error) {
	result := &Result{Valid: true}

	seen := map[string]bool{}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.SchemaOK = false
			result.AddError(fmt.Sprintf("document is not well-formed: %v", err))
			return result, nil
		}
		if se, ok := tok.(xml.StartElement); ok {
			seen[se.Name.Local] = true
		}
	}

	result.SchemaOK = true
	for _, required := range []string{"infNFe", "ide", "emit"} {
		if !seen[required] {
			result.SchemaOK = false
			result.AddError(fmt.Sprintf("missing required block <%s>", required))
		}
	}

	result.SignatureFound = seen["Signature"]
	if !result.SignatureFound {
		if v.requireSignature {
			result.AddError("document carries no Signature element")
		} else {
			result.AddWarning("document carries no Signature element")
		}
	}

	return result, nil
}
