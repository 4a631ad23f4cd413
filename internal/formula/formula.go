// Package formula implements the Formula Student scoring library: a closed
// registry of pure, deterministic evaluators for dynamic and static event
// scores. Every numeric answer the quiz bot gives comes from this package —
// the reasoning layer is never allowed to do arithmetic itself, so each
// evaluator here is referentially transparent and auditable.
//
// Evaluators distinguish two failure modes. Legitimate no-credit outcomes
// (a time over the threshold) produce the defined floor score as an ordinary
// result. Structurally broken input (missing parameter, non-finite value, an
// undefined denominator) is rejected with an [InvalidInputError].
package formula

import (
	"errors"
	"fmt"
	"math"
)

// Rule document versions the formulas are transcribed from.
const (
	// VersionFSRules2025 identifies FS Rules 2025 v1.1, the source of all
	// dynamic event formulas.
	VersionFSRules2025 = "FS Rules 2025 v1.1"
	// VersionFSAHandbook2025 identifies FSA Competition Handbook 2025 v1.3.0.
	VersionFSAHandbook2025 = "FSA Handbook 2025 v1.3.0"
)

// ErrNotFound is returned by [Registry.Get] and [Registry.Evaluate] when the
// requested formula name is not registered.
var ErrNotFound = errors.New("formula not found")

// InvalidInputError reports structurally invalid evaluator input: a missing
// required parameter, a non-finite value, or a mathematically undefined
// denominator. Business outcomes such as exceeding the maximum time are not
// errors and never produce this type.
type InvalidInputError struct {
	// Formula is the name of the formula that rejected the input.
	Formula string
	// Reason is a human-readable description of what was wrong.
	Reason string
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("formula %s: invalid input: %s", e.Formula, e.Reason)
}

// Result is the outcome of a single formula evaluation. It is created fresh
// per call, never mutated afterwards, and safe to serialize for audit logs.
type Result struct {
	// Value is the computed score, rounded to 2 decimal places.
	Value float64 `json:"value"`

	// FormulaName is the registry identifier of the formula that produced
	// this result.
	FormulaName string `json:"formula_name"`

	// RuleReference is the rule clause the formula is transcribed from
	// (e.g. "D 4.3.3").
	RuleReference string `json:"rule_reference"`

	// RuleVersion is the rules document version the formula is from.
	RuleVersion string `json:"rule_version"`

	// Parameters is the exact input set used, including the resolved p_max.
	// It is a private copy — callers can mutate their own map freely.
	Parameters map[string]float64 `json:"parameters"`

	// Explanation is a rendered arithmetic trace of the calculation,
	// built from the numbers themselves so it is as deterministic as Value.
	Explanation string `json:"explanation"`
}

// round2 rounds v to 2 decimal places. All published scores use this
// canonical rounding so repeated evaluations are bit-identical.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// params is a validated view over the caller's parameter map.
type params map[string]float64

// get returns the named parameter, or an InvalidInputError if it is missing
// or not a finite number.
func (p params) get(formula, name string) (float64, error) {
	v, ok := p[name]
	if !ok {
		return 0, &InvalidInputError{Formula: formula, Reason: fmt.Sprintf("missing required parameter %q", name)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &InvalidInputError{Formula: formula, Reason: fmt.Sprintf("parameter %q is not a finite number", name)}
	}
	return v, nil
}

// pMax resolves the points ceiling: an explicit finite "p_max" parameter
// overrides the descriptor default.
func (p params) pMax(formula string, fallback float64) (float64, error) {
	v, ok := p["p_max"]
	if !ok {
		return fallback, nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &InvalidInputError{Formula: formula, Reason: `parameter "p_max" is not a finite number`}
	}
	return v, nil
}
