package formula

import (
	"fmt"
	"sort"
)

// Descriptor describes one registered formula: its identity, provenance,
// default points ceiling, and required parameters. Descriptors are immutable
// after registration.
type Descriptor struct {
	// Name is the registry lookup key (e.g. "skidpad_score").
	Name string `json:"name"`

	// Event is the human-readable event name (e.g. "Skidpad").
	Event string `json:"event"`

	// RuleReference is the rule clause the formula implements.
	RuleReference string `json:"rule_reference"`

	// RuleVersion is the rules document version the formula is from.
	RuleVersion string `json:"rule_version"`

	// MaxPoints is the default p_max ceiling, overridable per call via the
	// "p_max" parameter.
	MaxPoints float64 `json:"max_points"`

	// Required lists the parameter names every call must supply
	// ("p_max" is always optional and therefore not listed).
	Required []string `json:"required"`

	// eval computes the raw (unrounded) score and its explanation.
	eval func(p params, pMax float64) (float64, string, error)
}

// Evaluate runs the formula against the given parameters and returns a fresh
// [Result]. The input map is copied — it is never retained or mutated.
// Structural problems return an [*InvalidInputError]; out-of-range business
// inputs (e.g. a DNF time) return the defined floor score as a normal result.
func (d *Descriptor) Evaluate(in map[string]float64) (*Result, error) {
	p := make(params, len(in))
	for k, v := range in {
		p[k] = v
	}

	pMax, err := p.pMax(d.Name, d.MaxPoints)
	if err != nil {
		return nil, err
	}

	raw, explanation, err := d.eval(p, pMax)
	if err != nil {
		return nil, err
	}

	// Record the resolved ceiling so the audit trail is self-contained even
	// when the caller relied on the default.
	p["p_max"] = pMax

	return &Result{
		Value:         round2(raw),
		FormulaName:   d.Name,
		RuleReference: d.RuleReference,
		RuleVersion:   d.RuleVersion,
		Parameters:    p,
		Explanation:   explanation,
	}, nil
}

// Registry is a closed, static lookup table from formula name to evaluator.
// The evaluator set is fixed at construction time so the dispatch surface the
// reasoning layer can reach is fully enumerable and type-checked.
// A Registry is immutable after NewRegistry and safe for concurrent use.
type Registry struct {
	// byName maps formula name to its descriptor.
	byName map[string]*Descriptor
}

// NewRegistry constructs the registry with every formula in the library.
func NewRegistry() *Registry {
	descriptors := []*Descriptor{
		{
			Name:          "skidpad_score",
			Event:         "Skidpad",
			RuleReference: "D 4.3.3",
			RuleVersion:   VersionFSRules2025,
			MaxPoints:     75.0,
			Required:      []string{"t_team", "t_max"},
			eval:          evalSkidpad,
		},
		{
			Name:          "acceleration_score",
			Event:         "Acceleration",
			RuleReference: "D 4.2.3",
			RuleVersion:   VersionFSRules2025,
			MaxPoints:     75.0,
			Required:      []string{"t_team", "t_max"},
			eval:          evalAcceleration,
		},
		{
			Name:          "autocross_score",
			Event:         "Autocross",
			RuleReference: "D 5.1",
			RuleVersion:   VersionFSRules2025,
			MaxPoints:     100.0,
			Required:      []string{"t_team", "t_min"},
			eval:          evalTimeRatio("autocross_score"),
		},
		{
			Name:          "endurance_score",
			Event:         "Endurance",
			RuleReference: "D 6.3",
			RuleVersion:   VersionFSRules2025,
			MaxPoints:     250.0,
			Required:      []string{"t_team", "t_min"},
			eval:          evalTimeRatio("endurance_score"),
		},
		{
			Name:          "efficiency_score",
			Event:         "Efficiency",
			RuleReference: "D 7.1",
			RuleVersion:   VersionFSRules2025,
			MaxPoints:     100.0,
			Required:      []string{"e_team", "e_min", "t_team_eff", "t_min_eff"},
			eval:          evalEfficiency,
		},
		{
			Name:          "cost_score",
			Event:         "Cost",
			RuleReference: "D 3.1",
			RuleVersion:   VersionFSRules2025,
			MaxPoints:     100.0,
			Required:      []string{"cost_real", "cost_min"},
			eval:          evalCost,
		},
	}

	byName := make(map[string]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	return &Registry{byName: byName}
}

// Get returns the descriptor registered under name, or [ErrNotFound].
func (r *Registry) Get(name string) (*Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("formula %q: %w", name, ErrNotFound)
	}
	return d, nil
}

// List returns all descriptors sorted by name, for introspection and UI.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evaluate looks up name and evaluates it with the given parameters.
// This is the single entry point the external reasoning boundary calls.
func (r *Registry) Evaluate(name string, params map[string]float64) (*Result, error) {
	d, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return d.Evaluate(params)
}
