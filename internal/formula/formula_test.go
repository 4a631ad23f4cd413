package formula

import (
	"errors"
	"testing"
)

// evaluate is a test helper that evaluates name against the default registry
// and fails the test on error.
func evaluate(t *testing.T, name string, params map[string]float64) *Result {
	t.Helper()
	res, err := NewRegistry().Evaluate(name, params)
	if err != nil {
		t.Fatalf("evaluate %s: %v", name, err)
	}
	return res
}

// wantInvalidInput asserts that err is an *InvalidInputError.
func wantInvalidInput(t *testing.T, err error) *InvalidInputError {
	t.Helper()
	var inv *InvalidInputError
	if !errors.As(err, &inv) {
		t.Fatalf("want InvalidInputError, got %v", err)
	}
	return inv
}

func TestSkidpad_NormalScore(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "skidpad_score", map[string]float64{"t_team": 4.5, "t_max": 5.0})
	if res.Value != 33.46 {
		t.Errorf("skidpad(4.5, 5.0): want 33.46, got %v", res.Value)
	}
	if res.RuleReference != "D 4.3.3" {
		t.Errorf("rule reference: want D 4.3.3, got %s", res.RuleReference)
	}
}

func TestSkidpad_FloorWhenOverMaxTime(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "skidpad_score", map[string]float64{"t_team": 6.0, "t_max": 5.0})
	if res.Value != 3.75 { // 0.05 * 75
		t.Errorf("over-time skidpad: want 3.75, got %v", res.Value)
	}
}

func TestSkidpad_ScoreRange(t *testing.T) {
	t.Parallel()

	// For every t_team <= t_max the score must lie in [0.05*p_max, p_max]
	// given t_max within the regular spread (t_max <= 1.25 * t_min).
	for _, tTeam := range []float64{4.0, 4.2, 4.5, 4.8, 5.0} {
		res := evaluate(t, "skidpad_score", map[string]float64{"t_team": tTeam, "t_max": 5.0})
		if res.Value < 3.75 || res.Value > 75.0 {
			t.Errorf("skidpad(%v, 5.0) = %v out of [3.75, 75.0]", tTeam, res.Value)
		}
	}
}

func TestSkidpad_NonPositiveTimeRejected(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Evaluate("skidpad_score", map[string]float64{"t_team": -1.0, "t_max": 5.0})
	wantInvalidInput(t, err)
}

func TestAcceleration_NormalScore(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "acceleration_score", map[string]float64{"t_team": 4.0, "t_max": 4.5})
	if res.Value != 30.47 {
		t.Errorf("acceleration(4.0, 4.5): want 30.47, got %v", res.Value)
	}
}

func TestAcceleration_FloorWhenOverMaxTime(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "acceleration_score", map[string]float64{"t_team": 5.0, "t_max": 4.5})
	if res.Value != 3.75 {
		t.Errorf("over-time acceleration: want 3.75, got %v", res.Value)
	}
}

func TestAutocross_NormalScore(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "autocross_score", map[string]float64{"t_team": 80.0, "t_min": 75.0})
	if res.Value != 93.75 {
		t.Errorf("autocross(80, 75): want 93.75, got %v", res.Value)
	}
}

func TestAutocross_UncappedAbovePMax(t *testing.T) {
	t.Parallel()

	// A team faster than the declared minimum scores above p_max — the rules
	// text defines no cap and none is added here.
	res := evaluate(t, "autocross_score", map[string]float64{"t_team": 70.0, "t_min": 75.0})
	if res.Value != 107.14 {
		t.Errorf("autocross(70, 75): want 107.14, got %v", res.Value)
	}
}

func TestAutocross_ZeroMinTimeRejected(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Evaluate("autocross_score", map[string]float64{"t_team": 80.0, "t_min": 0})
	wantInvalidInput(t, err)
}

func TestEndurance_NormalScore(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "endurance_score", map[string]float64{"t_team": 1400.0, "t_min": 1300.0})
	if res.Value != 232.14 { // 250 * 1300/1400
		t.Errorf("endurance(1400, 1300): want 232.14, got %v", res.Value)
	}
}

func TestEndurance_ZeroMinTimeRejected(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Evaluate("endurance_score", map[string]float64{"t_team": 1400.0, "t_min": 0})
	wantInvalidInput(t, err)
}

func TestEfficiency_NormalScore(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "efficiency_score", map[string]float64{
		"e_team": 10, "e_min": 8, "t_team_eff": 60, "t_min_eff": 55,
	})
	if res.Value != 73.33 { // min(0.8 * 0.9167, 1.0) * 100
		t.Errorf("efficiency: want 73.33, got %v", res.Value)
	}
}

func TestEfficiency_CapAtPMax(t *testing.T) {
	t.Parallel()

	// Ratio product above 1.0 must be capped so the score is exactly p_max.
	res := evaluate(t, "efficiency_score", map[string]float64{
		"e_team": 8, "e_min": 10, "t_team_eff": 50, "t_min_eff": 55,
	})
	if res.Value != 100.0 {
		t.Errorf("capped efficiency: want 100.0, got %v", res.Value)
	}
}

func TestEfficiency_ZeroDenominatorsRejected(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	_, err := reg.Evaluate("efficiency_score", map[string]float64{
		"e_team": 0, "e_min": 8, "t_team_eff": 60, "t_min_eff": 55,
	})
	wantInvalidInput(t, err)

	_, err = reg.Evaluate("efficiency_score", map[string]float64{
		"e_team": 10, "e_min": 8, "t_team_eff": 0, "t_min_eff": 55,
	})
	wantInvalidInput(t, err)
}

func TestCost_NormalScore(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "cost_score", map[string]float64{"cost_real": 20000, "cost_min": 15000})
	if res.Value != 75.0 {
		t.Errorf("cost(20000, 15000): want 75.0, got %v", res.Value)
	}
}

func TestEvaluate_MissingParameterRejected(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Evaluate("skidpad_score", map[string]float64{"t_team": 4.5})
	inv := wantInvalidInput(t, err)
	if inv.Formula != "skidpad_score" {
		t.Errorf("error formula: want skidpad_score, got %s", inv.Formula)
	}
}

func TestEvaluate_NonFiniteParameterRejected(t *testing.T) {
	t.Parallel()

	nan := 0.0
	nan = nan / nan
	_, err := NewRegistry().Evaluate("autocross_score", map[string]float64{"t_team": nan, "t_min": 75})
	wantInvalidInput(t, err)
}

func TestEvaluate_Idempotent(t *testing.T) {
	t.Parallel()

	params := map[string]float64{"t_team": 4.5, "t_max": 5.0}
	first := evaluate(t, "skidpad_score", params)
	for range 10 {
		again := evaluate(t, "skidpad_score", params)
		if again.Value != first.Value {
			t.Fatalf("non-deterministic value: %v vs %v", again.Value, first.Value)
		}
		if again.Explanation != first.Explanation {
			t.Fatalf("non-deterministic explanation")
		}
	}
}

func TestEvaluate_ParametersAreCopied(t *testing.T) {
	t.Parallel()

	params := map[string]float64{"t_team": 80.0, "t_min": 75.0}
	res := evaluate(t, "autocross_score", params)

	params["t_team"] = 999 // caller mutation must not leak into the result
	if res.Parameters["t_team"] != 80.0 {
		t.Errorf("result parameters aliased caller map: got %v", res.Parameters["t_team"])
	}
	if res.Parameters["p_max"] != 100.0 {
		t.Errorf("resolved p_max missing from parameters: got %v", res.Parameters["p_max"])
	}
}

func TestEvaluate_PMaxOverride(t *testing.T) {
	t.Parallel()

	res := evaluate(t, "autocross_score", map[string]float64{"t_team": 80.0, "t_min": 75.0, "p_max": 50.0})
	if res.Value != 46.88 { // 50 * 75/80
		t.Errorf("overridden p_max: want 46.88, got %v", res.Value)
	}
}

func TestRegistry_GetUnknownFormula(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Get("lap_time_score")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	t.Parallel()

	list := NewRegistry().List()
	if len(list) != 6 {
		t.Fatalf("want 6 formulas, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name >= list[i].Name {
			t.Errorf("list not sorted at %d: %s >= %s", i, list[i-1].Name, list[i].Name)
		}
	}
}
