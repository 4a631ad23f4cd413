package formula

import "fmt"

// floorFraction is the share of p_max awarded when a team's time exceeds the
// event maximum (DNF credit) in Skidpad and Acceleration.
const floorFraction = 0.05

// evalSkidpad scores the Skidpad event per FS Rules D 4.3.3.
//
//	t_team > t_max:  score = 0.05 * p_max
//	otherwise:       score = 0.95 * p_max * ((t_max/t_team)^2 - 1) / 0.5625 + 0.05 * p_max
func evalSkidpad(p params, pMax float64) (float64, string, error) {
	tTeam, err := p.get("skidpad_score", "t_team")
	if err != nil {
		return 0, "", err
	}
	tMax, err := p.get("skidpad_score", "t_max")
	if err != nil {
		return 0, "", err
	}
	if tTeam <= 0 {
		return 0, "", &InvalidInputError{Formula: "skidpad_score", Reason: "t_team must be positive"}
	}

	if tTeam > tMax {
		score := floorFraction * pMax
		return score, fmt.Sprintf("team exceeded max time (%gs > %gs), minimum score %.2f applied", tTeam, tMax, score), nil
	}

	ratio := (tMax/tTeam)*(tMax/tTeam) - 1
	score := 0.95*pMax*(ratio/0.5625) + floorFraction*pMax
	expl := fmt.Sprintf("score = 0.95 * %g * ((%g/%g)^2 - 1) / 0.5625 + 0.05 * %g = %.2f points",
		pMax, tMax, tTeam, pMax, round2(score))
	return score, expl, nil
}

// evalAcceleration scores the Acceleration event per FS Rules D 4.2.3.
//
//	t_team > t_max:  score = 0.05 * p_max
//	otherwise:       score = 0.95 * p_max * ((t_max/t_team) - 1) / 0.3333 + 0.05 * p_max
func evalAcceleration(p params, pMax float64) (float64, string, error) {
	tTeam, err := p.get("acceleration_score", "t_team")
	if err != nil {
		return 0, "", err
	}
	tMax, err := p.get("acceleration_score", "t_max")
	if err != nil {
		return 0, "", err
	}
	if tTeam <= 0 {
		return 0, "", &InvalidInputError{Formula: "acceleration_score", Reason: "t_team must be positive"}
	}

	if tTeam > tMax {
		score := floorFraction * pMax
		return score, fmt.Sprintf("team exceeded max time (%gs > %gs), minimum score %.2f applied", tTeam, tMax, score), nil
	}

	ratio := tMax/tTeam - 1
	score := 0.95*pMax*(ratio/0.3333) + floorFraction*pMax
	expl := fmt.Sprintf("score = 0.95 * %g * ((%g/%g) - 1) / 0.3333 + 0.05 * %g = %.2f points",
		pMax, tMax, tTeam, pMax, round2(score))
	return score, expl, nil
}

// evalTimeRatio scores the Autocross (D 5.1) and Endurance (D 6.3) events,
// which share the same shape:
//
//	score = p_max * (t_min / t_team)
//
// No cap at p_max is applied for t_team < t_min — the rules text does not
// define one, so a time faster than the declared minimum scores above p_max.
func evalTimeRatio(name string) func(params, float64) (float64, string, error) {
	return func(p params, pMax float64) (float64, string, error) {
		tTeam, err := p.get(name, "t_team")
		if err != nil {
			return 0, "", err
		}
		tMin, err := p.get(name, "t_min")
		if err != nil {
			return 0, "", err
		}
		if tTeam <= 0 {
			return 0, "", &InvalidInputError{Formula: name, Reason: "t_team must be positive"}
		}
		if tMin == 0 {
			return 0, "", &InvalidInputError{Formula: name, Reason: "t_min is zero: the score is a ratio against the minimum time"}
		}

		score := pMax * (tMin / tTeam)
		expl := fmt.Sprintf("score = %g * (%g/%g) = %.2f points", pMax, tMin, tTeam, round2(score))
		return score, expl, nil
	}
}

// evalEfficiency scores the Efficiency event per FS Rules D 7.1.
//
//	factor = (e_min / e_team) * (t_min_eff / t_team_eff)
//	score  = p_max * min(factor, 1.0)
//
// The explicit cap at 1.0 guarantees the score never exceeds p_max.
func evalEfficiency(p params, pMax float64) (float64, string, error) {
	eTeam, err := p.get("efficiency_score", "e_team")
	if err != nil {
		return 0, "", err
	}
	eMin, err := p.get("efficiency_score", "e_min")
	if err != nil {
		return 0, "", err
	}
	tTeam, err := p.get("efficiency_score", "t_team_eff")
	if err != nil {
		return 0, "", err
	}
	tMin, err := p.get("efficiency_score", "t_min_eff")
	if err != nil {
		return 0, "", err
	}
	if eTeam <= 0 {
		return 0, "", &InvalidInputError{Formula: "efficiency_score", Reason: "e_team must be positive"}
	}
	if tTeam <= 0 {
		return 0, "", &InvalidInputError{Formula: "efficiency_score", Reason: "t_team_eff must be positive"}
	}

	factor := (eMin / eTeam) * (tMin / tTeam)
	capped := factor
	if capped > 1.0 {
		capped = 1.0
	}
	score := pMax * capped
	expl := fmt.Sprintf("efficiency factor = (%g/%g) * (%g/%g) = %.4f; score = %g * %.4f = %.2f points",
		eMin, eTeam, tMin, tTeam, factor, pMax, capped, round2(score))
	return score, expl, nil
}

// evalCost scores the Cost event per FS Rules D 3.1, in the simplified form
// the rules publish for the cost-versus-cheapest component:
//
//	score = p_max * (cost_min / cost_real)
//
// Full cost scoring also includes manufacturing judging, which is outside
// this library.
func evalCost(p params, pMax float64) (float64, string, error) {
	costReal, err := p.get("cost_score", "cost_real")
	if err != nil {
		return 0, "", err
	}
	costMin, err := p.get("cost_score", "cost_min")
	if err != nil {
		return 0, "", err
	}
	if costReal <= 0 {
		return 0, "", &InvalidInputError{Formula: "cost_score", Reason: "cost_real must be positive"}
	}
	if costMin == 0 {
		return 0, "", &InvalidInputError{Formula: "cost_score", Reason: "cost_min is zero: the score is a ratio against the minimum cost"}
	}

	score := pMax * (costMin / costReal)
	expl := fmt.Sprintf("score = %g * (%g/%g) = %.2f points", pMax, costMin, costReal, round2(score))
	return score, expl, nil
}
