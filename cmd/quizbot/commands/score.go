package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Prokaee/CTM-Quizbot/internal/formula"
)

// NewScoreCmd constructs the `quizbot score` command, which evaluates one of
// the official scoring formulas and prints the result with its arithmetic
// trace.
func NewScoreCmd() *cobra.Command {
	var paramFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "score [formula]",
		Short: "Evaluate an official scoring formula",
		Long: `Evaluate one of the Formula Student scoring formulas.

Parameters are passed as repeatable --param name=value flags. Every formula
documents its required parameters; run 'quizbot formulas' to list them.
All scores are rounded to 2 decimal places, exactly as published.

Examples:
  quizbot score skidpad_score --param t_team=5.2 --param t_max=6.306
  quizbot score endurance_score --param t_team=1400 --param t_max=1933.9
  quizbot score efficiency_score --param e_team=4.1 --param e_min=3.2 \
    --param t_team_eff=1450 --param t_min_eff=1320 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make(map[string]float64, len(paramFlags))
			for _, p := range paramFlags {
				name, raw, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("score: malformed --param %q (expected name=value)", p)
				}
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("score: parameter %q is not a number: %q", name, raw)
				}
				params[name] = v
			}

			registry := formula.NewRegistry()
			result, err := registry.Evaluate(args[0], params)
			if err != nil {
				return fmt.Errorf("score: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			fmt.Printf("%s = %.2f points\n", result.FormulaName, result.Value)
			fmt.Printf("rule: %s (%s)\n", result.RuleReference, result.RuleVersion)
			fmt.Printf("calculation: %s\n", result.Explanation)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "Formula parameter as name=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")

	return cmd
}
