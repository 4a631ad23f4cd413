package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Prokaee/CTM-Quizbot/internal/formula"
)

// NewFormulasCmd constructs the `quizbot formulas` command, which lists every
// registered scoring formula with its rule reference and required parameters.
func NewFormulasCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "formulas",
		Short: "List the available scoring formulas",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := formula.NewRegistry()
			descriptors := registry.List()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(descriptors)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEVENT\tRULE\tMAX\tREQUIRED PARAMETERS")
			for _, d := range descriptors {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\n",
					d.Name, d.Event, d.RuleReference, d.MaxPoints,
					strings.Join(d.Required, ", "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the formula list as JSON")

	return cmd
}
