// Package commands defines all Cobra CLI commands for the quizbot binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/Prokaee/CTM-Quizbot/internal/audit"
	"github.com/Prokaee/CTM-Quizbot/internal/config"
	"github.com/Prokaee/CTM-Quizbot/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quizbot",
		Short: "Quizbot — Formula Student rules retrieval and scoring assistant",
		Long: `Quizbot is a question-answering core for Formula Student competition rules.

It indexes the FSA Competition Handbook and the FS-Rules document into a
vector store, answers rule questions with ranked handbook excerpts, and
evaluates the official dynamic and efficiency scoring formulas exactly as
the rulebook defines them.

Embedding provider is selected via the EMBEDDING_PROVIDER environment
variable or a YAML config file (~/.quizbot/config.yaml).
See 'quizbot --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.quizbot/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewScoreCmd(),
		NewFormulasCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
