package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Prokaee/CTM-Quizbot/internal/embedder"
	"github.com/Prokaee/CTM-Quizbot/internal/logging"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

// NewAskCmd constructs the `quizbot ask` command, which retrieves the rule
// sections most relevant to a natural language question and prints them.
func NewAskCmd() *cobra.Command {
	var topK int
	var source string
	var ruleID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Retrieve the rule sections relevant to a question",
		Long: `Ask a natural language question about the Formula Student rules.

The question is embedded and matched against the indexed handbook and rules
chunks. Handbook sections rank above FS-Rules sections at equal similarity,
and questions citing an exact rule number (e.g. "D 4.3.3") boost chunks for
that rule.

Examples:
  quizbot ask "how is the skidpad event scored?"
  quizbot ask --source rules "what is the minimum ground clearance?"
  quizbot ask --rule D4.3.3`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if ruleID == "" && len(args) == 0 {
				return fmt.Errorf("ask: a question or --rule is required")
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise embedder: %w", err)
			}
			emb = embedder.WithRetry(emb, 0)

			archive := openArchive(log)
			if archive != nil {
				defer func() { _ = archive.Close() }()
			}

			vectors, err := buildVectorStore(ctx, archive, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = vectors.Close() }()

			retriever, err := rag.NewRetriever(emb, vectors, retrieverConfigFromEnv())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			var hits []rag.ScoredChunk
			if ruleID != "" {
				hits, err = retriever.RetrieveByRuleID(ctx, ruleID)
			} else {
				var filter *rag.Source
				if source != "" {
					s := rag.Source(source)
					if !s.Valid() {
						return fmt.Errorf("ask: unknown source %q (valid: handbook, rules)", source)
					}
					filter = &s
				}
				hits, err = retriever.Retrieve(ctx, strings.Join(args, " "), topK, filter)
			}
			if err != nil {
				return fmt.Errorf("ask: retrieval failed: %w", err)
			}

			fmt.Fprintln(os.Stdout, rag.FormatContext(hits))
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to return (default: 5)")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Restrict retrieval to one document (handbook, rules)")
	cmd.Flags().StringVarP(&ruleID, "rule", "r", "", "Look up a specific rule id (e.g. D4.3.3) instead of a free-text question")

	return cmd
}
