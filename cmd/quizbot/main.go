// Command quizbot is the entry point for the Formula Student rules assistant.
// It provides a CLI interface (via Cobra) for rule retrieval, scoring formula
// evaluation, and document ingestion, plus an HTTP server exposing the same
// operations as a REST API.
package main

import (
	"fmt"
	"os"

	"github.com/Prokaee/CTM-Quizbot/cmd/quizbot/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
