package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Prokaee/CTM-Quizbot/internal/embedder"
	"github.com/Prokaee/CTM-Quizbot/internal/formula"
	"github.com/Prokaee/CTM-Quizbot/internal/logging"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
	"github.com/Prokaee/CTM-Quizbot/internal/server"
)

// NewServeCmd constructs the `quizbot serve` command, which starts the HTTP
// server exposing retrieval and formula evaluation as a REST API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the quizbot HTTP server",
		Long: `Start the quizbot HTTP server on localhost.

The server exposes rule retrieval (POST /api/query), formula evaluation
(POST /api/score), the formula catalogue (GET /api/formulas), health and
readiness probes, and Prometheus metrics on /metrics.

Set QUIZBOT_API_KEY to require Bearer authentication on the /api/* routes.

Examples:
  quizbot serve
  quizbot serve --port 9090
  QDRANT_HOST=qdrant.internal quizbot serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Flags win over env; env (including YAML-sourced values) fills
			// in when the flag was left at its default.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("QUIZBOT_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("QUIZBOT_PORT", port)
			}

			log.Info("serve starting",
				slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", embedder.BackendGemini)))

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}
			emb = embedder.WithRetry(emb, 0)

			archive := openArchive(log)
			if archive != nil {
				defer func() { _ = archive.Close() }()
			}

			vectors, err := buildVectorStore(ctx, archive, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = vectors.Close() }()

			retriever, err := rag.NewRetriever(emb, vectors, retrieverConfigFromEnv())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			var pingers []server.Pinger
			if p, ok := vectors.(server.Pinger); ok {
				pingers = append(pingers, p)
			}
			if archive != nil {
				pingers = append(pingers, archive)
			}

			srv, err := server.New(retriever, formula.NewRegistry(), prometheus.DefaultRegisterer, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				RateLimit: getEnvFloat("QUIZBOT_RATE_LIMIT", 0),
				RateBurst: getEnvInt("QUIZBOT_RATE_BURST", 0),
				APIKey:    os.Getenv("QUIZBOT_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
