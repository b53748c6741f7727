package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/tracebridge/internal/adapters/langfuse"
	adapterotel "github.com/emiliopalmerini/tracebridge/internal/adapters/otel"
	"github.com/emiliopalmerini/tracebridge/internal/app"
	"github.com/emiliopalmerini/tracebridge/internal/logger"
	"github.com/emiliopalmerini/tracebridge/internal/otel"
	"github.com/emiliopalmerini/tracebridge/internal/ports"
	"github.com/emiliopalmerini/tracebridge/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OTLP receiver",
	Long: `Start the OTLP HTTP receiver and run until interrupted.

Examples:
  tracebridge serve                        # Listen on default port 4318
  OTLP_RECEIVER_PORT=5318 tracebridge serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// Optional; the environment wins over .env values already set.
	_ = godotenv.Load()

	cfg, err := app.New()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logger.New(cfg.LogLevel)

	var sink ports.ObservationSink
	var sinkClient *langfuse.Client
	if cfg.LangfuseConfigured() {
		sinkClient = langfuse.NewClient(langfuse.Config{
			Host:      cfg.LangfuseHost,
			PublicKey: cfg.LangfusePublicKey,
			SecretKey: cfg.LangfuseSecretKey,
		}, log)
		sink = sinkClient
	} else {
		log.Warn().Msg("Langfuse credentials not configured, entities will be discarded")
		sink = langfuse.NewNoOpSink()
	}

	var telemetry ports.BridgeTelemetry
	exporter, err := adapterotel.NewExporter(cmd.Context(), cfg.OTel)
	if err != nil {
		log.Debug().Err(err).Msg("bridge metrics export disabled")
		telemetry = adapterotel.NewNoOpExporter()
	} else {
		telemetry = exporter
	}

	registry := session.NewRegistry(sink, telemetry, cfg.SessionTimeout(), log)
	receiver := otel.NewReceiver(registry, log)
	server := otel.NewServer(receiver, registry, telemetry, cfg.Port, cfg.MaxRequestSize, cfg.APIKey, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down")
		cancel()
	}()

	go registry.Run(ctx, cfg.SweepInterval)

	err = server.Start(ctx)

	// Finalize whatever is left and give the sink a bounded window to drain.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.FlushTimeout)
	defer flushCancel()
	if shutdownErr := registry.Shutdown(flushCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("shutdown flush incomplete")
	}
	if sinkClient != nil {
		_ = sinkClient.Close(flushCtx)
	}
	_ = telemetry.Close(flushCtx)

	return err
}
