package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronoquery/chronoquery"
	"github.com/chronoquery/chronoquery/pkg/config"
	"github.com/chronoquery/chronoquery/pkg/logger"
	"github.com/chronoquery/chronoquery/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ChronoQuery HTTP server",
	Long: `Start the ChronoQuery HTTP server.

The server provides:
- POST /query for natural-language questions
- /health, /ready, and /live probes

Configuration can be provided through a config file, environment
variables, or command-line flags.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
	serveMode string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Server host")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Server port")
	serveCmd.Flags().StringVar(&serveMode, "mode", "release", "Server mode (debug, release, test)")

	serveCmd.Flags().String("event-store-dsn", "", "Postgres event store DSN")
	serveCmd.Flags().String("graph-uri", "", "Neo4j bolt URI")
	serveCmd.Flags().String("graph-username", "", "Neo4j username")
	serveCmd.Flags().String("graph-password", "", "Neo4j password")

	serveCmd.Flags().String("embedding-provider", "", "Embedding provider (openai, embedeverything)")
	serveCmd.Flags().String("embedding-model", "", "Embedding model")

	serveCmd.Flags().String("telemetry-parquet-path", "", "Directory for stage-timing parquet files")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)

	log := logger.NewDefaultLogger(parseLevel(cfg.Log.Level))

	engine, err := chronoquery.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	srv := server.New(cfg, engine, log)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := engine.Close(shutdownCtx); err != nil {
			log.Warn("engine close reported an error", "error", err)
		}
		log.Info("server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serveMode
	}
	if cmd.Flags().Changed("event-store-dsn") {
		cfg.EventStore.DSN, _ = cmd.Flags().GetString("event-store-dsn")
	}
	if cmd.Flags().Changed("graph-uri") {
		cfg.GraphStore.URI, _ = cmd.Flags().GetString("graph-uri")
	}
	if cmd.Flags().Changed("graph-username") {
		cfg.GraphStore.Username, _ = cmd.Flags().GetString("graph-username")
	}
	if cmd.Flags().Changed("graph-password") {
		cfg.GraphStore.Password, _ = cmd.Flags().GetString("graph-password")
	}
	if cmd.Flags().Changed("embedding-provider") {
		cfg.Embedding.Provider, _ = cmd.Flags().GetString("embedding-provider")
	}
	if cmd.Flags().Changed("embedding-model") {
		cfg.Embedding.Model, _ = cmd.Flags().GetString("embedding-model")
	}
	if cmd.Flags().Changed("telemetry-parquet-path") {
		cfg.Telemetry.ParquetPath, _ = cmd.Flags().GetString("telemetry-parquet-path")
		cfg.Telemetry.Enabled = cfg.Telemetry.ParquetPath != ""
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
