package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/bragi_autodj/internal/config"
	"github.com/friendsincode/bragi_autodj/internal/db"
	"github.com/friendsincode/bragi_autodj/internal/logging"
	"github.com/friendsincode/bragi_autodj/internal/server"
	"github.com/friendsincode/bragi_autodj/internal/telemetry"
	"github.com/friendsincode/bragi_autodj/internal/ytdl"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bragiautodj",
	Short: "Bragi AutoDJ - Track acquisition and autoplay selection engine",
	Long:  "Bragi AutoDJ keeps a shared listening session supplied with music: weighted autoplay selection, deduplicated downloads, and a self-maintaining local audio cache.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AutoDJ engine",
	Long:  "Start the selection and acquisition engine with its background refresh loops and ops endpoint",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations and exit",
	RunE:  runMigrate,
}

var updateToolCmd = &cobra.Command{
	Use:   "update-tool",
	Short: "Update the yt-dlp binary and exit",
	RunE:  runUpdateTool,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(updateToolCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("Bragi AutoDJ starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "bragi-autodj",
		ServiceVersion: "0.0.1-alpha",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	if err := os.MkdirAll(cfg.MediaRoot, 0o755); err != nil {
		return fmt.Errorf("create media root: %w", err)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info().Msg("shutting down gracefully...")
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Bragi AutoDJ stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("close database")
		}
	}()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Msg("migrations applied")
	return nil
}

func runUpdateTool(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	client := ytdl.NewClient(cfg.YoutubeProxy, logger)
	if err := client.Heal(cmd.Context()); err != nil {
		return fmt.Errorf("update tool: %w", err)
	}

	logger.Info().Msg("yt-dlp updated")
	return nil
}
