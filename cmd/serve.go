package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quiverhq/quiver/db"
	"github.com/quiverhq/quiver/internal/api"
	"github.com/quiverhq/quiver/internal/app"
	"github.com/quiverhq/quiver/internal/config"
	"github.com/quiverhq/quiver/internal/log"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false,
		"apply pending database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

// runServe wires the application and serves HTTP until SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: cfg.LogJSON})
	logger.Info("starting quiver", "version", Version)

	if serveMigrate {
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	a.Start(ctx)

	srv, err := api.NewServer(ctx, api.ServerConfig{
		Logger:       logger,
		Registry:     a.Registry,
		Documents:    a.Documents,
		CleanupStore: a.CleanupStore,
		Executor:     a.Executor,
		Pipeline:     a.Pipeline,
		WorkerPool:   a.Workers,
		Engine:       a.Engine,
		Metrics:      a.Metrics,
		VectorStore:  a.Vectors,
		Pool:         a.Pool,
		MaxBodyBytes: cfg.MaxDocumentBytes,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := srv.Run(ctx, cfg.HTTPAddr, logger); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	logger.Info("server shut down gracefully")
	return nil
}
