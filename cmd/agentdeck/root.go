package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/agentdeck/internal/config"
	"github.com/ashureev/agentdeck/internal/events"
	"github.com/ashureev/agentdeck/internal/guard"
	"github.com/ashureev/agentdeck/internal/ingest"
	"github.com/ashureev/agentdeck/internal/lifecycle"
	"github.com/ashureev/agentdeck/internal/proc"
	"github.com/ashureev/agentdeck/internal/store"
	"github.com/ashureev/agentdeck/internal/tools"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentdeck",
		Short:         "Session and panel orchestration engine for coding-agent CLIs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the engine and its background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine()
		},
	}
}

func runEngine() error {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// One engine per data directory: tool processes and the SQLite database
	// must have a single owner.
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another instance is already running on %s", cfg.DataDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Error("Failed to release instance lock", "error", err)
		}
	}()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	bus := events.NewBus()
	defer bus.Close()
	locks := guard.NewKeyedMutex()
	tracker := guard.NewScriptTracker()
	supervisor := proc.NewSupervisor(logger)
	pipeline := ingest.NewPipeline(repo, bus, locks, cfg.CaptureLines, logger)

	var svc *lifecycle.Service
	deps := tools.Deps{
		Supervisor: supervisor,
		Ingest:     pipeline,
		Log:        logger,
		OnExit: func(sessionID, panelID string, exitErr error, lastStderr string) {
			svc.HandleProcessExit(sessionID, panelID, exitErr, lastStderr)
		},
	}
	registry := tools.NewDefaultRegistry(deps)
	svc = lifecycle.NewService(repo, bus, locks, registry, logger)
	scripts := tools.NewScriptRunner(deps, tracker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go svc.Run(ctx)

	slog.Info("Engine started", "version", version, "data_dir", cfg.DataDir, "default_tool", cfg.DefaultTool)
	<-ctx.Done()

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ScriptShutdown)
	defer cancel()
	if err := scripts.Stop(shutdownCtx); err != nil {
		slog.Warn("Script shutdown incomplete", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
