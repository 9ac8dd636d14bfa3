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

	"github.com/libops/relocation/internal/config"
	"github.com/libops/relocation/internal/database"
	"github.com/libops/relocation/internal/logging"
	"github.com/libops/relocation/internal/server"
)

func main() {
	setupLogging()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application error", "err", err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := getLogLevel()

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	// Request and task ids ride on the context.
	contextHandler := logging.NewContextHandler(textHandler)

	slog.SetDefault(slog.New(contextHandler))
}

func getLogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type command string

const (
	commandServe command = "serve"
	// commandMigrate applies the relocation schema and exits, so a deploy
	// job can migrate before workers start claiming tasks.
	commandMigrate command = "migrate"
)

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return commandServe, nil
	}
	switch c := command(args[0]); c {
	case commandServe, commandMigrate:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q (want serve or migrate)", args[0])
}

func run(args []string) error {
	cmd, err := parseCommand(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cmd == commandMigrate {
		return migrate(cfg)
	}

	if budget, ok := pollBudget(cfg); !ok {
		slog.Warn("Validation polling gives up before the build timeout",
			"poll_budget", budget,
			"build_timeout", cfg.BuildTimeout)
	}

	reloader, err := config.NewReloader(cfg, config.NewVaultLoader())
	if err != nil {
		return err
	}

	srv, err := server.New(reloader)
	if err != nil {
		return err
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		// In-flight tasks get the same window as HTTP requests.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return srv.Shutdown(ctx)
	}
}

func migrate(cfg *config.Config) error {
	pool, err := database.NewPool(cfg.DatabaseURL, database.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(pool); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("Relocation schema migrated")
	return nil
}

// pollBudget is how long validating_poll keeps asking about one build. A
// budget shorter than the build timeout fails runs that would still have
// reported.
func pollBudget(cfg *config.Config) (time.Duration, bool) {
	budget := time.Duration(cfg.Pipeline.MaxValidationPollAttempts) * cfg.Pipeline.ValidationPollInterval
	return budget, budget >= cfg.BuildTimeout
}
