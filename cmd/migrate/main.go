package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/better-wallet/custody/internal/logger"
	"github.com/better-wallet/custody/internal/storage"
	"github.com/better-wallet/custody/migrations"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading POSTGRES_DSN")
	direction := flag.String("direction", migrations.DirectionUp, "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	dsn := flag.String("dsn", "", "PostgreSQL connection string (default $POSTGRES_DSN)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "file", *envFile, "error", err)
		os.Exit(1)
	}
	if *dsn == "" {
		*dsn = os.Getenv("POSTGRES_DSN")
	}
	if *dsn == "" {
		slog.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, *dsn)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ran, err := migrations.Run(ctx, store.DB(), *direction, *steps)
	for _, version := range ran {
		slog.Info("applied migration", "version", version, "direction", *direction)
	}
	if err != nil {
		slog.Error("migration failed", "error", err)
		store.Close()
		os.Exit(1)
	}

	if len(ran) == 0 {
		slog.Info("no migrations to apply")
		return
	}
	slog.Info("migrations complete", "count", len(ran))
}
