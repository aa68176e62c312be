package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/playlobby/gamelobby/internal/config"
	"github.com/playlobby/gamelobby/internal/coordinator"
	"github.com/playlobby/gamelobby/internal/database"
	"github.com/playlobby/gamelobby/internal/lobby"
	"github.com/playlobby/gamelobby/internal/migrations"
	"github.com/playlobby/gamelobby/internal/server"
	"github.com/playlobby/gamelobby/internal/transport/ws"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Session store ---
	var (
		store lobby.Store
		db    *sql.DB
	)
	switch cfg.Backend {
	case "sqlite":
		db, err = database.Open(ctx, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("connecting to sqlite: %w", err)
		}
		defer db.Close()

		if err := migrations.Run(db); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("connected to sqlite", "path", cfg.DBPath)

		store = lobby.NewSQLStore(db)
	default:
		store = lobby.NewMemoryStore()
	}

	if err := store.Setup(ctx); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	logger.Info("session store ready", "backend", cfg.Backend)

	// --- Coordinator over websocket ---
	hub := ws.NewHub(logger)
	coord := coordinator.New(store, hub, logger)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, func(r chi.Router) {
		r.Get("/healthz", server.HandleHealth(logger, db))
		r.Get("/ws", hub.Handler(coord))
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
