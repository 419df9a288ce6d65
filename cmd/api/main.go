package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/scythe504/roulette-backend/internal/config"
	"github.com/scythe504/roulette-backend/internal/game"
	"github.com/scythe504/roulette-backend/internal/server"
	"github.com/scythe504/roulette-backend/internal/store"
)

func openStore(ctx context.Context, databaseURL string) (store.Store, error) {
	if databaseURL == "" {
		log.Println("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), nil
	}
	return store.NewPostgres(ctx, databaseURL)
}

func gracefulShutdown(srv *http.Server, engine *game.Engine, done chan<- struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Println("shutting down gracefully, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	engine.Stop(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")
	done <- struct{}{}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := openStore(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("cannot reach ledger store: %v", err)
	}
	defer st.Close()

	engine := game.NewEngine(cfg.Game, st)
	if err := engine.Start(context.Background()); err != nil {
		log.Fatalf("cannot start game engine: %v", err)
	}

	srv := server.NewServer(cfg.Port, engine)

	done := make(chan struct{}, 1)
	go gracefulShutdown(srv, engine, done)

	log.Printf("roulette server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}

	<-done
	log.Println("Graceful shutdown complete.")
}
