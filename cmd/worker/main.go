package main

// Periodic maintenance: expiration sweep and reminder dispatch.
//   go run ./cmd/worker

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"esign-backend/internal/bootstrap"
	"esign-backend/internal/shared/config"
	"esign-backend/internal/worker"
)

const defaultSweepInterval = time.Minute

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	interval := envDuration("SWEEP_INTERVAL", defaultSweepInterval)
	sweeper := worker.NewSweeper(app.EnvelopeService, app.Queue, interval)

	log.Printf("worker started interval=%s", interval)
	sweeper.Run(ctx)
	log.Printf("worker stopped")
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return val
}
