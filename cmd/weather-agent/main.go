package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/oleksandr-h/weather-agent/internal/app"
	"github.com/oleksandr-h/weather-agent/internal/config"
	"github.com/oleksandr-h/weather-agent/internal/queue"
	"github.com/oleksandr-h/weather-agent/pkg/logger"
)

// logSender stands in for the email transport collaborator: it records every
// fired job instead of sending mail. Swap it for a real sender at deployment.
type logSender struct {
	l zerolog.Logger
}

func (s logSender) Handle(_ context.Context, job queue.Job) error {
	s.l.Info().
		Str("scheduler_key", job.SchedulerKey).
		Str("city", job.Data.City).
		Str("recipient", job.Data.RecipientEmail).
		Time("fired_at", job.FiredAt).
		Msg("weather email job fired")
	return nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Panicf("failed to load configuration: %v", err)
	}

	l, err := logger.New(cfg.LogFilePath, "weather-agent")
	if err != nil {
		log.Panicf("failed to initialize logger: %v", err)
	}

	application := app.New(*cfg, l, logSender{l: l})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Panic(err)
	}
}
