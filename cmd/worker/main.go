// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/app"
	"github.com/unclebandit/promopal-backend/internal/config"
	"github.com/unclebandit/promopal-backend/internal/db"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/queue"
)

func main() {
	cfg, foundEnv, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).Named("worker")
	defer func() { _ = log.Sync() }()
	if !foundEnv {
		log.Warn("no .env file found, relying on OS environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("worker stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	broker, err := queue.DialAMQP(cfg.RabbitURL, log.Named("amqp"))
	if err != nil {
		return err
	}
	defer broker.Close()

	// Handlers may enqueue follow-up jobs, so the graph publishes back to
	// the same broker.
	a, err := app.New(ctx, cfg, log, conn, broker)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Worker().Register(broker); err != nil {
		return err
	}
	log.Info("worker running, waiting for jobs",
		zap.Strings("topics", []string{queue.TopicIntegrationSync, queue.TopicAutoCampaigns}))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case amqpErr, ok := <-broker.NotifyClose():
		if !ok || amqpErr == nil {
			return errors.New("rabbitmq connection closed")
		}
		return fmt.Errorf("rabbitmq connection lost: %w", amqpErr)
	}
}
