// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/app"
	"github.com/unclebandit/promopal-backend/internal/config"
	"github.com/unclebandit/promopal-backend/internal/controller"
	"github.com/unclebandit/promopal-backend/internal/db"
	"github.com/unclebandit/promopal-backend/internal/handler"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/queue"
	"github.com/unclebandit/promopal-backend/internal/ratelimit"
)

func main() {
	cfg, foundEnv, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()
	if !foundEnv {
		log.Warn("no .env file found, relying on OS environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.MigrationsOnStart {
		if err := db.Migrate(conn, log); err != nil {
			return err
		}
	}

	// Jobs go to RabbitMQ for cmd/worker. Outside production a missing
	// broker falls back to an in-process queue served by this binary.
	var q queue.Queue
	var local *queue.InMemoryQueue
	broker, err := queue.DialAMQP(cfg.RabbitURL, log.Named("amqp"))
	switch {
	case err == nil:
		defer broker.Close()
		q = broker
	case cfg.IsProduction():
		return err
	default:
		log.Warn("rabbitmq unavailable, running jobs in-process", zap.Error(err))
		local = queue.NewInMemoryQueue(log.Named("queue"))
		q = local
	}

	a, err := app.New(ctx, cfg, log, conn, q)
	if err != nil {
		return err
	}
	defer a.Close()

	if local != nil {
		if err := a.Worker().Register(local); err != nil {
			return err
		}
		defer local.Wait()
	}

	limiter := ratelimit.New(cfg.AuthRatePerSec, cfg.AuthRateBurst, cfg.TrustedProxyList())
	go limiter.Run(ctx)

	s := a.Services
	router := handler.NewRouter(handler.Routes{
		Log:       log,
		JWT:       a.JWT,
		RateLimit: limiter.Middleware,
		Auth:      &controller.AuthController{AuthService: s.Auth},
		Campaigns: &controller.CampaignController{CampaignService: s.Campaigns},
		Clients:   &controller.ClientController{ClientService: s.Clients},
		Integration: &controller.IntegrationController{
			IntegrationService: s.Integrations,
			Queue:              q,
		},
		Auto: &controller.AutoCampaignController{
			AutoCampaignService: s.AutoCampaigns,
			Queue:               q,
		},
		Business: &controller.BusinessController{
			Profiles:     s.Profiles,
			Overview:     s.Overview,
			Appointments: s.Appointments,
		},
		OAuth:    &handler.OAuthHandler{Integrations: s.Integrations, FrontendURL: cfg.FrontendURL},
		Webhooks: &handler.WebhookHandler{Appointments: s.Appointments},
		Health:   &handler.HealthHandler{DB: conn},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
