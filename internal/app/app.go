// Package app wires configuration into repositories, providers and services.
// The server and the worker build the same graph.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/auth"
	"github.com/unclebandit/promopal-backend/internal/config"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/gemini"
	"github.com/unclebandit/promopal-backend/internal/provider/gmail"
	"github.com/unclebandit/promopal-backend/internal/provider/square"
	"github.com/unclebandit/promopal-backend/internal/queue"
	"github.com/unclebandit/promopal-backend/internal/repository"
	"github.com/unclebandit/promopal-backend/internal/segment"
	"github.com/unclebandit/promopal-backend/internal/service"
	"github.com/unclebandit/promopal-backend/internal/token"
)

type Repositories struct {
	Users        *repository.UserRepository
	Campaigns    *repository.CampaignRepository
	Clients      *repository.ClientRepository
	Recipients   *repository.RecipientRepository
	Appointments *repository.AppointmentRepository
	Integrations *repository.IntegrationRepository
	Profiles     *repository.ProfileRepository
}

type Services struct {
	Auth          *service.AuthService
	Campaigns     *service.CampaignService
	AutoCampaigns *service.AutoCampaignService
	Clients       *service.ClientService
	Integrations  *service.IntegrationService
	Appointments  *service.AppointmentService
	Profiles      *service.ProfileService
	Overview      *service.OverviewService
}

type App struct {
	Config   *config.Config
	Log      *zap.Logger
	DB       *sql.DB
	Redis    *redis.Client
	JWT      *auth.JWTService
	Repos    Repositories
	Services Services
}

// New builds the dependency graph. q may be nil, in which case jobs that
// would be enqueued are skipped.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, conn *sql.DB, q queue.Queue) (*App, error) {
	a := &App{
		Config: cfg,
		Log:    log,
		DB:     conn,
		JWT:    auth.NewJWTService(cfg.JWTSecret, cfg.JWTTTL()),
	}

	a.Repos = Repositories{
		Users:        &repository.UserRepository{DB: conn},
		Campaigns:    &repository.CampaignRepository{DB: conn},
		Clients:      &repository.ClientRepository{DB: conn},
		Recipients:   &repository.RecipientRepository{DB: conn},
		Appointments: &repository.AppointmentRepository{DB: conn},
		Integrations: &repository.IntegrationRepository{DB: conn},
		Profiles:     &repository.ProfileRepository{DB: conn},
	}

	timeout := cfg.ExternalCallTimeout()
	mail := gmail.New(gmail.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		DefaultFrom:  cfg.DefaultFrom,
		Timeout:      timeout,
	})
	scheduling := square.New(square.Config{
		ClientID:     cfg.SquareClientID,
		ClientSecret: cfg.SquareClientSecret,
		RedirectURL:  cfg.SquareRedirectURL,
		Environment:  cfg.SquareEnvironment,
		APIVersion:   cfg.SquareAPIVersion,
		Timeout:      timeout,
	})
	content := gemini.New(gemini.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Timeout: timeout,
	})

	opts := []token.Option{token.WithLogger(log), token.WithTimeout(timeout)}
	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		opts = append(opts, token.WithLocker(token.NewRedisLocker(a.Redis)))
		log.Info("token refresh lock backed by redis", zap.String("addr", cfg.RedisAddr))
	}
	tokens := token.NewManager(a.Repos.Integrations, map[model.Provider]token.Refresher{
		model.ProviderGmail:  mail,
		model.ProviderSquare: scheduling,
	}, opts...)

	segments := segment.NewEngine(log.Named("segment"))

	a.Services = Services{
		Auth: &service.AuthService{UserRepo: a.Repos.Users, JWT: a.JWT},
		Campaigns: &service.CampaignService{
			CampaignRepo:    a.Repos.Campaigns,
			ClientRepo:      a.Repos.Clients,
			RecipientRepo:   a.Repos.Recipients,
			IntegrationRepo: a.Repos.Integrations,
			ProfileRepo:     a.Repos.Profiles,
			Segments:        segments,
			Tokens:          tokens,
			Mailer:          mail,
			Content:         content,
			Concurrency:     cfg.SendConcurrency,
			ExternalTimeout: timeout,
		},
		AutoCampaigns: &service.AutoCampaignService{
			CampaignRepo:    a.Repos.Campaigns,
			ClientRepo:      a.Repos.Clients,
			ProfileRepo:     a.Repos.Profiles,
			Segments:        segments,
			Content:         content,
			CadenceDays:     cfg.AutoCampaignCadenceDays,
			MaxUpcoming:     cfg.AutoCampaignMaxUpcoming,
			ExternalTimeout: timeout,
		},
		Clients: &service.ClientService{ClientRepo: a.Repos.Clients, Segments: segments},
		Integrations: &service.IntegrationService{
			IntegrationRepo:  a.Repos.Integrations,
			ClientRepo:       a.Repos.Clients,
			AppointmentRepo:  a.Repos.Appointments,
			Tokens:           tokens,
			Mail:             mail,
			Scheduling:       scheduling,
			States:           a.JWT,
			Queue:            q,
			SyncLookbackDays: cfg.SquareSyncLookbackD,
			ExternalTimeout:  timeout,
		},
		Appointments: &service.AppointmentService{
			AppointmentRepo:     a.Repos.Appointments,
			CampaignRepo:        a.Repos.Campaigns,
			ClientRepo:          a.Repos.Clients,
			IntegrationRepo:     a.Repos.Integrations,
			WebhookSignatureKey: cfg.SquareWebhookKey,
			WebhookURL:          cfg.SquareWebhookURL,
		},
		Profiles: &service.ProfileService{ProfileRepo: a.Repos.Profiles},
		Overview: &service.OverviewService{AppointmentRepo: a.Repos.Appointments, CampaignRepo: a.Repos.Campaigns},
	}
	return a, nil
}

// Worker returns the job dispatcher for this graph.
func (a *App) Worker() *service.Worker {
	return service.NewWorker(a.Services.Integrations, a.Services.AutoCampaigns, a.Log.Named("worker"))
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
