package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/auth"
	"github.com/unclebandit/promopal-backend/internal/controller"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/metrics"
)

// Routes bundles everything the HTTP API serves.
type Routes struct {
	Log         *zap.Logger
	JWT         *auth.JWTService
	RateLimit   func(http.Handler) http.Handler
	Timeout     time.Duration
	Auth        *controller.AuthController
	Campaigns   *controller.CampaignController
	Clients     *controller.ClientController
	Integration *controller.IntegrationController
	Auto        *controller.AutoCampaignController
	Business    *controller.BusinessController
	OAuth       *OAuthHandler
	Webhooks    *WebhookHandler
	Health      *HealthHandler
}

func NewRouter(rt Routes) chi.Router {
	limit := rt.RateLimit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	timeout := rt.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(rt.Log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", rt.Health.Healthz)
	r.Get("/readyz", rt.Health.Readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/auth/register", rt.Auth.Register)
			r.Post("/auth/login", rt.Auth.Login)
			r.Get("/integrations/{provider}/callback", rt.OAuth.Callback)
			r.Post("/webhooks/square", rt.Webhooks.Square)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(rt.JWT))
			r.Use(middleware.Timeout(timeout))

			r.Get("/auth/me", rt.Auth.Me)

			r.Route("/clients", func(r chi.Router) {
				r.Get("/", rt.Clients.ListClients)
				r.Post("/", rt.Clients.CreateClient)
				r.Get("/{id}", rt.Clients.GetClient)
				r.Put("/{id}", rt.Clients.UpdateClient)
				r.Delete("/{id}", rt.Clients.DeleteClient)
			})

			r.Route("/campaigns", func(r chi.Router) {
				r.Get("/", rt.Campaigns.ListCampaigns)
				r.Post("/", rt.Campaigns.CreateCampaign)
				r.Post("/generate-content", rt.Campaigns.GenerateDraftContent)
				r.Get("/{id}", rt.Campaigns.GetCampaignDetails)
				r.Put("/{id}", rt.Campaigns.UpdateCampaign)
				r.Delete("/{id}", rt.Campaigns.DeleteCampaign)
				r.Post("/{id}/generate-content", rt.Campaigns.GenerateContent)
				r.Post("/{id}/send", rt.Campaigns.SendCampaign)
				r.Post("/{id}/schedule", rt.Campaigns.ScheduleCampaign)
				r.Post("/{id}/unschedule", rt.Campaigns.UnscheduleCampaign)
				r.Post("/{id}/preview", rt.Campaigns.PersonalizedPreview)
				r.Get("/{id}/recipients", rt.Campaigns.ListRecipients)
			})

			r.Route("/auto-campaigns", func(r chi.Router) {
				r.Get("/upcoming", rt.Auto.Upcoming)
				r.Get("/next-date", rt.Auto.NextDate)
				r.Post("/generate", rt.Auto.Generate)
			})

			r.Get("/appointments", rt.Business.ListAppointments)
			r.Post("/appointments", rt.Business.CreateAppointment)
			r.Get("/business-profile", rt.Business.GetProfile)
			r.Put("/business-profile", rt.Business.UpdateProfile)
			r.Get("/overview", rt.Business.GetOverview)
			r.Get("/activity", rt.Business.GetActivity)

			// Flat, so these share a tree with the public callback route.
			r.Get("/integrations", rt.Integration.ListIntegrations)
			r.Get("/integrations/{provider}/auth", rt.Integration.AuthURL)
			r.Post("/integrations/{provider}/disconnect", rt.Integration.Disconnect)
			r.Put("/integrations/{provider}/settings", rt.Integration.UpdateSettings)
			r.Post("/integrations/square/sync", rt.Integration.SyncScheduling)
			r.Post("/integrations/gmail/send", rt.Integration.SendTestEmail)
		})
	})
	return r
}
