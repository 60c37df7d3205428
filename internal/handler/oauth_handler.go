// internal/handler/oauth_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/model"
)

type CallbackService interface {
	Callback(ctx context.Context, provider, code, state string) (*model.Integration, error)
}

// OAuthHandler finishes provider consent flows. The browser arrives here
// from the provider, so every outcome is a redirect back to the frontend.
type OAuthHandler struct {
	Integrations CallbackService
	FrontendURL  string
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()
	log := logger.FromContext(r.Context()).With(zap.String("provider", provider))

	if denied := q.Get("error"); denied != "" {
		log.Info("oauth consent denied", zap.String("reason", denied))
		h.redirect(w, r, url.Values{"error": {"access_denied"}, "provider": {provider}})
		return
	}

	integ, err := h.Integrations.Callback(r.Context(), provider, q.Get("code"), q.Get("state"))
	if err != nil {
		log.Warn("oauth callback failed", zap.Error(err))
		h.redirect(w, r, url.Values{"error": {callbackReason(err)}, "provider": {provider}})
		return
	}
	h.redirect(w, r, url.Values{"connected": {string(integ.Provider)}})
}

func (h *OAuthHandler) redirect(w http.ResponseWriter, r *http.Request, v url.Values) {
	target := strings.TrimRight(h.FrontendURL, "/") + "/integrations?" + v.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func callbackReason(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrUnauthorized):
		return "invalid_state"
	case errors.Is(err, appErrors.ErrValidation):
		return "invalid_request"
	case errors.Is(err, appErrors.ErrExternalService):
		return "provider_error"
	}
	return "server_error"
}
