package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/provider/square"
)

const maxWebhookBytes = 1 << 20

type WebhookService interface {
	HandleSquareWebhook(ctx context.Context, body []byte, signature string) error
}

type WebhookHandler struct {
	Appointments WebhookService
}

// Square retries on any non-2xx, so only transient failures return 5xx.
func (h *WebhookHandler) Square(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	err = h.Appointments.HandleSquareWebhook(r.Context(), body, r.Header.Get(square.SignatureHeader))
	switch {
	case err == nil:
		respond(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, appErrors.ErrUnauthorized):
		respond(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	case errors.Is(err, appErrors.ErrValidation):
		logger.FromContext(r.Context()).Warn("rejected webhook payload", zap.Error(err))
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		logger.FromContext(r.Context()).Error("webhook processing failed", zap.Error(err))
		respond(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
