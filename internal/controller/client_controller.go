package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/service"
)

type ClientService interface {
	List(ctx context.Context, businessID, selector string) ([]model.Client, error)
	Get(ctx context.Context, businessID, id string) (*model.Client, error)
	Create(ctx context.Context, businessID string, in service.ClientInput) (*model.Client, error)
	Update(ctx context.Context, businessID, id string, in service.ClientInput) (*model.Client, error)
	Delete(ctx context.Context, businessID, id string) error
}

type ClientController struct {
	ClientService ClientService
}

type clientRequest struct {
	Name      string     `json:"name" validate:"max=200"`
	Email     string     `json:"email" validate:"omitempty,email,max=320"`
	Phone     *string    `json:"phone" validate:"omitempty,max=40"`
	LastVisit *time.Time `json:"last_visit"`
	Tags      []string   `json:"tags" validate:"max=50,dive,max=50"`
}

func (b clientRequest) input() service.ClientInput {
	return service.ClientInput{Name: b.Name, Email: b.Email, Phone: b.Phone, LastVisit: b.LastVisit, Tags: b.Tags}
}

// ListClients returns the roster, optionally narrowed by ?segment=.
func (c *ClientController) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := c.ClientService.List(r.Context(), businessID(r), r.URL.Query().Get("segment"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if clients == nil {
		clients = []model.Client{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": clients})
}

func (c *ClientController) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := c.ClientService.Get(r.Context(), businessID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (c *ClientController) CreateClient(w http.ResponseWriter, r *http.Request) {
	var body clientRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	client, err := c.ClientService.Create(r.Context(), businessID(r), body.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

func (c *ClientController) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var body clientRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	client, err := c.ClientService.Update(r.Context(), businessID(r), chi.URLParam(r, "id"), body.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (c *ClientController) DeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := c.ClientService.Delete(r.Context(), businessID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
