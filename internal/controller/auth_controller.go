package controller

import (
	"context"
	"net/http"

	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/service"
)

type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.Session, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
	Me(ctx context.Context, businessID string) (*model.User, error)
}

type AuthController struct {
	AuthService AuthService
}

type registerRequest struct {
	Username     string `json:"username" validate:"max=100"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	BusinessName string `json:"business_name" validate:"max=200"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (c *AuthController) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := c.AuthService.Register(r.Context(), service.RegisterInput{
		Username:     body.Username,
		Email:        body.Email,
		Password:     body.Password,
		BusinessName: body.BusinessName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := c.AuthService.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (c *AuthController) Me(w http.ResponseWriter, r *http.Request) {
	u, err := c.AuthService.Me(r.Context(), businessID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
