package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
)

// ClientRepositoryInterface defines methods used by services
type ClientRepositoryInterface interface {
	ListByUser(ctx context.Context, userID string) ([]model.Client, error)
	GetByID(ctx context.Context, userID, id string) (*model.Client, error)
	FindByEmail(ctx context.Context, userID, email string) (*model.Client, error)
	FindByExternalID(ctx context.Context, userID, externalID string) (*model.Client, error)
	Create(ctx context.Context, c *model.Client) error
	Update(ctx context.Context, c *model.Client) error
	Delete(ctx context.Context, userID, id string) error
}

// ClientRepository is the postgres implementation
type ClientRepository struct {
	DB *sql.DB
}

const clientColumns = `id, user_id, name, email, phone, last_visit, tags, external_customer_id, created_at`

func scanClient(row interface{ Scan(...any) error }) (*model.Client, error) {
	var c model.Client
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.LastVisit, &c.Tags, &c.ExternalCustomerID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if c.Tags == nil {
		c.Tags = pq.StringArray{}
	}
	return &c, nil
}

// ListByUser returns the full roster ordered by creation time.
func (r *ClientRepository) ListByUser(ctx context.Context, userID string) ([]model.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE user_id = $1 ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := []model.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

func (r *ClientRepository) GetByID(ctx context.Context, userID, id string) (*model.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1 AND user_id = $2`
	c, err := scanClient(r.DB.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewClientNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// FindByEmail returns nil, nil when no client has the address.
func (r *ClientRepository) FindByEmail(ctx context.Context, userID, email string) (*model.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE user_id = $1 AND lower(email) = lower($2)`
	c, err := scanClient(r.DB.QueryRowContext(ctx, query, userID, strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// FindByExternalID returns nil, nil when no client was imported with the id.
func (r *ClientRepository) FindByExternalID(ctx context.Context, userID, externalID string) (*model.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE user_id = $1 AND external_customer_id = $2`
	c, err := scanClient(r.DB.QueryRowContext(ctx, query, userID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *ClientRepository) Create(ctx context.Context, c *model.Client) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Tags == nil {
		c.Tags = pq.StringArray{}
	}
	query := `
        INSERT INTO clients (id, user_id, name, email, phone, last_visit, tags, external_customer_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.ExecContext(ctx, query, c.ID, c.UserID, c.Name, c.Email, c.Phone, c.LastVisit, c.Tags, c.ExternalCustomerID, c.CreatedAt)
	return translateUnique(err, "email", "a client with this email already exists")
}

func (r *ClientRepository) Update(ctx context.Context, c *model.Client) error {
	query := `
        UPDATE clients
        SET name = $1, email = $2, phone = $3, last_visit = $4, tags = $5
        WHERE id = $6 AND user_id = $7
    `
	res, err := r.DB.ExecContext(ctx, query, c.Name, c.Email, c.Phone, c.LastVisit, c.Tags, c.ID, c.UserID)
	if err != nil {
		return translateUnique(err, "email", "a client with this email already exists")
	}
	return requireAffected(res, appErrors.NewClientNotFound(c.ID))
}

func (r *ClientRepository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM clients WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, appErrors.NewClientNotFound(id))
}

var _ ClientRepositoryInterface = (*ClientRepository)(nil)
