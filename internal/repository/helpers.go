package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
)

const uniqueViolation = "23505"

// translateUnique turns a unique-constraint violation into a validation error.
func translateUnique(err error, field, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return appErrors.NewValidation(field, message)
	}
	return err
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
