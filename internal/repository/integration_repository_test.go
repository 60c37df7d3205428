package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/repository"
)

var integrationCols = []string{"id", "user_id", "provider", "access_token", "refresh_token", "token_expiry", "is_active", "settings", "created_at", "updated_at"}

func TestIntegrationRepository_UpsertActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("deactivates previous row and inserts in one transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := &repository.IntegrationRepository{DB: db}

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE integrations SET is_active = FALSE`)).
			WithArgs("biz-1", "gmail").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO integrations`)).
			WithArgs(sqlmock.AnyArg(), "biz-1", "gmail", "a1", "r1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		integ := &model.Integration{
			UserID:       "biz-1",
			Provider:     model.ProviderGmail,
			AccessToken:  "a1",
			RefreshToken: "r1",
			Settings:     model.DefaultSettings(model.ProviderGmail, now),
		}
		require.NoError(t, repo.UpsertActive(context.Background(), integ))
		assert.NotEmpty(t, integ.ID)
		assert.True(t, integ.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when insert fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := &repository.IntegrationRepository{DB: db}

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE integrations SET is_active = FALSE`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO integrations`)).
			WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		err = repo.UpsertActive(context.Background(), &model.Integration{
			UserID:   "biz-1",
			Provider: model.ProviderSquare,
			Settings: model.DefaultSettings(model.ProviderSquare, now),
		})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects mismatched settings variant without touching the db", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := &repository.IntegrationRepository{DB: db}

		err = repo.UpsertActive(context.Background(), &model.Integration{
			UserID:   "biz-1",
			Provider: model.ProviderSquare,
			Settings: model.DefaultSettings(model.ProviderGmail, now),
		})
		assert.ErrorIs(t, err, appErrors.ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIntegrationRepository_UpdateTokens(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &repository.IntegrationRepository{DB: db}

	expiry := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM integrations WHERE id = $1 FOR UPDATE`)).
		WithArgs("int-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("int-1"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE integrations SET access_token = $1, refresh_token = $2, token_expiry = $3`)).
		WithArgs("a2", "r1", expiry, "int-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.UpdateTokens(context.Background(), "int-1", model.TokenSet{AccessToken: "a2", RefreshToken: "r1", Expiry: &expiry})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntegrationRepository_GetActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &repository.IntegrationRepository{DB: db}

	t.Run("found", func(t *testing.T) {
		created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM integrations WHERE user_id = $1 AND provider = $2 AND is_active`)).
			WithArgs("biz-1", "square").
			WillReturnRows(sqlmock.NewRows(integrationCols).AddRow(
				"int-9", "biz-1", "square", "tok", "ref", nil, true,
				[]byte(`{"scheduling":{"auto_sync":true,"sync_interval":"24h","location_id":"L1"}}`), created, created))

		integ, err := repo.GetActive(context.Background(), "biz-1", model.ProviderSquare)
		require.NoError(t, err)
		assert.Equal(t, model.ProviderSquare, integ.Provider)
		assert.Nil(t, integ.TokenExpiry)
		require.NotNil(t, integ.Settings.Scheduling)
		assert.Equal(t, "L1", integ.Settings.Scheduling.LocationID)
	})

	t.Run("not connected", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM integrations WHERE user_id = $1 AND provider = $2 AND is_active`)).
			WithArgs("biz-1", "gmail").
			WillReturnRows(sqlmock.NewRows(integrationCols))

		_, err := repo.GetActive(context.Background(), "biz-1", model.ProviderGmail)
		assert.ErrorIs(t, err, appErrors.ErrIntegrationNotConnected)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
