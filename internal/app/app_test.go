package app

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/config"
	"github.com/unclebandit/promopal-backend/internal/queue"
)

func TestNewWiresServices(t *testing.T) {
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	cfg := &config.Config{
		JWTSecret:               strings.Repeat("s", 32),
		JWTTTLHours:             1,
		SquareEnvironment:       "sandbox",
		SendConcurrency:         4,
		ExternalCallTimeoutSec:  5,
		AutoCampaignCadenceDays: 14,
		AutoCampaignMaxUpcoming: 3,
	}
	q := queue.NewInMemoryQueue(nil)

	a, err := New(context.Background(), cfg, zap.NewNop(), conn, q)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.Equal(t, 4, a.Services.Campaigns.Concurrency)
	assert.Equal(t, 14, a.Services.AutoCampaigns.CadenceDays)
	assert.Same(t, a.JWT, a.Services.Integrations.States)
	assert.Equal(t, q, a.Services.Integrations.Queue)

	require.NoError(t, a.Worker().Register(q))
	err = q.Publish(context.Background(), queue.TopicAutoCampaigns, queue.BusinessJob{BusinessID: ""})
	assert.NoError(t, err)
	q.Wait()
}
