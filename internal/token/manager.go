// Package token keeps provider access tokens valid, refreshing them at most
// once per integration at a time.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/metrics"
	"github.com/unclebandit/promopal-backend/internal/model"
)

// Refresher exchanges a refresh token for a new token set. Implementations
// must return an absolute expiry.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (*model.TokenSet, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	return f(ctx, refreshToken)
}

// Store is the subset of the credential store the manager needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*model.Integration, error)
	UpdateTokens(ctx context.Context, id string, set model.TokenSet) error
}

// Locker serializes refreshes across processes. Unlock must be safe to call
// after the lock expired.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Manager struct {
	store      Store
	refreshers map[model.Provider]Refresher
	locker     Locker
	timeout    time.Duration
	now        func() time.Time
	log        *zap.Logger
	group      singleflight.Group
}

type Option func(*Manager)

func WithLocker(l Locker) Option { return func(m *Manager) { m.locker = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithTimeout(d time.Duration) Option { return func(m *Manager) { m.timeout = d } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

func NewManager(store Store, refreshers map[model.Provider]Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		refreshers: refreshers,
		timeout:    15 * time.Second,
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidAccessToken returns a usable access token for integ. When the
// stored token has expired it is refreshed and persisted, and integ is
// updated in place. A failed refresh leaves the stored row untouched and
// returns an IntegrationTokenExpiredError.
func (m *Manager) GetValidAccessToken(ctx context.Context, integ *model.Integration) (string, error) {
	if !m.expired(integ) {
		return integ.AccessToken, nil
	}

	// The shared refresh outlives any single caller; each caller only
	// stops waiting when its own context ends.
	ch := m.group.DoChan(integ.ID, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), integ.ID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}
	fresh := res.Val.(*model.Integration)
	integ.AccessToken = fresh.AccessToken
	integ.RefreshToken = fresh.RefreshToken
	integ.TokenExpiry = fresh.TokenExpiry
	return fresh.AccessToken, nil
}

func (m *Manager) expired(integ *model.Integration) bool {
	return integ.TokenExpiry != nil && !m.now().Before(*integ.TokenExpiry)
}

func (m *Manager) refresh(ctx context.Context, id string) (*model.Integration, error) {
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, "token-refresh:"+id)
		if err != nil {
			return nil, fmt.Errorf("acquire refresh lock: %w", err)
		}
		defer unlock()
	}

	// Another caller may have refreshed while we waited.
	current, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.expired(current) {
		return current, nil
	}

	refresher, ok := m.refreshers[current.Provider]
	if !ok {
		return nil, fmt.Errorf("no token refresher registered for %s", current.Provider)
	}
	if current.RefreshToken == "" {
		metrics.TokenRefresh(string(current.Provider), "missing_refresh_token")
		return nil, appErrors.NewIntegrationTokenExpired(string(current.Provider), errors.New("no refresh token stored"))
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	set, err := refresher.Refresh(callCtx, current.RefreshToken)
	if err != nil {
		metrics.TokenRefresh(string(current.Provider), "failed")
		m.log.Warn("token refresh failed",
			zap.String("integration_id", id),
			zap.String("provider", string(current.Provider)),
			zap.Error(err),
		)
		return nil, appErrors.NewIntegrationTokenExpired(string(current.Provider), err)
	}

	next := model.TokenSet{
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		Expiry:       set.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if err := m.store.UpdateTokens(ctx, id, next); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	metrics.TokenRefresh(string(current.Provider), "refreshed")
	m.log.Info("token refreshed",
		zap.String("integration_id", id),
		zap.String("provider", string(current.Provider)),
	)

	current.AccessToken = next.AccessToken
	current.RefreshToken = next.RefreshToken
	current.TokenExpiry = next.Expiry
	return current, nil
}

// ExpiryFromSeconds normalizes a relative expires_in value to an absolute
// instant. Non-positive values mean the provider sent no expiry.
func ExpiryFromSeconds(now time.Time, seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := now.Add(time.Duration(seconds) * time.Second)
	return &t
}
