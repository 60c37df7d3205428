package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrInvalidState = errors.New("invalid oauth state")
)

const (
	issuer        = "promopal"
	purposeAccess = "access"
	purposeOAuth  = "oauth_state"

	StateTTL = 10 * time.Minute
)

// Claims carries the business an access token was issued for.
type Claims struct {
	jwt.RegisteredClaims
	BusinessID string `json:"business_id"`
	Username   string `json:"username,omitempty"`
	Purpose    string `json:"purpose"`
}

// StateClaims is the payload of a signed OAuth state parameter.
type StateClaims struct {
	jwt.RegisteredClaims
	BusinessID string `json:"business_id"`
	Provider   string `json:"provider"`
	Purpose    string `json:"purpose"`
}

type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTService(secret string, ttl time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed access token and its expiry.
func (s *JWTService) Issue(businessID, username string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   businessID,
			ExpiresAt: jwt.NewNumericDate(exp),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		BusinessID: businessID,
		Username:   username,
		Purpose:    purposeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse validates an access token.
func (s *JWTService) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != purposeAccess || claims.BusinessID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignState binds an OAuth authorization request to a business and provider.
func (s *JWTService) SignState(businessID, provider string) (string, error) {
	now := s.now()
	claims := &StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		BusinessID: businessID,
		Provider:   provider,
		Purpose:    purposeOAuth,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyState checks the state signature, expiry and provider and returns
// the business id it was issued for.
func (s *JWTService) VerifyState(state, provider string) (string, error) {
	claims := &StateClaims{}
	if err := s.parse(state, claims); err != nil {
		return "", ErrInvalidState
	}
	if claims.Purpose != purposeOAuth || claims.Provider != provider || claims.BusinessID == "" {
		return "", ErrInvalidState
	}
	return claims.BusinessID, nil
}

func (s *JWTService) parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	return nil
}
