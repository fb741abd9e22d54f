// Package jwt issues and verifies the HS256 access/refresh token pair.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"filevault/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is the only error returned by verification: malformed,
// expired and mis-signed tokens are indistinguishable to the caller.
var ErrInvalidToken = errors.New("invalid token")

type tokenClaims struct {
	jwt.RegisteredClaims
	UID   int64  `json:"id"`
	Email string `json:"email"`
}

// Issuer signs access tokens and refresh tokens with separate secrets and lifetimes.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// New returns an Issuer. Secrets are fixed for the lifetime of the Issuer.
func New(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// Issue signs a fresh access/refresh pair carrying {id, email}.
// Every token gets its own jti, so two pairs for the same user never collide.
func (i *Issuer) Issue(userID int64, email string) (models.TokenPair, error) {
	const op = "jwt.Issue"

	now := time.Now()

	access, err := sign(userID, email, now, i.accessTTL, i.accessSecret)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: access: %w", op, err)
	}

	refresh, err := sign(userID, email, now, i.refreshTTL, i.refreshSecret)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: refresh: %w", op, err)
	}

	return models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// VerifyAccess checks signature and expiry of an access token.
func (i *Issuer) VerifyAccess(token string) (models.Claims, error) {
	return verify(token, i.accessSecret)
}

// VerifyRefresh checks signature and expiry of a refresh token.
func (i *Issuer) VerifyRefresh(token string) (models.Claims, error) {
	return verify(token, i.refreshSecret)
}

func sign(userID int64, email string, now time.Time, ttl time.Duration, secret []byte) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:   userID,
		Email: email,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verify(tokenString string, secret []byte) (models.Claims, error) {
	if tokenString == "" {
		return models.Claims{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&tokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return models.Claims{}, ErrInvalidToken
	}

	return models.Claims{
		UserID:    claims.UID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
