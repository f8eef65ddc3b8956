package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 60 * time.Minute

	// AdminSubject is the fixed subject carried by admin session tokens.
	// Admin sessions are anchored to the configured allow-list email, not to
	// a Google account.
	AdminSubject = "admin-user"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingAdminEmail    = errors.New("admin email must be provided")
	errMissingEmailInToken  = errors.New("token missing email claim")
)

// TokenIssuerConfig configures the admin session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 session tokens for the allow-listed
// administrator after a successful password login.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

type adminSessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// IssueAdminToken produces a signed session token and its expiry (seconds)
// for the given admin email.
func (i *TokenIssuer) IssueAdminToken(_ context.Context, email string) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if email == "" {
		return "", 0, errMissingAdminEmail
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := adminSessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   AdminSubject,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the session token is well formed and returns the
// identity claims embedded in it.
func (i *TokenIssuer) ValidateToken(tokenString string) (IdentityClaims, error) {
	if len(i.config.SigningSecret) == 0 {
		return IdentityClaims{}, errMissingSigningSecret
	}

	claims := &adminSessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return IdentityClaims{}, err
	}
	if claims.Subject == "" {
		return IdentityClaims{}, errMissingSubject
	}
	if claims.Email == "" {
		return IdentityClaims{}, errMissingEmailInToken
	}

	expiry := time.Time{}
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	issuedAt := time.Time{}
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}

	return IdentityClaims{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Name:     "Admin User",
		Issuer:   claims.Issuer,
		Expiry:   expiry,
		IssuedAt: issuedAt,
	}, nil
}
