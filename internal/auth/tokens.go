// Package auth issues and validates session tokens, tracks revoked token ids
// and verifies Google ID tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 7 * 24 * time.Hour

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrRevokedToken       = errors.New("token has been revoked")
	ErrInvalidIssuerSetup = errors.New("invalid token issuer config")
)

// Claims are the session claims carried in every bearer token.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Actor converts validated claims into a capability holder.
func (claims *Claims) Actor() (accounts.Actor, error) {
	accountID, err := ledger.NewAccountID(claims.AccountID)
	if err != nil {
		return accounts.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role, err := accounts.ParseRole(claims.Role)
	if err != nil {
		return accounts.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return accounts.Actor{AccountID: accountID, Role: role}, nil
}

// Token is a signed session token with its expiry.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// IssuerConfig configures a TokenIssuer.
type IssuerConfig struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
	Now        func() time.Time
}

// TokenIssuer signs and validates HS256 session tokens.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	nowFn      func() time.Time
}

// NewTokenIssuer validates the config and builds an issuer.
func NewTokenIssuer(config IssuerConfig) (*TokenIssuer, error) {
	if strings.TrimSpace(config.SigningKey) == "" {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidIssuerSetup)
	}
	issuer := strings.TrimSpace(config.Issuer)
	if issuer == "" {
		issuer = "botdeploy"
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	nowFn := config.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &TokenIssuer{signingKey: []byte(config.SigningKey), issuer: issuer, ttl: ttl, nowFn: nowFn}, nil
}

// Issue signs a token for the account.
func (issuer *TokenIssuer) Issue(account accounts.Account) (Token, error) {
	now := issuer.nowFn()
	expiresAt := now.Add(issuer.ttl)
	tokenID := uuid.NewString()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    issuer.issuer,
			Subject:   account.ID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		AccountID: account.ID.String(),
		Role:      string(account.Role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(issuer.signingKey)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ID: tokenID, ExpiresAt: expiresAt}, nil
}

// Validate parses a token and returns its claims.
func (issuer *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return issuer.signingKey, nil
	}, jwt.WithIssuer(issuer.issuer), jwt.WithTimeFunc(issuer.nowFn), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" || claims.AccountID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Remaining reports how long the claims stay valid.
func (issuer *TokenIssuer) Remaining(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Time.Sub(issuer.nowFn())
}
