package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
	"google.golang.org/api/idtoken"
)

var (
	ErrGoogleNotConfigured = apperr.Kind(apperr.ErrValidation, "google sign-in is not configured")
	ErrInvalidGoogleToken  = apperr.Kind(apperr.ErrUnauthenticated, "invalid google token")
)

// PayloadValidator checks an ID token against an audience.
type PayloadValidator func(ctx context.Context, token string, audience string) (*idtoken.Payload, error)

// GoogleVerifier turns Google ID tokens into identities.
type GoogleVerifier struct {
	clientID string
	validate PayloadValidator
}

// NewGoogleVerifier builds a verifier; an empty client id disables Google sign-in.
// A nil validator uses Google's published keys.
func NewGoogleVerifier(clientID string, validate PayloadValidator) *GoogleVerifier {
	if validate == nil {
		validate = idtoken.Validate
	}
	return &GoogleVerifier{clientID: strings.TrimSpace(clientID), validate: validate}
}

// ClientID returns the configured OAuth client id.
func (verifier *GoogleVerifier) ClientID() string {
	return verifier.clientID
}

// Enabled reports whether a client id is configured.
func (verifier *GoogleVerifier) Enabled() bool {
	return verifier.clientID != ""
}

// Verify validates the credential and extracts the identity claims.
func (verifier *GoogleVerifier) Verify(ctx context.Context, credential string) (accounts.GoogleIdentity, error) {
	if !verifier.Enabled() {
		return accounts.GoogleIdentity{}, ErrGoogleNotConfigured
	}
	if strings.TrimSpace(credential) == "" {
		return accounts.GoogleIdentity{}, ErrInvalidGoogleToken
	}
	payload, err := verifier.validate(ctx, credential, verifier.clientID)
	if err != nil {
		return accounts.GoogleIdentity{}, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, err)
	}
	identity := accounts.GoogleIdentity{
		Subject: payload.Subject,
		Email:   claimString(payload.Claims, "email"),
		Name:    claimString(payload.Claims, "name"),
		Picture: claimString(payload.Claims, "picture"),
	}
	if identity.Subject == "" || identity.Email == "" {
		return accounts.GoogleIdentity{}, errors.Join(ErrInvalidGoogleToken, errors.New("token lacks subject or email"))
	}
	return identity, nil
}

func claimString(claims map[string]interface{}, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return value
}
