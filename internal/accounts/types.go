// Package accounts owns identities: signup, login, profile, roles and moderation.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
)

const (
	// StartingGrant is the balance every new account opens with.
	StartingGrant int64 = 100

	minHandleLength   = 3
	maxHandleLength   = 30
	minPasswordLength = 8

	DefaultAvatarURL = "https://i.imgur.com/JRqk1W1.png"
)

var (
	ErrAccountNotFound     = apperr.Kind(apperr.ErrNotFound, "account not found")
	ErrAccountExists       = apperr.Kind(apperr.ErrConflict, "handle or email already exists")
	ErrHandleTaken         = apperr.Kind(apperr.ErrConflict, "handle already taken")
	ErrInvalidCredentials  = apperr.Kind(apperr.ErrUnauthenticated, "invalid credentials")
	ErrAccountSuspended    = apperr.Kind(apperr.ErrForbidden, "account suspended")
	ErrAdministratorOnly   = apperr.Kind(apperr.ErrForbidden, "administrator privileges required")
	ErrIncorrectPassword   = apperr.Kind(apperr.ErrValidation, "current password is incorrect")
	ErrInvalidHandle       = apperr.Kind(apperr.ErrValidation, "handle must be 3-30 characters without spaces")
	ErrInvalidEmail        = apperr.Kind(apperr.ErrValidation, "invalid email")
	ErrInvalidPassword     = apperr.Kind(apperr.ErrValidation, "password must be at least 8 characters")
	ErrInvalidAvatarURL    = apperr.Kind(apperr.ErrValidation, "avatar must be an http(s) image url")
	ErrInvalidWhatsApp     = apperr.Kind(apperr.ErrValidation, "invalid whatsapp number")
	ErrInvalidRole         = apperr.Kind(apperr.ErrValidation, "invalid role")
	ErrSelfModeration      = apperr.Kind(apperr.ErrValidation, "administrators cannot moderate their own account")
	ErrInvalidServiceSetup = errors.New("invalid accounts service config")
)

var (
	emailPattern    = regexp.MustCompile(`^\w+([\.+-]?\w+)*@\w+([\.-]?\w+)*(\.\w{2,})+$`)
	avatarPattern   = regexp.MustCompile(`^(https?://).+\.(jpg|jpeg|png|gif)$`)
	whatsAppPattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// Role is the closed set of account roles.
type Role string

const (
	RoleUser          Role = "user"
	RoleAdministrator Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdministrator:
		return RoleAdministrator, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// Account is a registered identity with a coin balance.
type Account struct {
	ID             ledger.AccountID
	Handle         string
	Email          string
	PasswordHash   string
	Balance        int64
	Role           Role
	Active         bool
	AvatarURL      string
	GitHubHandle   string
	WhatsAppNumber string
	GoogleSubject  string
	DisplayName    string
	LastClaimAt    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	AccountID ledger.AccountID
	Role      Role
}

// IsAdministrator reports whether the actor holds the administrator role.
func (actor Actor) IsAdministrator() bool {
	return actor.Role == RoleAdministrator
}

// RequireAdministrator gates administrator-only operations.
func RequireAdministrator(actor Actor) error {
	if !actor.IsAdministrator() {
		return ErrAdministratorOnly
	}
	return nil
}

// Summary is the admin listing row for an account.
type Summary struct {
	ID               ledger.AccountID
	Handle           string
	Email            string
	Balance          int64
	Role             Role
	Active           bool
	DeploymentsCount int64
}

// ProfileUpdate carries the optional profile fields; nil leaves a field unchanged.
type ProfileUpdate struct {
	Handle         *string
	Email          *string
	AvatarURL      *string
	GitHubHandle   *string
	WhatsAppNumber *string
}

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// Store persists accounts.
type Store interface {
	// CreateAccount fails with ErrAccountExists when the handle or email is already used.
	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, accountID ledger.AccountID) (Account, error)
	FindByLogin(ctx context.Context, login string) (Account, error)
	FindByGoogle(ctx context.Context, subject string, email string) (Account, error)
	HandleExists(ctx context.Context, handle string, excluding ledger.AccountID) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateProfile(ctx context.Context, account Account) (Account, error)
	UpdatePasswordHash(ctx context.Context, accountID ledger.AccountID, passwordHash string) error
	LinkGoogle(ctx context.Context, accountID ledger.AccountID, subject string) error
	RecordLogin(ctx context.Context, accountID ledger.AccountID, at time.Time) error
	ToggleActive(ctx context.Context, accountID ledger.AccountID) (bool, error)
	SetRole(ctx context.Context, accountID ledger.AccountID, role Role) error
	ListSummaries(ctx context.Context) ([]Summary, error)
}

func normalizeHandle(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minHandleLength || len(trimmed) > maxHandleLength || strings.ContainsAny(trimmed, " \t\r\n") {
		return "", ErrInvalidHandle
	}
	return trimmed, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(trimmed) {
		return "", ErrInvalidEmail
	}
	return trimmed, nil
}

func validatePassword(raw string) error {
	if len(raw) < minPasswordLength {
		return ErrInvalidPassword
	}
	return nil
}
