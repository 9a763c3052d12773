package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/referral"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultPasswordCost   = 12
	maxHandleSuffixProbes = 1000
	fallbackHandlePrefix  = "user"
)

// ReferralRegistrar records the referral attached to a signup.
type ReferralRegistrar interface {
	Register(ctx context.Context, code string, referee referral.Referee) (referral.Record, bool, error)
}

// SignupRequest is the input for creating an account with a password.
type SignupRequest struct {
	Handle       string
	Email        string
	Password     string
	ReferralCode string
}

// Option configures a Service.
type Option func(*Service)

// WithPasswordCost overrides the bcrypt cost.
func WithPasswordCost(cost int) Option {
	return func(service *Service) {
		service.passwordCost = cost
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// Service implements account commands.
type Service struct {
	store        Store
	referrals    ReferralRegistrar
	nowFn        func() time.Time
	passwordCost int
	logger       *zap.Logger
}

// NewService wires an accounts Service.
func NewService(store Store, referrals ReferralRegistrar, now func() time.Time, options ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceSetup)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceSetup)
	}
	service := &Service{
		store:        store,
		referrals:    referrals,
		nowFn:        now,
		passwordCost: defaultPasswordCost,
		logger:       zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Signup creates an account with the starting grant and registers its referral, if any.
// A failing referral never fails the signup.
func (service *Service) Signup(ctx context.Context, request SignupRequest) (Account, error) {
	handle, err := normalizeHandle(request.Handle)
	if err != nil {
		return Account{}, err
	}
	email, err := normalizeEmail(request.Email)
	if err != nil {
		return Account{}, err
	}
	if err := validatePassword(request.Password); err != nil {
		return Account{}, err
	}
	handleTaken, err := service.store.HandleExists(ctx, handle, ledger.AccountID{})
	if err != nil {
		return Account{}, err
	}
	emailTaken, err := service.store.EmailExists(ctx, email)
	if err != nil {
		return Account{}, err
	}
	if handleTaken || emailTaken {
		return Account{}, ErrAccountExists
	}
	passwordHash, err := service.hashPassword(request.Password)
	if err != nil {
		return Account{}, err
	}
	account, err := service.store.CreateAccount(ctx, Account{
		Handle:       handle,
		Email:        email,
		PasswordHash: passwordHash,
		Balance:      StartingGrant,
		Role:         RoleUser,
		Active:       true,
		AvatarURL:    DefaultAvatarURL,
		CreatedAt:    service.nowFn().UTC(),
	})
	if err != nil {
		return Account{}, err
	}
	service.registerReferral(ctx, request.ReferralCode, account)
	return account, nil
}

func (service *Service) registerReferral(ctx context.Context, code string, account Account) {
	if service.referrals == nil || strings.TrimSpace(code) == "" {
		return
	}
	_, registered, err := service.referrals.Register(ctx, code, referral.Referee{AccountID: account.ID, Handle: account.Handle})
	if err != nil {
		service.logger.Warn("referral registration failed",
			zap.String("account_id", account.ID.String()),
			zap.String("referral_code", code),
			zap.Error(err),
		)
		return
	}
	if registered {
		service.logger.Info("referral registered", zap.String("account_id", account.ID.String()), zap.String("referral_code", code))
	}
}

// Authenticate checks a handle-or-email plus password and records the login.
func (service *Service) Authenticate(ctx context.Context, login string, password string) (Account, error) {
	account, err := service.store.FindByLogin(ctx, strings.TrimSpace(login))
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if account.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}
	if !account.Active {
		return Account{}, ErrAccountSuspended
	}
	return service.recordLogin(ctx, account)
}

// AuthenticateAdministrator is Authenticate restricted to administrator accounts.
func (service *Service) AuthenticateAdministrator(ctx context.Context, login string, password string) (Account, error) {
	account, err := service.store.FindByLogin(ctx, strings.TrimSpace(login))
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if account.Role != RoleAdministrator || account.PasswordHash == "" {
		return Account{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}
	if !account.Active {
		return Account{}, ErrAccountSuspended
	}
	return service.recordLogin(ctx, account)
}

// SignInWithGoogle finds or creates the account for a verified Google identity.
func (service *Service) SignInWithGoogle(ctx context.Context, identity GoogleIdentity) (Account, error) {
	subject := strings.TrimSpace(identity.Subject)
	if subject == "" {
		return Account{}, ErrInvalidCredentials
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	account, err := service.store.FindByGoogle(ctx, subject, email)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		account, err = service.createGoogleAccount(ctx, subject, email, identity)
		if err != nil {
			return Account{}, err
		}
	case err != nil:
		return Account{}, err
	case account.GoogleSubject == "":
		if err := service.store.LinkGoogle(ctx, account.ID, subject); err != nil {
			return Account{}, err
		}
		account.GoogleSubject = subject
	}
	if !account.Active {
		return Account{}, ErrAccountSuspended
	}
	return service.recordLogin(ctx, account)
}

func (service *Service) createGoogleAccount(ctx context.Context, subject string, email string, identity GoogleIdentity) (Account, error) {
	if _, err := normalizeEmail(email); err != nil {
		return Account{}, err
	}
	handle, err := service.uniqueHandle(ctx, handleBase(email, subject))
	if err != nil {
		return Account{}, err
	}
	avatar := DefaultAvatarURL
	if strings.TrimSpace(identity.Picture) != "" {
		avatar = strings.TrimSpace(identity.Picture)
	}
	return service.store.CreateAccount(ctx, Account{
		Handle:        handle,
		Email:         email,
		Balance:       StartingGrant,
		Role:          RoleUser,
		Active:        true,
		AvatarURL:     avatar,
		GoogleSubject: subject,
		DisplayName:   strings.TrimSpace(identity.Name),
		CreatedAt:     service.nowFn().UTC(),
	})
}

func (service *Service) uniqueHandle(ctx context.Context, base string) (string, error) {
	candidate := base
	for suffix := 1; suffix <= maxHandleSuffixProbes; suffix++ {
		exists, err := service.store.HandleExists(ctx, candidate, ledger.AccountID{})
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(suffix)
	}
	return "", fmt.Errorf("%w: no free handle for %q", ErrHandleTaken, base)
}

// handleBase derives a handle stem from an email local part, falling back to the Google subject.
func handleBase(email string, subject string) string {
	localPart, _, _ := strings.Cut(email, "@")
	var builder strings.Builder
	for _, character := range strings.ToLower(localPart) {
		if (character >= 'a' && character <= 'z') || (character >= '0' && character <= '9') || character == '_' || character == '.' || character == '-' {
			builder.WriteRune(character)
		}
	}
	base := builder.String()
	if len(base) < minHandleLength {
		tail := subject
		if len(tail) > 6 {
			tail = tail[len(tail)-6:]
		}
		base = fallbackHandlePrefix + "_" + tail
	}
	// leave room for a numeric suffix
	if len(base) > maxHandleLength-4 {
		base = base[:maxHandleLength-4]
	}
	return base
}

func (service *Service) recordLogin(ctx context.Context, account Account) (Account, error) {
	now := service.nowFn().UTC()
	if err := service.store.RecordLogin(ctx, account.ID, now); err != nil {
		return Account{}, err
	}
	account.LastLoginAt = &now
	return account, nil
}

// Get loads an account by id.
func (service *Service) Get(ctx context.Context, accountID ledger.AccountID) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// Authorize resolves the actor for an authenticated request; suspended accounts are rejected.
func (service *Service) Authorize(ctx context.Context, accountID ledger.AccountID) (Actor, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return Actor{}, ErrInvalidCredentials
	}
	if err != nil {
		return Actor{}, err
	}
	if !account.Active {
		return Actor{}, ErrAccountSuspended
	}
	return Actor{AccountID: account.ID, Role: account.Role}, nil
}

// UpdateProfile applies the non-nil fields of update to the caller's account.
func (service *Service) UpdateProfile(ctx context.Context, actor Actor, update ProfileUpdate) (Account, error) {
	account, err := service.store.GetAccount(ctx, actor.AccountID)
	if err != nil {
		return Account{}, err
	}
	if update.Handle != nil {
		handle, err := normalizeHandle(*update.Handle)
		if err != nil {
			return Account{}, err
		}
		taken, err := service.store.HandleExists(ctx, handle, account.ID)
		if err != nil {
			return Account{}, err
		}
		if taken {
			return Account{}, ErrHandleTaken
		}
		account.Handle = handle
	}
	if update.Email != nil {
		email, err := normalizeEmail(*update.Email)
		if err != nil {
			return Account{}, err
		}
		account.Email = email
	}
	if update.AvatarURL != nil {
		avatar := strings.TrimSpace(*update.AvatarURL)
		if !avatarPattern.MatchString(avatar) {
			return Account{}, ErrInvalidAvatarURL
		}
		account.AvatarURL = avatar
	}
	if update.GitHubHandle != nil {
		account.GitHubHandle = strings.TrimSpace(*update.GitHubHandle)
	}
	if update.WhatsAppNumber != nil {
		number := strings.TrimSpace(*update.WhatsAppNumber)
		if number != "" && !whatsAppPattern.MatchString(number) {
			return Account{}, ErrInvalidWhatsApp
		}
		account.WhatsAppNumber = number
	}
	return service.store.UpdateProfile(ctx, account)
}

// ChangePassword replaces the caller's password after checking the current one.
func (service *Service) ChangePassword(ctx context.Context, actor Actor, currentPassword string, newPassword string) error {
	account, err := service.store.GetAccount(ctx, actor.AccountID)
	if err != nil {
		return err
	}
	if account.PasswordHash != "" && bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(currentPassword)) != nil {
		return ErrIncorrectPassword
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	passwordHash, err := service.hashPassword(newPassword)
	if err != nil {
		return err
	}
	return service.store.UpdatePasswordHash(ctx, account.ID, passwordHash)
}

// ListUsers returns every account with its deployment count.
func (service *Service) ListUsers(ctx context.Context, actor Actor) ([]Summary, error) {
	if err := RequireAdministrator(actor); err != nil {
		return nil, err
	}
	return service.store.ListSummaries(ctx)
}

// ToggleBan flips the active flag of an account and returns the new value.
func (service *Service) ToggleBan(ctx context.Context, actor Actor, accountID ledger.AccountID) (bool, error) {
	if err := RequireAdministrator(actor); err != nil {
		return false, err
	}
	if accountID == actor.AccountID {
		return false, ErrSelfModeration
	}
	active, err := service.store.ToggleActive(ctx, accountID)
	if err != nil {
		return false, err
	}
	service.logger.Info("account active flag toggled",
		zap.String("admin_id", actor.AccountID.String()),
		zap.String("account_id", accountID.String()),
		zap.Bool("active", active),
	)
	return active, nil
}

// SetRole changes the role of another account.
func (service *Service) SetRole(ctx context.Context, actor Actor, accountID ledger.AccountID, role Role) error {
	if err := RequireAdministrator(actor); err != nil {
		return err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	if accountID == actor.AccountID {
		return ErrSelfModeration
	}
	return service.store.SetRole(ctx, accountID, role)
}

// EnsureAdministrator creates the bootstrap administrator unless the handle already exists.
func (service *Service) EnsureAdministrator(ctx context.Context, handle string, email string, password string) (Account, bool, error) {
	normalizedHandle, err := normalizeHandle(handle)
	if err != nil {
		return Account{}, false, err
	}
	existing, err := service.store.FindByLogin(ctx, normalizedHandle)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, err
	}
	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return Account{}, false, err
	}
	if err := validatePassword(password); err != nil {
		return Account{}, false, err
	}
	passwordHash, err := service.hashPassword(password)
	if err != nil {
		return Account{}, false, err
	}
	account, err := service.store.CreateAccount(ctx, Account{
		Handle:       normalizedHandle,
		Email:        normalizedEmail,
		PasswordHash: passwordHash,
		Balance:      StartingGrant,
		Role:         RoleAdministrator,
		Active:       true,
		AvatarURL:    DefaultAvatarURL,
		CreatedAt:    service.nowFn().UTC(),
	})
	if err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

func (service *Service) hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), service.passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}
