// Package keypool owns the administrator settings singleton: the external API
// credential pool with its round-robin cursor, maintenance mode and coin prices.
package keypool

import (
	"context"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
)

const (
	DefaultSourceRepository   = "https://github.com/Bandah-E-Ali/SUBZERO-MD"
	DefaultMaintenanceMessage = "We are currently undergoing maintenance. Please check back later."

	defaultDeploymentCost int64 = 10
	defaultDailyClaim     int64 = 10
	defaultReferralBonus  int64 = 5
	defaultVoucherAmount  int64 = 10
)

var (
	ErrNoCredentialsConfigured = apperr.Kind(apperr.ErrValidation, "no external api credentials configured")
	ErrInvalidCoinSettings     = apperr.Kind(apperr.ErrValidation, "coin settings must be positive")
	ErrInvalidSourceRepository = apperr.Kind(apperr.ErrValidation, "source repository must be an http(s) url")
)

// CoinSettings holds the named prices and grants.
type CoinSettings struct {
	DeploymentCost int64
	DailyClaim     int64
	ReferralBonus  int64
	VoucherAmount  int64
}

// Settings is the process-wide configuration singleton.
type Settings struct {
	Credentials        []string
	Cursor             int
	SourceRepository   string
	Maintenance        bool
	MaintenanceMessage string
	Coins              CoinSettings
	UpdatedAt          time.Time
}

// DefaultSettings returns the values a fresh singleton starts with.
func DefaultSettings() Settings {
	return Settings{
		Credentials:        []string{},
		SourceRepository:   DefaultSourceRepository,
		MaintenanceMessage: DefaultMaintenanceMessage,
		Coins: CoinSettings{
			DeploymentCost: defaultDeploymentCost,
			DailyClaim:     defaultDailyClaim,
			ReferralBonus:  defaultReferralBonus,
			VoucherAmount:  defaultVoucherAmount,
		},
	}
}

// CurrentCredential returns the credential under the cursor without moving it.
func (settings Settings) CurrentCredential() (string, error) {
	if len(settings.Credentials) == 0 {
		return "", ErrNoCredentialsConfigured
	}
	return settings.Credentials[normalizeCursor(settings.Cursor, len(settings.Credentials))], nil
}

// advance moves the cursor one step round-robin and returns the credential it lands on.
func (settings *Settings) advance() (string, error) {
	if len(settings.Credentials) == 0 {
		return "", ErrNoCredentialsConfigured
	}
	settings.Cursor = (normalizeCursor(settings.Cursor, len(settings.Credentials)) + 1) % len(settings.Credentials)
	return settings.Credentials[settings.Cursor], nil
}

// Validate checks the coin settings.
func (coins CoinSettings) Validate() error {
	if coins.DeploymentCost <= 0 || coins.DailyClaim <= 0 || coins.ReferralBonus <= 0 || coins.VoucherAmount <= 0 {
		return ErrInvalidCoinSettings
	}
	return nil
}

func normalizeCursor(cursor int, length int) int {
	if length == 0 || cursor < 0 || cursor >= length {
		return 0
	}
	return cursor
}

func normalizeCredentials(raw []string) []string {
	credentials := make([]string, 0, len(raw))
	for _, credential := range raw {
		trimmed := strings.TrimSpace(credential)
		if trimmed != "" {
			credentials = append(credentials, trimmed)
		}
	}
	return credentials
}

// Store persists the singleton.
type Store interface {
	// GetOrCreateSettings returns the singleton, inserting defaults when it does not exist yet.
	GetOrCreateSettings(ctx context.Context, defaults Settings) (Settings, error)
	// UpdateSettings locks the singleton, applies mutate and persists the result in one transaction.
	UpdateSettings(ctx context.Context, defaults Settings, mutate func(settings *Settings) error) (Settings, error)
}
