package keypool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"go.uber.org/zap"
)

var ErrInvalidServiceConfig = errors.New("invalid keypool service config")

// Service exposes the settings singleton.
type Service struct {
	store    Store
	defaults Settings
	nowFn    func() time.Time
	logger   *zap.Logger
}

// NewService wires a keypool Service. defaults seeds the singleton on first access.
func NewService(store Store, defaults Settings, now func() time.Time, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, defaults: defaults, nowFn: now, logger: logger}, nil
}

// Settings returns the current singleton.
func (service *Service) Settings(ctx context.Context) (Settings, error) {
	return service.store.GetOrCreateSettings(ctx, service.defaults)
}

// NextCredential advances the cursor and returns the credential at the new position.
func (service *Service) NextCredential(ctx context.Context) (string, error) {
	var credential string
	_, err := service.store.UpdateSettings(ctx, service.defaults, func(settings *Settings) error {
		next, advanceErr := settings.advance()
		if advanceErr != nil {
			return advanceErr
		}
		credential = next
		settings.UpdatedAt = service.nowFn().UTC()
		return nil
	})
	if err != nil {
		return "", err
	}
	return credential, nil
}

// CurrentCredential returns the credential under the cursor.
func (service *Service) CurrentCredential(ctx context.Context) (string, error) {
	settings, err := service.Settings(ctx)
	if err != nil {
		return "", err
	}
	return settings.CurrentCredential()
}

// CoinSettings returns the configured prices and grants.
func (service *Service) CoinSettings(ctx context.Context) (CoinSettings, error) {
	settings, err := service.Settings(ctx)
	if err != nil {
		return CoinSettings{}, err
	}
	return settings.Coins, nil
}

// ReferralBonus returns the bonus credited to referrers.
func (service *Service) ReferralBonus(ctx context.Context) (ledger.Amount, error) {
	coins, err := service.CoinSettings(ctx)
	if err != nil {
		return 0, err
	}
	return ledger.NewAmount(coins.ReferralBonus)
}

// Maintenance reports whether maintenance mode is on and its message.
func (service *Service) Maintenance(ctx context.Context) (bool, string, error) {
	settings, err := service.Settings(ctx)
	if err != nil {
		return false, "", err
	}
	return settings.Maintenance, settings.MaintenanceMessage, nil
}

// Overview returns the full singleton to an administrator.
func (service *Service) Overview(ctx context.Context, actor accounts.Actor) (Settings, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return Settings{}, err
	}
	return service.Settings(ctx)
}

// ReplaceCredentials swaps the whole credential list and resets the cursor.
func (service *Service) ReplaceCredentials(ctx context.Context, actor accounts.Actor, credentials []string) (Settings, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return Settings{}, err
	}
	normalized := normalizeCredentials(credentials)
	updated, err := service.store.UpdateSettings(ctx, service.defaults, func(settings *Settings) error {
		settings.Credentials = normalized
		settings.Cursor = 0
		settings.UpdatedAt = service.nowFn().UTC()
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	service.logger.Info("credential pool replaced",
		zap.String("admin_id", actor.AccountID.String()),
		zap.Int("credentials", len(normalized)),
	)
	return updated, nil
}

// SetMaintenance toggles maintenance mode; an empty message restores the default one.
func (service *Service) SetMaintenance(ctx context.Context, actor accounts.Actor, enabled bool, message string) (Settings, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return Settings{}, err
	}
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = DefaultMaintenanceMessage
	}
	updated, err := service.store.UpdateSettings(ctx, service.defaults, func(settings *Settings) error {
		settings.Maintenance = enabled
		settings.MaintenanceMessage = trimmed
		settings.UpdatedAt = service.nowFn().UTC()
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	service.logger.Info("maintenance mode updated", zap.String("admin_id", actor.AccountID.String()), zap.Bool("maintenance", enabled))
	return updated, nil
}

// UpdateCoinSettings replaces the prices and grants.
func (service *Service) UpdateCoinSettings(ctx context.Context, actor accounts.Actor, coins CoinSettings) (Settings, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return Settings{}, err
	}
	if err := coins.Validate(); err != nil {
		return Settings{}, err
	}
	return service.store.UpdateSettings(ctx, service.defaults, func(settings *Settings) error {
		settings.Coins = coins
		settings.UpdatedAt = service.nowFn().UTC()
		return nil
	})
}

// SetSourceRepository changes the repository builds are triggered from.
func (service *Service) SetSourceRepository(ctx context.Context, actor accounts.Actor, repository string) (Settings, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return Settings{}, err
	}
	trimmed := strings.TrimRight(strings.TrimSpace(repository), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return Settings{}, ErrInvalidSourceRepository
	}
	return service.store.UpdateSettings(ctx, service.defaults, func(settings *Settings) error {
		settings.SourceRepository = trimmed
		settings.UpdatedAt = service.nowFn().UTC()
		return nil
	})
}
