package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsStore implements keypool.Store over the admin_settings singleton.
type SettingsStore struct {
	db *gorm.DB
}

var _ keypool.Store = (*SettingsStore)(nil)

// GetOrCreateSettings inserts the defaults unless the row exists and returns the stored row.
func (store *SettingsStore) GetOrCreateSettings(ctx context.Context, defaults keypool.Settings) (keypool.Settings, error) {
	if err := store.ensure(ctx, store.db, defaults); err != nil {
		return keypool.Settings{}, err
	}
	var row AdminSettings
	if err := store.db.WithContext(ctx).Where("id = ?", settingsSingletonID).Take(&row).Error; err != nil {
		return keypool.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeGet, err)
	}
	return mapSettings(row), nil
}

// UpdateSettings reads the singleton under a row lock, applies mutate and writes it back.
// Concurrent callers serialize on the lock, so cursor moves never interleave.
func (store *SettingsStore) UpdateSettings(ctx context.Context, defaults keypool.Settings, mutate func(settings *keypool.Settings) error) (keypool.Settings, error) {
	var updated keypool.Settings
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := store.ensure(ctx, transaction, defaults); err != nil {
			return err
		}
		var row AdminSettings
		err := transaction.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", settingsSingletonID).
			Take(&row).Error
		if err != nil {
			return wrapStoreError(errorSubjectSettings, errorCodeGet, err)
		}
		settings := mapSettings(row)
		if err := mutate(&settings); err != nil {
			return err
		}
		settings.UpdatedAt = time.Now().UTC()
		next := settingsRow(settings)
		if err := transaction.Save(&next).Error; err != nil {
			return wrapStoreError(errorSubjectSettings, errorCodeUpdate, err)
		}
		updated = settings
		return nil
	})
	if err != nil {
		return keypool.Settings{}, err
	}
	return updated, nil
}

func (store *SettingsStore) ensure(ctx context.Context, db *gorm.DB, defaults keypool.Settings) error {
	if defaults.UpdatedAt.IsZero() {
		defaults.UpdatedAt = time.Now().UTC()
	}
	row := settingsRow(defaults)
	err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return wrapStoreError(errorSubjectSettings, errorCodeCreate, err)
	}
	return nil
}

func settingsRow(settings keypool.Settings) AdminSettings {
	credentials := settings.Credentials
	if credentials == nil {
		credentials = []string{}
	}
	return AdminSettings{
		ID:                 settingsSingletonID,
		Credentials:        datatypes.JSONSlice[string](credentials),
		Cursor:             settings.Cursor,
		SourceRepository:   settings.SourceRepository,
		Maintenance:        settings.Maintenance,
		MaintenanceMessage: settings.MaintenanceMessage,
		DeploymentCost:     settings.Coins.DeploymentCost,
		DailyClaim:         settings.Coins.DailyClaim,
		ReferralBonus:      settings.Coins.ReferralBonus,
		VoucherAmount:      settings.Coins.VoucherAmount,
		UpdatedAt:          settings.UpdatedAt.UTC(),
	}
}

func mapSettings(row AdminSettings) keypool.Settings {
	credentials := make([]string, len(row.Credentials))
	copy(credentials, row.Credentials)
	return keypool.Settings{
		Credentials:        credentials,
		Cursor:             row.Cursor,
		SourceRepository:   row.SourceRepository,
		Maintenance:        row.Maintenance,
		MaintenanceMessage: row.MaintenanceMessage,
		Coins: keypool.CoinSettings{
			DeploymentCost: row.DeploymentCost,
			DailyClaim:     row.DailyClaim,
			ReferralBonus:  row.ReferralBonus,
			VoucherAmount:  row.VoucherAmount,
		},
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}
