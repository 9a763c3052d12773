package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountStore implements accounts.Store.
type AccountStore struct {
	db *gorm.DB
}

var _ accounts.Store = (*AccountStore)(nil)

func (store *AccountStore) CreateAccount(ctx context.Context, account accounts.Account) (accounts.Account, error) {
	row := Account{
		AccountID:      account.ID.String(),
		Handle:         account.Handle,
		Email:          strings.ToLower(account.Email),
		PasswordHash:   account.PasswordHash,
		Balance:        account.Balance,
		Role:           string(account.Role),
		Active:         account.Active,
		AvatarURL:      account.AvatarURL,
		GitHubHandle:   account.GitHubHandle,
		WhatsAppNumber: account.WhatsAppNumber,
		DisplayName:    account.DisplayName,
		LastClaimAt:    account.LastClaimAt,
		LastLoginAt:    account.LastLoginAt,
		CreatedAt:      account.CreatedAt.UTC(),
	}
	if account.GoogleSubject != "" {
		subject := account.GoogleSubject
		row.GoogleSubject = &subject
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, accounts.ErrAccountExists)
	}
	if err != nil {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return mapAccount(row)
}

func (store *AccountStore) GetAccount(ctx context.Context, accountID ledger.AccountID) (accounts.Account, error) {
	return store.take(ctx, store.db.Where("account_id = ?", accountID.String()))
}

// FindByLogin matches a handle exactly or an email case-insensitively.
func (store *AccountStore) FindByLogin(ctx context.Context, login string) (accounts.Account, error) {
	return store.take(ctx, store.db.Where("handle = ? OR email = ?", login, strings.ToLower(login)))
}

// FindByGoogle prefers a linked subject and falls back to the email address.
func (store *AccountStore) FindByGoogle(ctx context.Context, subject string, email string) (accounts.Account, error) {
	account, err := store.take(ctx, store.db.Where("google_subject = ?", subject))
	if !errors.Is(err, accounts.ErrAccountNotFound) || strings.TrimSpace(email) == "" {
		return account, err
	}
	return store.take(ctx, store.db.Where("email = ?", strings.ToLower(email)))
}

func (store *AccountStore) HandleExists(ctx context.Context, handle string, excluding ledger.AccountID) (bool, error) {
	query := store.db.WithContext(ctx).Model(&Account{}).Where("handle = ?", handle)
	if !excluding.IsZero() {
		query = query.Where("account_id <> ?", excluding.String())
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *AccountStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).Model(&Account{}).Where("email = ?", strings.ToLower(email)).Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *AccountStore) UpdateProfile(ctx context.Context, account accounts.Account) (accounts.Account, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", account.ID.String()).
		Updates(map[string]interface{}{
			"handle":          account.Handle,
			"email":           strings.ToLower(account.Email),
			"avatar_url":      account.AvatarURL,
			"github_handle":   account.GitHubHandle,
			"whatsapp_number": account.WhatsAppNumber,
		})
	if isUniqueViolation(result.Error) {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, accounts.ErrAccountExists)
	}
	if result.Error != nil {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeUpdate, accounts.ErrAccountNotFound)
	}
	return store.GetAccount(ctx, account.ID)
}

func (store *AccountStore) UpdatePasswordHash(ctx context.Context, accountID ledger.AccountID, passwordHash string) error {
	return store.updateColumn(ctx, accountID, "password_hash", passwordHash)
}

func (store *AccountStore) LinkGoogle(ctx context.Context, accountID ledger.AccountID, subject string) error {
	return store.updateColumn(ctx, accountID, "google_subject", subject)
}

func (store *AccountStore) RecordLogin(ctx context.Context, accountID ledger.AccountID, at time.Time) error {
	return store.updateColumn(ctx, accountID, "last_login_at", at.UTC())
}

// ToggleActive flips the flag under a row lock and returns the new value.
func (store *AccountStore) ToggleActive(ctx context.Context, accountID ledger.AccountID) (bool, error) {
	var active bool
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var row Account
		err := transaction.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("account_id", "active").
			Where("account_id = ?", accountID.String()).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return accounts.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		active = !row.Active
		return transaction.Model(&Account{}).Where("account_id = ?", accountID.String()).Update("active", active).Error
	})
	if err != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	return active, nil
}

func (store *AccountStore) SetRole(ctx context.Context, accountID ledger.AccountID, role accounts.Role) error {
	return store.updateColumn(ctx, accountID, "role", string(role))
}

// ListSummaries returns every account with its deployment count, newest first.
func (store *AccountStore) ListSummaries(ctx context.Context) ([]accounts.Summary, error) {
	var rows []accountSummaryRow
	err := store.db.WithContext(ctx).
		Table("accounts").
		Select("accounts.account_id, accounts.handle, accounts.email, accounts.balance, accounts.role, accounts.active, count(deployments.deployment_id) as deployments_count").
		Joins("LEFT JOIN deployments ON deployments.account_id = accounts.account_id").
		Group("accounts.account_id, accounts.handle, accounts.email, accounts.balance, accounts.role, accounts.active, accounts.created_at").
		Order("accounts.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	summaries := make([]accounts.Summary, 0, len(rows))
	for _, row := range rows {
		accountID, err := ledger.NewAccountID(row.AccountID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		role, err := accounts.ParseRole(row.Role)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		summaries = append(summaries, accounts.Summary{
			ID:               accountID,
			Handle:           row.Handle,
			Email:            row.Email,
			Balance:          row.Balance,
			Role:             role,
			Active:           row.Active,
			DeploymentsCount: row.DeploymentsCount,
		})
	}
	return summaries, nil
}

type accountSummaryRow struct {
	AccountID        string
	Handle           string
	Email            string
	Balance          int64
	Role             string
	Active           bool
	DeploymentsCount int64
}

func (store *AccountStore) take(ctx context.Context, query *gorm.DB) (accounts.Account, error) {
	var row Account
	err := query.WithContext(ctx).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, accounts.ErrAccountNotFound)
	}
	if err != nil {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(row)
}

func (store *AccountStore) updateColumn(ctx context.Context, accountID ledger.AccountID, column string, value interface{}) error {
	result := store.db.WithContext(ctx).Model(&Account{}).Where("account_id = ?", accountID.String()).Update(column, value)
	if isUniqueViolation(result.Error) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, accounts.ErrAccountExists)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, accounts.ErrAccountNotFound)
	}
	return nil
}

func mapAccount(row Account) (accounts.Account, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	role, err := accounts.ParseRole(row.Role)
	if err != nil {
		return accounts.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	account := accounts.Account{
		ID:             accountID,
		Handle:         row.Handle,
		Email:          row.Email,
		PasswordHash:   row.PasswordHash,
		Balance:        row.Balance,
		Role:           role,
		Active:         row.Active,
		AvatarURL:      row.AvatarURL,
		GitHubHandle:   row.GitHubHandle,
		WhatsAppNumber: row.WhatsAppNumber,
		DisplayName:    row.DisplayName,
		LastClaimAt:    row.LastClaimAt,
		LastLoginAt:    row.LastLoginAt,
		CreatedAt:      row.CreatedAt.UTC(),
	}
	if row.GoogleSubject != nil {
		account.GoogleSubject = *row.GoogleSubject
	}
	return account, nil
}
