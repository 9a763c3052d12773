package gormstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"gorm.io/gorm"
)

// LedgerStore implements ledger.Store over the accounts and ledger_entries tables.
type LedgerStore struct {
	db *gorm.DB
}

var _ ledger.Store = (*LedgerStore)(nil)

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

// AdjustBalance applies delta with a single guarded UPDATE so that concurrent
// debits can never overdraw the account.
func (store *LedgerStore) AdjustBalance(ctx context.Context, accountID ledger.AccountID, delta int64) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND balance + ? >= 0", accountID.String(), delta).
		Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetBalance(ctx, accountID); err != nil {
			return 0, err
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrInsufficientFunds)
	}
	return store.GetBalance(ctx, accountID)
}

// InsertEntry appends a ledger entry.
func (store *LedgerStore) InsertEntry(ctx context.Context, posting ledger.Posting) (ledger.Entry, error) {
	var next sqlSequence
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(max(sequence),0) + 1 as next").
		Where("account_id = ?", posting.AccountID.String()).
		Scan(&next).Error
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	row := LedgerEntry{
		AccountID:    posting.AccountID.String(),
		Direction:    string(posting.Direction),
		Amount:       posting.Amount.Int64(),
		Reason:       posting.Reason,
		BalanceAfter: posting.BalanceAfter,
		Sequence:     next.Next,
		CreatedAt:    posting.CreatedAt.UTC(),
	}
	if posting.Reference != nil {
		kind := string(posting.Reference.Kind)
		referenceID := posting.Reference.ID
		row.ReferenceKind = &kind
		row.ReferenceID = &referenceID
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

// GetBalance reads the materialized balance.
func (store *LedgerStore) GetBalance(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Select("account_id", "balance").
		Where("account_id = ?", accountID.String()).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return account.Balance, nil
}

// ListEntries returns the newest entries first.
func (store *LedgerStore) ListEntries(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("created_at DESC").
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type sqlSequence struct {
	Next int64
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Entry{}, err
	}
	direction, err := ledger.ParseDirection(row.Direction)
	if err != nil {
		return ledger.Entry{}, err
	}
	amount, err := ledger.NewAmount(row.Amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	var reference *ledger.Reference
	if row.ReferenceKind != nil && row.ReferenceID != nil {
		reference, err = ledger.NewReference(ledger.ReferenceKind(*row.ReferenceKind), *row.ReferenceID)
		if err != nil {
			return ledger.Entry{}, err
		}
	}
	return ledger.Entry{
		EntryID:      row.EntryID,
		AccountID:    accountID,
		Direction:    direction,
		Amount:       amount,
		Reason:       row.Reason,
		Reference:    reference,
		BalanceAfter: row.BalanceAfter,
		CreatedAt:    row.CreatedAt.UTC(),
	}, nil
}
