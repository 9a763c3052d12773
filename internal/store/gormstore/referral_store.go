package gormstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/referral"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"gorm.io/gorm"
)

// ReferralStore implements referral.Store.
type ReferralStore struct {
	db *gorm.DB
}

var _ referral.Store = (*ReferralStore)(nil)

// WithTx executes fn within a transaction.
func (store *ReferralStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore referral.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &ReferralStore{db: transaction})
	})
}

// Ledger returns a ledger view sharing this store's connection or transaction.
func (store *ReferralStore) Ledger() ledger.Store {
	return &LedgerStore{db: store.db}
}

// FindReferrer resolves a referral code, which is the referrer's handle.
func (store *ReferralStore) FindReferrer(ctx context.Context, handle string) (referral.Referrer, error) {
	var row Account
	err := store.db.WithContext(ctx).
		Select("account_id", "handle").
		Where("handle = ?", handle).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return referral.Referrer{}, wrapStoreError(errorSubjectReferral, errorCodeLookup, referral.ErrReferrerNotFound)
	}
	if err != nil {
		return referral.Referrer{}, wrapStoreError(errorSubjectReferral, errorCodeLookup, err)
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return referral.Referrer{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
	}
	return referral.Referrer{AccountID: accountID, Handle: row.Handle}, nil
}

func (store *ReferralStore) InsertRecord(ctx context.Context, record referral.Record) (referral.Record, error) {
	row := Referral{
		ReferrerID:    record.ReferrerID.String(),
		RefereeID:     record.RefereeID.String(),
		RefereeHandle: record.RefereeHandle,
		CoinsGranted:  record.CoinsGranted,
		Paid:          record.Paid,
		CreatedAt:     record.CreatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return referral.Record{}, wrapStoreError(errorSubjectReferral, errorCodeDuplicate, referral.ErrDuplicateReferee)
	}
	if err != nil {
		return referral.Record{}, wrapStoreError(errorSubjectReferral, errorCodeInsert, err)
	}
	return mapReferral(row)
}

func (store *ReferralStore) MarkPaid(ctx context.Context, recordID string) error {
	result := store.db.WithContext(ctx).Model(&Referral{}).Where("record_id = ?", recordID).Update("paid", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectReferral, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReferral, errorCodeUpdate, gorm.ErrRecordNotFound)
	}
	return nil
}

// ListByReferrer returns the referrer's records, newest first.
func (store *ReferralStore) ListByReferrer(ctx context.Context, referrerID ledger.AccountID) ([]referral.Record, error) {
	var rows []Referral
	err := store.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID.String()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	records := make([]referral.Record, 0, len(rows))
	for _, row := range rows {
		record, err := mapReferral(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func mapReferral(row Referral) (referral.Record, error) {
	referrerID, err := ledger.NewAccountID(row.ReferrerID)
	if err != nil {
		return referral.Record{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
	}
	refereeID, err := ledger.NewAccountID(row.RefereeID)
	if err != nil {
		return referral.Record{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
	}
	return referral.Record{
		RecordID:      row.RecordID,
		ReferrerID:    referrerID,
		RefereeID:     refereeID,
		RefereeHandle: row.RefereeHandle,
		CoinsGranted:  row.CoinsGranted,
		Paid:          row.Paid,
		CreatedAt:     row.CreatedAt.UTC(),
	}, nil
}
