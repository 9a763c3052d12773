package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/wallet"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"gorm.io/gorm"
)

// WalletStore implements wallet.Store.
type WalletStore struct {
	db *gorm.DB
}

var _ wallet.Store = (*WalletStore)(nil)

// WithTx executes fn within a transaction.
func (store *WalletStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &WalletStore{db: transaction})
	})
}

// Ledger returns a ledger view sharing this store's connection or transaction.
func (store *WalletStore) Ledger() ledger.Store {
	return &LedgerStore{db: store.db}
}

// MarkClaimed is a guarded UPDATE; two concurrent claims cannot both succeed.
func (store *WalletStore) MarkClaimed(ctx context.Context, accountID ledger.AccountID, now time.Time, notAfter time.Time) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND (last_claim_at IS NULL OR last_claim_at <= ?)", accountID.String(), notAfter.UTC()).
		Update("last_claim_at", now.UTC())
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.FindParty(ctx, accountID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (store *WalletStore) LastClaimAt(ctx context.Context, accountID ledger.AccountID) (*time.Time, error) {
	var row Account
	err := store.db.WithContext(ctx).Select("account_id", "last_claim_at").Where("account_id = ?", accountID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	if row.LastClaimAt == nil {
		return nil, nil
	}
	value := row.LastClaimAt.UTC()
	return &value, nil
}

func (store *WalletStore) FindVoucher(ctx context.Context, code string) (wallet.Voucher, error) {
	var row Voucher
	err := store.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Voucher{}, wrapStoreError(errorSubjectVoucher, errorCodeGet, wallet.ErrInvalidVoucher)
	}
	if err != nil {
		return wallet.Voucher{}, wrapStoreError(errorSubjectVoucher, errorCodeGet, err)
	}
	return mapVoucher(row)
}

func (store *WalletStore) InsertRedemption(ctx context.Context, redemption wallet.Redemption) error {
	row := VoucherRedemption{
		VoucherID:     redemption.VoucherID,
		AccountID:     redemption.AccountID.String(),
		RedemptionKey: redemption.RedemptionKey,
		CreatedAt:     redemption.CreatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectVoucher, errorCodeDuplicate, wallet.ErrVoucherAlreadyRedeemed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectVoucher, errorCodeInsert, err)
	}
	return nil
}

func (store *WalletStore) CreateVoucher(ctx context.Context, voucher wallet.Voucher) (wallet.Voucher, error) {
	row := Voucher{
		Code:      voucher.Code,
		Amount:    voucher.Amount,
		Scope:     string(voucher.Scope),
		Active:    voucher.Active,
		CreatedAt: voucher.CreatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wallet.Voucher{}, wrapStoreError(errorSubjectVoucher, errorCodeDuplicate, wallet.ErrVoucherExists)
	}
	if err != nil {
		return wallet.Voucher{}, wrapStoreError(errorSubjectVoucher, errorCodeCreate, err)
	}
	return mapVoucher(row)
}

func (store *WalletStore) ListVouchers(ctx context.Context) ([]wallet.Voucher, error) {
	var rows []Voucher
	if err := store.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectVoucher, errorCodeList, err)
	}
	vouchers := make([]wallet.Voucher, 0, len(rows))
	for _, row := range rows {
		voucher, err := mapVoucher(row)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, voucher)
	}
	return vouchers, nil
}

func (store *WalletStore) FindParty(ctx context.Context, accountID ledger.AccountID) (wallet.Party, error) {
	return store.takeParty(ctx, store.db.Where("account_id = ?", accountID.String()), ledger.ErrUnknownAccount)
}

func (store *WalletStore) FindRecipient(ctx context.Context, login string, excluding ledger.AccountID) (wallet.Party, error) {
	query := store.db.Where("(handle = ? OR email = ?) AND account_id <> ?", login, strings.ToLower(login), excluding.String())
	return store.takeParty(ctx, query, wallet.ErrRecipientNotFound)
}

func (store *WalletStore) takeParty(ctx context.Context, query *gorm.DB, notFound error) (wallet.Party, error) {
	var row Account
	err := query.WithContext(ctx).Select("account_id", "handle").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Party{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, notFound)
	}
	if err != nil {
		return wallet.Party{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return wallet.Party{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return wallet.Party{AccountID: accountID, Handle: row.Handle}, nil
}

func mapVoucher(row Voucher) (wallet.Voucher, error) {
	scope, err := wallet.ParseScope(row.Scope)
	if err != nil {
		return wallet.Voucher{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	return wallet.Voucher{
		VoucherID: row.VoucherID,
		Code:      row.Code,
		Amount:    row.Amount,
		Scope:     scope,
		Active:    row.Active,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}
