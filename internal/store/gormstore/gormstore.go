package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"github.com/glebarez/sqlite"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectBalance   = "balance"
	errorSubjectEntry     = "entry"
	errorSubjectDeploy    = "deployment"
	errorSubjectLog       = "deployment_log"
	errorSubjectReferral  = "referral"
	errorSubjectSettings  = "settings"
	errorSubjectVoucher   = "voucher"
	errorSubjectMessage   = "message"
	errorSubjectSchema    = "schema"
	errorCodeCreate       = "create"
	errorCodeDelete       = "delete"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeMigrate      = "migrate"
	errorCodeUpdate       = "update"
	settingsSingletonID   = 1
)

// Store is the root of the GORM persistence layer. Each aggregate gets a
// view over the same connection; views created inside WithTx share the transaction.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OpenSQLite opens a sqlite database at path. Writes are serialized on a single connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func sqliteDSN(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	separator := "?"
	if strings.Contains(trimmed, "?") {
		separator = "&"
	}
	return trimmed + separator + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// AutoMigrate creates or updates every table.
func (store *Store) AutoMigrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// DB exposes the underlying handle.
func (store *Store) DB() *gorm.DB {
	return store.db
}

// Ledger returns the ledger view.
func (store *Store) Ledger() *LedgerStore {
	return &LedgerStore{db: store.db}
}

// Accounts returns the account view.
func (store *Store) Accounts() *AccountStore {
	return &AccountStore{db: store.db}
}

// Referrals returns the referral view.
func (store *Store) Referrals() *ReferralStore {
	return &ReferralStore{db: store.db}
}

// Deployments returns the deployment view.
func (store *Store) Deployments() *DeploymentStore {
	return &DeploymentStore{db: store.db}
}

// Settings returns the admin settings view.
func (store *Store) Settings() *SettingsStore {
	return &SettingsStore{db: store.db}
}

// Wallet returns the wallet view.
func (store *Store) Wallet() *WalletStore {
	return &WalletStore{db: store.db}
}

// Messages returns the message view.
func (store *Store) Messages() *MessageStore {
	return &MessageStore{db: store.db}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func utcPointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeOrZero(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}
