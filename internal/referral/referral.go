// Package referral records one-time referrer/referee relationships and pays the referral bonus.
package referral

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
)

var (
	ErrSelfReferral       = apperr.Kind(apperr.ErrValidation, "account cannot refer itself")
	ErrReferrerNotFound   = apperr.Kind(apperr.ErrNotFound, "referral code not found")
	ErrDuplicateReferee   = apperr.Kind(apperr.ErrConflict, "referee already recorded")
	ErrInvalidServiceConf = errors.New("invalid referral service config")
)

// Referee is the freshly created account that supplied a referral code.
type Referee struct {
	AccountID ledger.AccountID
	Handle    string
}

// Referrer is the account a referral code resolves to.
type Referrer struct {
	AccountID ledger.AccountID
	Handle    string
}

// Record is one referrer to referee relationship.
type Record struct {
	RecordID      string
	ReferrerID    ledger.AccountID
	RefereeID     ledger.AccountID
	RefereeHandle string
	CoinsGranted  int64
	Paid          bool
	CreatedAt     time.Time
}

// Summary aggregates a referrer's records for display.
type Summary struct {
	ReferralURL    string
	TotalReferrals int
	EarnedCoins    int64
	Records        []Record
}

// Store persists referral records.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	FindReferrer(ctx context.Context, handle string) (Referrer, error)
	// InsertRecord fails with ErrDuplicateReferee when the referee already has a record.
	InsertRecord(ctx context.Context, record Record) (Record, error)
	MarkPaid(ctx context.Context, recordID string) error
	ListByReferrer(ctx context.Context, referrerID ledger.AccountID) ([]Record, error)
	Ledger() ledger.Store
}

// BonusSource supplies the current referral bonus.
type BonusSource interface {
	ReferralBonus(ctx context.Context) (ledger.Amount, error)
}
