// Package wallet covers the coin operations a user drives directly: the daily
// claim, voucher redemption, peer transfers and the history view.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
)

// ClaimCooldown is the minimum time between two daily claims.
const ClaimCooldown = 24 * time.Hour

var (
	ErrClaimCooldown          = apperr.Kind(apperr.ErrValidation, "daily claim already collected")
	ErrInvalidVoucher         = apperr.Kind(apperr.ErrValidation, "invalid voucher code")
	ErrVoucherAlreadyRedeemed = apperr.Kind(apperr.ErrValidation, "voucher already redeemed")
	ErrVoucherExists          = apperr.Kind(apperr.ErrConflict, "voucher code already exists")
	ErrInvalidVoucherScope    = apperr.Kind(apperr.ErrValidation, "voucher scope must be per_account or global")
	ErrRecipientNotFound      = apperr.Kind(apperr.ErrNotFound, "recipient not found")
	ErrInvalidServiceConfig   = errors.New("invalid wallet service config")
)

// ClaimCooldownError tells how long until the next claim opens.
type ClaimCooldownError struct {
	HoursRemaining int
}

// Error returns the formatted message.
func (cooldownError *ClaimCooldownError) Error() string {
	return fmt.Sprintf("you can claim again in %d hours", cooldownError.HoursRemaining)
}

// Is matches ErrClaimCooldown.
func (cooldownError *ClaimCooldownError) Is(target error) bool {
	return target == ErrClaimCooldown || errors.Is(ErrClaimCooldown, target)
}

func newClaimCooldownError(lastClaimAt time.Time, now time.Time) *ClaimCooldownError {
	remaining := lastClaimAt.Add(ClaimCooldown).Sub(now)
	hours := int(math.Ceil(remaining.Hours()))
	if hours < 1 {
		hours = 1
	}
	return &ClaimCooldownError{HoursRemaining: hours}
}

// Scope tells who may redeem a voucher.
type Scope string

const (
	// ScopePerAccount vouchers can be redeemed once by every account.
	ScopePerAccount Scope = "per_account"
	// ScopeGlobal vouchers can be redeemed once in total.
	ScopeGlobal Scope = "global"
)

// ParseScope validates a scope name; empty means per account.
func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.TrimSpace(raw)) {
	case "", ScopePerAccount:
		return ScopePerAccount, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	default:
		return "", ErrInvalidVoucherScope
	}
}

// Voucher is a redeemable code.
type Voucher struct {
	VoucherID string
	Code      string
	Amount    int64
	Scope     Scope
	Active    bool
	CreatedAt time.Time
}

// redemptionKey is unique per redemption slot: one per account or one in total.
func (voucher Voucher) redemptionKey(accountID ledger.AccountID) string {
	if voucher.Scope == ScopeGlobal {
		return voucher.Code + ":global"
	}
	return voucher.Code + ":" + accountID.String()
}

// Redemption is one use of a voucher.
type Redemption struct {
	VoucherID     string
	AccountID     ledger.AccountID
	RedemptionKey string
	CreatedAt     time.Time
}

// Party is an account on either side of a transfer.
type Party struct {
	AccountID ledger.AccountID
	Handle    string
}

// Store persists wallet state.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// MarkClaimed sets the claim time when the previous claim is at or before notAfter; false means the cooldown holds.
	MarkClaimed(ctx context.Context, accountID ledger.AccountID, now time.Time, notAfter time.Time) (bool, error)
	LastClaimAt(ctx context.Context, accountID ledger.AccountID) (*time.Time, error)
	FindVoucher(ctx context.Context, code string) (Voucher, error)
	// InsertRedemption fails with ErrVoucherAlreadyRedeemed when the redemption key is used.
	InsertRedemption(ctx context.Context, redemption Redemption) error
	CreateVoucher(ctx context.Context, voucher Voucher) (Voucher, error)
	ListVouchers(ctx context.Context) ([]Voucher, error)
	FindParty(ctx context.Context, accountID ledger.AccountID) (Party, error)
	// FindRecipient resolves a handle or email, never returning the excluded account.
	FindRecipient(ctx context.Context, login string, excluding ledger.AccountID) (Party, error)
	Ledger() ledger.Store
}

// CoinSource supplies current prices and grants.
type CoinSource interface {
	CoinSettings(ctx context.Context) (keypool.CoinSettings, error)
}
