package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"go.uber.org/zap"
)

const historyLimit = 50

// Result reports the amount moved and the caller's balance afterwards.
type Result struct {
	Amount  int64
	Balance int64
}

// TransferResult reports a completed send.
type TransferResult struct {
	Recipient Party
	Amount    int64
	Balance   int64
}

// VoucherInput is the admin input for a new voucher.
type VoucherInput struct {
	Code   string
	Amount int64
	Scope  Scope
}

// Service implements the wallet commands.
type Service struct {
	store  Store
	ledger *ledger.Service
	coins  CoinSource
	nowFn  func() time.Time
	logger *zap.Logger
}

// NewService wires a wallet Service.
func NewService(store Store, ledgerService *ledger.Service, coins CoinSource, now func() time.Time, logger *zap.Logger) (*Service, error) {
	if store == nil || ledgerService == nil || coins == nil || now == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ledger: ledgerService, coins: coins, nowFn: now, logger: logger}, nil
}

// Claim credits the daily grant once per cooldown window.
func (service *Service) Claim(ctx context.Context, actor accounts.Actor) (Result, error) {
	coins, err := service.coins.CoinSettings(ctx)
	if err != nil {
		return Result{}, err
	}
	amount, err := ledger.NewAmount(coins.DailyClaim)
	if err != nil {
		return Result{}, err
	}
	now := service.nowFn().UTC()
	var entry ledger.Entry
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		claimed, claimErr := txStore.MarkClaimed(ctx, actor.AccountID, now, now.Add(-ClaimCooldown))
		if claimErr != nil {
			return claimErr
		}
		if !claimed {
			lastClaimAt, lookupErr := txStore.LastClaimAt(ctx, actor.AccountID)
			if lookupErr != nil {
				return lookupErr
			}
			if lastClaimAt == nil {
				return ErrClaimCooldown
			}
			return newClaimCooldownError(*lastClaimAt, now)
		}
		var creditErr error
		entry, creditErr = service.ledger.CreditWith(ctx, txStore.Ledger(), actor.AccountID, amount, "Daily coin claim", nil)
		return creditErr
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Amount: amount.Int64(), Balance: entry.BalanceAfter}, nil
}

// Redeem credits a voucher's amount if the caller's redemption slot is still free.
func (service *Service) Redeem(ctx context.Context, actor accounts.Actor, code string) (Result, error) {
	normalized := strings.TrimSpace(code)
	if normalized == "" {
		return Result{}, ErrInvalidVoucher
	}
	voucher, err := service.store.FindVoucher(ctx, normalized)
	if err != nil {
		return Result{}, err
	}
	if !voucher.Active {
		return Result{}, ErrInvalidVoucher
	}
	amount, err := ledger.NewAmount(voucher.Amount)
	if err != nil {
		return Result{}, err
	}
	reference, err := ledger.NewReference(ledger.ReferenceVoucher, voucher.VoucherID)
	if err != nil {
		return Result{}, err
	}
	now := service.nowFn().UTC()
	var entry ledger.Entry
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if insertErr := txStore.InsertRedemption(ctx, Redemption{
			VoucherID:     voucher.VoucherID,
			AccountID:     actor.AccountID,
			RedemptionKey: voucher.redemptionKey(actor.AccountID),
			CreatedAt:     now,
		}); insertErr != nil {
			return insertErr
		}
		var creditErr error
		entry, creditErr = service.ledger.CreditWith(ctx, txStore.Ledger(), actor.AccountID, amount, fmt.Sprintf("Voucher redemption (%s)", voucher.Code), reference)
		return creditErr
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Amount: amount.Int64(), Balance: entry.BalanceAfter}, nil
}

// Send moves coins from the caller to the account named by a handle or email.
// Debit and credit commit together or not at all.
func (service *Service) Send(ctx context.Context, actor accounts.Actor, recipientLogin string, rawAmount int64) (TransferResult, error) {
	amount, err := ledger.NewAmount(rawAmount)
	if err != nil {
		return TransferResult{}, err
	}
	login := strings.TrimSpace(recipientLogin)
	if login == "" {
		return TransferResult{}, ErrRecipientNotFound
	}
	sender, err := service.store.FindParty(ctx, actor.AccountID)
	if err != nil {
		return TransferResult{}, err
	}
	recipient, err := service.store.FindRecipient(ctx, login, actor.AccountID)
	if err != nil {
		return TransferResult{}, err
	}
	toRecipient, err := ledger.NewReference(ledger.ReferenceAccount, recipient.AccountID.String())
	if err != nil {
		return TransferResult{}, err
	}
	fromSender, err := ledger.NewReference(ledger.ReferenceAccount, sender.AccountID.String())
	if err != nil {
		return TransferResult{}, err
	}
	var debit ledger.Entry
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		var debitErr error
		debit, debitErr = service.ledger.DebitWith(ctx, txStore.Ledger(), sender.AccountID, amount, "Sent to "+recipient.Handle, toRecipient)
		if debitErr != nil {
			return debitErr
		}
		_, creditErr := service.ledger.CreditWith(ctx, txStore.Ledger(), recipient.AccountID, amount, "Received from "+sender.Handle, fromSender)
		return creditErr
	})
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Recipient: recipient, Amount: amount.Int64(), Balance: debit.BalanceAfter}, nil
}

// History lists the caller's most recent ledger entries.
func (service *Service) History(ctx context.Context, actor accounts.Actor) ([]ledger.Entry, error) {
	return service.ledger.ListEntries(ctx, actor.AccountID, historyLimit)
}

// CreateVoucher adds a voucher; a zero amount uses the configured voucher amount.
func (service *Service) CreateVoucher(ctx context.Context, actor accounts.Actor, input VoucherInput) (Voucher, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return Voucher{}, err
	}
	return service.createVoucher(ctx, input)
}

// ListVouchers returns every voucher to an administrator.
func (service *Service) ListVouchers(ctx context.Context, actor accounts.Actor) ([]Voucher, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	return service.store.ListVouchers(ctx)
}

// EnsureVoucher seeds a voucher at startup, leaving an existing one untouched.
func (service *Service) EnsureVoucher(ctx context.Context, code string, scope Scope) (Voucher, error) {
	voucher, err := service.createVoucher(ctx, VoucherInput{Code: code, Scope: scope})
	if errors.Is(err, ErrVoucherExists) {
		return service.store.FindVoucher(ctx, strings.TrimSpace(code))
	}
	return voucher, err
}

func (service *Service) createVoucher(ctx context.Context, input VoucherInput) (Voucher, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" || strings.ContainsAny(code, " \t\r\n:") {
		return Voucher{}, ErrInvalidVoucher
	}
	scope, err := ParseScope(string(input.Scope))
	if err != nil {
		return Voucher{}, err
	}
	amount := input.Amount
	if amount == 0 {
		coins, err := service.coins.CoinSettings(ctx)
		if err != nil {
			return Voucher{}, err
		}
		amount = coins.VoucherAmount
	}
	if _, err := ledger.NewAmount(amount); err != nil {
		return Voucher{}, err
	}
	voucher, err := service.store.CreateVoucher(ctx, Voucher{
		Code:      code,
		Amount:    amount,
		Scope:     scope,
		Active:    true,
		CreatedAt: service.nowFn().UTC(),
	})
	if err != nil {
		return Voucher{}, err
	}
	service.logger.Info("voucher created", zap.String("code", voucher.Code), zap.String("scope", string(voucher.Scope)), zap.Int64("amount", voucher.Amount))
	return voucher, nil
}
