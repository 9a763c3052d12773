package ledger

import (
	"context"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() time.Time
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Credit adds amount to the account balance and records the entry.
func (service *Service) Credit(ctx context.Context, accountID AccountID, amount Amount, reason string, reference *Reference) (Entry, error) {
	var entry Entry
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var postErr error
		entry, postErr = service.CreditWith(ctx, transactionStore, accountID, amount, reason, reference)
		return postErr
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Debit removes amount from the account balance and records the entry.
// It fails with ErrInsufficientFunds without touching anything when the balance is short.
func (service *Service) Debit(ctx context.Context, accountID AccountID, amount Amount, reason string, reference *Reference) (Entry, error) {
	var entry Entry
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var postErr error
		entry, postErr = service.DebitWith(ctx, transactionStore, accountID, amount, reason, reference)
		return postErr
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// CreditWith posts a credit through a store that is already inside a transaction.
func (service *Service) CreditWith(ctx context.Context, transactionStore Store, accountID AccountID, amount Amount, reason string, reference *Reference) (Entry, error) {
	entry, err := service.post(ctx, transactionStore, DirectionCredit, accountID, amount, reason, reference)
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		Reference: reference,
		Error:     err,
	})
	return entry, err
}

// DebitWith posts a debit through a store that is already inside a transaction.
func (service *Service) DebitWith(ctx context.Context, transactionStore Store, accountID AccountID, amount Amount, reason string, reference *Reference) (Entry, error) {
	entry, err := service.post(ctx, transactionStore, DirectionDebit, accountID, amount, reason, reference)
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		Reference: reference,
		Error:     err,
	})
	return entry, err
}

func (service *Service) post(ctx context.Context, transactionStore Store, direction Direction, accountID AccountID, amount Amount, reason string, reference *Reference) (Entry, error) {
	if transactionStore == nil {
		return Entry{}, fmt.Errorf("%w: transaction store is nil", ErrInvalidServiceConfig)
	}
	if accountID.IsZero() {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := NewAmount(amount.Int64()); err != nil {
		return Entry{}, err
	}
	normalizedReason, err := normalizeReason(reason)
	if err != nil {
		return Entry{}, err
	}
	delta := amount.Int64()
	if direction == DirectionDebit {
		delta = -delta
	}
	balanceAfter, err := transactionStore.AdjustBalance(ctx, accountID, delta)
	if err != nil {
		return Entry{}, err
	}
	return transactionStore.InsertEntry(ctx, Posting{
		AccountID:    accountID,
		Direction:    direction,
		Amount:       amount,
		Reason:       normalizedReason,
		Reference:    reference,
		BalanceAfter: balanceAfter,
		CreatedAt:    service.nowFn().UTC(),
	})
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
