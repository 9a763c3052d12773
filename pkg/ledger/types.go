package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Amount is a positive whole number of coins.
type Amount int64

// AccountID identifies the account that owns a balance.
type AccountID struct {
	value string
}

// Direction tells whether an entry added to or removed from a balance.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// ReferenceKind names the kind of entity that caused an entry.
type ReferenceKind string

const (
	ReferenceDeployment ReferenceKind = "deployment"
	ReferenceAccount    ReferenceKind = "account"
	ReferenceVoucher    ReferenceKind = "voucher"
)

// Reference points at the entity that caused an entry.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

// Posting is the store input for a single entry.
type Posting struct {
	AccountID    AccountID
	Direction    Direction
	Amount       Amount
	Reason       string
	Reference    *Reference
	BalanceAfter int64
	CreatedAt    time.Time
}

// Entry is an immutable record of one balance change.
type Entry struct {
	EntryID      string
	AccountID    AccountID
	Direction    Direction
	Amount       Amount
	Reason       string
	Reference    *Reference
	BalanceAfter int64
	CreatedAt    time.Time
}

// SignedAmount returns the amount with the sign of its direction applied.
func (entry Entry) SignedAmount() int64 {
	if entry.Direction == DirectionDebit {
		return -entry.Amount.Int64()
	}
	return entry.Amount.Int64()
}

// Store is the persistence contract the ledger runs against.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// AdjustBalance applies delta in a single conditional update and returns the new balance.
	// A delta that would drive the balance below zero fails with ErrInsufficientFunds and changes nothing.
	AdjustBalance(ctx context.Context, accountID AccountID, delta int64) (int64, error)
	InsertEntry(ctx context.Context, posting Posting) (Entry, error)
	GetBalance(ctx context.Context, accountID AccountID) (int64, error)
	ListEntries(ctx context.Context, accountID AccountID, limit int) ([]Entry, error)
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewAmount validates a positive amount.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 exposes the raw value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// ParseDirection validates a stored direction value.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.TrimSpace(raw)) {
	case DirectionCredit:
		return DirectionCredit, nil
	case DirectionDebit:
		return DirectionDebit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// NewReference validates a reference to a causing entity.
func NewReference(kind ReferenceKind, id string) (*Reference, error) {
	switch kind {
	case ReferenceDeployment, ReferenceAccount, ReferenceVoucher:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidReference, kind)
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidReference)
	}
	return &Reference{Kind: kind, ID: trimmed}, nil
}

func normalizeReason(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidReason)
	}
	return trimmed, nil
}
