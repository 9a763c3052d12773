package ledger

import "context"

// Balance returns the current balance of an account.
func (service *Service) Balance(ctx context.Context, accountID AccountID) (int64, error) {
	if accountID.IsZero() {
		return 0, ErrInvalidAccountID
	}
	balance, err := service.store.GetBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if balance < 0 {
		return 0, WrapError("service", "balance", "negative_balance", ErrInvalidBalance)
	}
	return balance, nil
}

// ListEntries lists an account's entries newest first.
func (service *Service) ListEntries(ctx context.Context, accountID AccountID, limit int) ([]Entry, error) {
	if accountID.IsZero() {
		return nil, ErrInvalidAccountID
	}
	return service.store.ListEntries(ctx, accountID, normalizeListLimit(limit))
}

func normalizeListLimit(limit int) int {
	if limit <= 0 {
		return defaultListEntriesLimit
	}
	if limit > maxListEntriesLimit {
		return maxListEntriesLimit
	}
	return limit
}
