package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// memoryStore is an in-process Store used by the service tests.
// Transactions snapshot state and restore it when fn fails.
type memoryStore struct {
	mutex    *sync.Mutex
	balances map[string]int64
	entries  []Entry
	sequence int
}

func newMockStore(test *testing.T, balances map[string]int64) *memoryStore {
	test.Helper()
	copied := make(map[string]int64, len(balances))
	for key, value := range balances {
		copied[key] = value
	}
	return &memoryStore{mutex: &sync.Mutex{}, balances: copied}
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	balancesSnapshot := make(map[string]int64, len(store.balances))
	for key, value := range store.balances {
		balancesSnapshot[key] = value
	}
	entriesSnapshot := append([]Entry(nil), store.entries...)
	err := fn(ctx, store)
	if err != nil {
		store.balances = balancesSnapshot
		store.entries = entriesSnapshot
	}
	return err
}

func (store *memoryStore) AdjustBalance(_ context.Context, accountID AccountID, delta int64) (int64, error) {
	balance, ok := store.balances[accountID.String()]
	if !ok {
		return 0, ErrUnknownAccount
	}
	if balance+delta < 0 {
		return 0, ErrInsufficientFunds
	}
	store.balances[accountID.String()] = balance + delta
	return balance + delta, nil
}

func (store *memoryStore) InsertEntry(_ context.Context, posting Posting) (Entry, error) {
	store.sequence++
	entry := Entry{
		EntryID:      fmt.Sprintf("entry-%d", store.sequence),
		AccountID:    posting.AccountID,
		Direction:    posting.Direction,
		Amount:       posting.Amount,
		Reason:       posting.Reason,
		Reference:    posting.Reference,
		BalanceAfter: posting.BalanceAfter,
		CreatedAt:    posting.CreatedAt,
	}
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *memoryStore) GetBalance(_ context.Context, accountID AccountID) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	balance, ok := store.balances[accountID.String()]
	if !ok {
		return 0, ErrUnknownAccount
	}
	return balance, nil
}

func (store *memoryStore) ListEntries(_ context.Context, accountID AccountID, limit int) ([]Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var matched []Entry
	for _, entry := range store.entries {
		if entry.AccountID == accountID {
			matched = append(matched, entry)
		}
	}
	for left, right := 0, len(matched)-1; left < right; left, right = left+1, right-1 {
		matched[left], matched[right] = matched[right], matched[left]
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *memoryStore) entryCount(accountID AccountID) int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	count := 0
	for _, entry := range store.entries {
		if entry.AccountID == accountID {
			count++
		}
	}
	return count
}

// failingStore fails every balance adjustment with a fixed error.
type failingStore struct {
	*memoryStore
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{memoryStore: newMockStore(test, map[string]int64{"account-1": 100}), err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *failingStore) AdjustBalance(context.Context, AccountID, int64) (int64, error) {
	return 0, store.err
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}
