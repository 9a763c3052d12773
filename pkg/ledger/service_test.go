package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	testAccountRaw      = "account-1"
	testRecipientRaw    = "account-2"
	testInitialGrant    = 100
	testDeploymentCost  = 10
	testReasonDeploy    = "Deployment: mybot"
	testReasonClaim     = "Daily claim"
	testDeploymentRefID = "deployment-1"
)

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func TestNewServiceRejectsMissingDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, time.Now); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	store := newMockStore(test, nil)
	if _, err := NewService(store, nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}

func TestServiceDebitRecordsEntryMatchingDelta(test *testing.T) {
	test.Parallel()
	account := mustAccountID(test, testAccountRaw)
	store := newMockStore(test, map[string]int64{testAccountRaw: testDeploymentCost})
	service := newTestService(test, store)
	reference, err := NewReference(ReferenceDeployment, testDeploymentRefID)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	entry, err := service.Debit(context.Background(), account, mustAmount(test, testDeploymentCost), testReasonDeploy, reference)
	if err != nil {
		test.Fatalf("debit failed: %v", err)
	}
	if entry.Direction != DirectionDebit || entry.Amount != testDeploymentCost || entry.BalanceAfter != 0 {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Reference == nil || entry.Reference.ID != testDeploymentRefID {
		test.Fatalf("expected deployment reference, got %+v", entry.Reference)
	}
	if !entry.CreatedAt.Equal(fixedNow) {
		test.Fatalf("expected created at %v, got %v", fixedNow, entry.CreatedAt)
	}
	balance, err := service.Balance(context.Background(), account)
	if err != nil {
		test.Fatalf("balance failed: %v", err)
	}
	if balance != 0 {
		test.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestServiceDebitInsufficientFundsLeavesStateUnchanged(test *testing.T) {
	test.Parallel()
	account := mustAccountID(test, testAccountRaw)
	store := newMockStore(test, map[string]int64{testAccountRaw: 5})
	service := newTestService(test, store)
	_, err := service.Debit(context.Background(), account, mustAmount(test, testDeploymentCost), testReasonDeploy, nil)
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	balance, err := service.Balance(context.Background(), account)
	if err != nil {
		test.Fatalf("balance failed: %v", err)
	}
	if balance != 5 {
		test.Fatalf("expected balance 5, got %d", balance)
	}
	if count := store.entryCount(account); count != 0 {
		test.Fatalf("expected no entries, got %d", count)
	}
}

func TestServiceRejectsInvalidPostings(test *testing.T) {
	test.Parallel()
	account := mustAccountID(test, testAccountRaw)
	cases := []struct {
		name    string
		account AccountID
		amount  Amount
		reason  string
		wantErr error
	}{
		{name: "zero amount", account: account, amount: 0, reason: testReasonClaim, wantErr: ErrInvalidAmount},
		{name: "blank reason", account: account, amount: 1, reason: "  ", wantErr: ErrInvalidReason},
		{name: "empty account", account: AccountID{}, amount: 1, reason: testReasonClaim, wantErr: ErrInvalidAccountID},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newMockStore(test, map[string]int64{testAccountRaw: testInitialGrant})
			service := newTestService(test, store)
			_, err := service.Credit(context.Background(), testCase.account, testCase.amount, testCase.reason, nil)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			if count := store.entryCount(account); count != 0 {
				test.Fatalf("expected no entries, got %d", count)
			}
		})
	}
}

func TestServiceUnknownAccount(test *testing.T) {
	test.Parallel()
	store := newMockStore(test, nil)
	service := newTestService(test, store)
	_, err := service.Credit(context.Background(), mustAccountID(test, "ghost"), mustAmount(test, 1), testReasonClaim, nil)
	if !errors.Is(err, ErrUnknownAccount) {
		test.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestServiceEntriesSumToBalanceDelta(test *testing.T) {
	test.Parallel()
	account := mustAccountID(test, testAccountRaw)
	store := newMockStore(test, map[string]int64{testAccountRaw: testInitialGrant})
	service := newTestService(test, store)
	steps := []struct {
		direction Direction
		amount    int64
	}{
		{DirectionDebit, 30},
		{DirectionCredit, 10},
		{DirectionDebit, 200},
		{DirectionDebit, 80},
		{DirectionCredit, 5},
		{DirectionDebit, 1},
	}
	rejected := 0
	for _, step := range steps {
		var err error
		if step.direction == DirectionDebit {
			_, err = service.Debit(context.Background(), account, mustAmount(test, step.amount), "debit", nil)
		} else {
			_, err = service.Credit(context.Background(), account, mustAmount(test, step.amount), "credit", nil)
		}
		if errors.Is(err, ErrInsufficientFunds) {
			rejected++
			continue
		}
		if err != nil {
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if rejected != 1 {
		test.Fatalf("expected exactly one rejected debit, got %d", rejected)
	}
	balance, err := service.Balance(context.Background(), account)
	if err != nil {
		test.Fatalf("balance failed: %v", err)
	}
	if balance < 0 {
		test.Fatalf("balance went negative: %d", balance)
	}
	entries, err := service.ListEntries(context.Background(), account, maxListEntriesLimit)
	if err != nil {
		test.Fatalf("list failed: %v", err)
	}
	var signedTotal int64
	for _, entry := range entries {
		signedTotal += entry.SignedAmount()
	}
	if signedTotal != balance-testInitialGrant {
		test.Fatalf("expected signed total %d, got %d", balance-testInitialGrant, signedTotal)
	}
	if len(entries) != len(steps)-rejected {
		test.Fatalf("expected %d entries, got %d", len(steps)-rejected, len(entries))
	}
}

func TestServiceConcurrentDebitsNeverOverdraw(test *testing.T) {
	test.Parallel()
	account := mustAccountID(test, testAccountRaw)
	store := newMockStore(test, map[string]int64{testAccountRaw: 50})
	service := newTestService(test, store)
	var waitGroup sync.WaitGroup
	var successMutex sync.Mutex
	successes := 0
	cost := mustAmount(test, testDeploymentCost)
	for attempt := 0; attempt < 20; attempt++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if _, err := service.Debit(context.Background(), account, cost, testReasonDeploy, nil); err == nil {
				successMutex.Lock()
				successes++
				successMutex.Unlock()
			}
		}()
	}
	waitGroup.Wait()
	if successes != 5 {
		test.Fatalf("expected 5 successful debits, got %d", successes)
	}
	balance, err := service.Balance(context.Background(), account)
	if err != nil {
		test.Fatalf("balance failed: %v", err)
	}
	if balance != 0 {
		test.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestServiceListEntriesNewestFirstWithLimit(test *testing.T) {
	test.Parallel()
	account := mustAccountID(test, testAccountRaw)
	store := newMockStore(test, map[string]int64{testAccountRaw: testInitialGrant})
	service := newTestService(test, store)
	for _, reason := range []string{"first", "second", "third"} {
		if _, err := service.Credit(context.Background(), account, mustAmount(test, 1), reason, nil); err != nil {
			test.Fatalf("credit failed: %v", err)
		}
	}
	entries, err := service.ListEntries(context.Background(), account, 2)
	if err != nil {
		test.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Reason != "third" || entries[1].Reason != "second" {
		test.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestServiceCreditWithJoinsCallerTransaction(test *testing.T) {
	test.Parallel()
	sender := mustAccountID(test, testAccountRaw)
	recipient := mustAccountID(test, testRecipientRaw)
	store := newMockStore(test, map[string]int64{testAccountRaw: 20, testRecipientRaw: 0})
	service := newTestService(test, store)
	failure := errors.New("recipient write failed")
	err := store.WithTx(context.Background(), func(ctx context.Context, txStore Store) error {
		if _, err := service.DebitWith(ctx, txStore, sender, mustAmount(test, 15), "send", nil); err != nil {
			return err
		}
		if _, err := service.CreditWith(ctx, txStore, recipient, mustAmount(test, 15), "receive", nil); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf("expected injected failure, got %v", err)
	}
	senderBalance, _ := service.Balance(context.Background(), sender)
	recipientBalance, _ := service.Balance(context.Background(), recipient)
	if senderBalance != 20 || recipientBalance != 0 {
		test.Fatalf("expected rollback, got sender=%d recipient=%d", senderBalance, recipientBalance)
	}
}

func TestNormalizeListLimit(test *testing.T) {
	test.Parallel()
	cases := map[int]int{0: defaultListEntriesLimit, -1: defaultListEntriesLimit, 10: 10, 1000: maxListEntriesLimit}
	for input, expected := range cases {
		if actual := normalizeListLimit(input); actual != expected {
			test.Fatalf("limit %d: expected %d, got %d", input, expected, actual)
		}
	}
}
