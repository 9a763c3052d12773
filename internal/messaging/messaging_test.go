package messaging

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
)

type stubStore struct {
	mutex    sync.Mutex
	messages []Message
	names    map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{names: map[string]string{"user-1": "alice", "user-2": "bob", "admin-1": "root"}}
}

func (store *stubStore) CreateMessage(ctx context.Context, message Message) (Message, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	message.MessageID = "msg-" + string(rune('a'+len(store.messages)))
	store.messages = append(store.messages, message)
	return message, nil
}

func (store *stubStore) ListLatest(ctx context.Context, limit int) ([]Message, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	result := store.newestFirst(func(Message) bool { return true })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (store *stubStore) ListForAccount(ctx context.Context, accountID ledger.AccountID) ([]Message, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.newestFirst(func(message Message) bool {
		if message.Broadcast || message.SenderID == accountID {
			return true
		}
		return message.RecipientID != nil && *message.RecipientID == accountID
	}), nil
}

func (store *stubStore) MarkRead(ctx context.Context, messageID string, recipientID ledger.AccountID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for index := range store.messages {
		message := &store.messages[index]
		if message.MessageID == messageID && message.RecipientID != nil && *message.RecipientID == recipientID {
			message.Read = true
			return nil
		}
	}
	return ErrMessageNotFound
}

func (store *stubStore) SenderName(ctx context.Context, accountID ledger.AccountID) (string, error) {
	return store.names[accountID.String()], nil
}

func (store *stubStore) newestFirst(keep func(Message) bool) []Message {
	result := make([]Message, 0, len(store.messages))
	for _, message := range store.messages {
		if keep(message) {
			result = append(result, message)
		}
	}
	sort.SliceStable(result, func(left, right int) bool {
		return result[left].CreatedAt.After(result[right].CreatedAt)
	})
	return result
}

type tickingClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *tickingClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(time.Second)
	return clock.current
}

func mustActor(test *testing.T, id string, role accounts.Role) accounts.Actor {
	test.Helper()
	accountID, err := ledger.NewAccountID(id)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accounts.Actor{AccountID: accountID, Role: role}
}

func newTestService(test *testing.T) (*Service, *stubStore) {
	test.Helper()
	store := newStubStore()
	clock := &tickingClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	service, err := NewService(store, clock.Now, nil)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service, store
}

func TestNewServiceRejectsMissingStore(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, time.Now, nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config, got %v", err)
	}
}

func TestSendValidatesContent(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	alice := mustActor(test, "user-1", accounts.RoleUser)

	testCases := []struct {
		name    string
		content string
		want    error
	}{
		{name: "empty", content: "", want: ErrEmptyContent},
		{name: "whitespace", content: "  \n ", want: ErrEmptyContent},
		{name: "too long", content: strings.Repeat("x", MaxContentLength+1), want: ErrContentTooLong},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := service.Send(context.Background(), alice, nil, testCase.content)
			if !errors.Is(err, testCase.want) {
				test.Fatalf("expected %v, got %v", testCase.want, err)
			}
			if !errors.Is(err, apperr.ErrValidation) {
				test.Fatalf("expected validation class, got %v", err)
			}
		})
	}

	message, err := service.Send(context.Background(), alice, nil, strings.Repeat("é", MaxContentLength))
	if err != nil {
		test.Fatalf("multi-byte content at the limit: %v", err)
	}
	if message.SenderName != "alice" {
		test.Fatalf("unexpected sender name %q", message.SenderName)
	}
}

func TestListScopesByRole(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	ctx := context.Background()
	alice := mustActor(test, "user-1", accounts.RoleUser)
	bob := mustActor(test, "user-2", accounts.RoleUser)
	admin := mustActor(test, "admin-1", accounts.RoleAdministrator)

	if _, err := service.Send(ctx, alice, nil, "help please"); err != nil {
		test.Fatalf("alice send: %v", err)
	}
	if _, err := service.Send(ctx, bob, nil, "bob question"); err != nil {
		test.Fatalf("bob send: %v", err)
	}
	aliceID := alice.AccountID
	if _, err := service.Send(ctx, admin, &aliceID, "reply to alice"); err != nil {
		test.Fatalf("admin reply: %v", err)
	}
	if _, err := service.Broadcast(ctx, admin, "maintenance tonight"); err != nil {
		test.Fatalf("broadcast: %v", err)
	}

	aliceMessages, err := service.List(ctx, alice)
	if err != nil {
		test.Fatalf("alice list: %v", err)
	}
	if len(aliceMessages) != 3 {
		test.Fatalf("expected 3 messages for alice, got %d", len(aliceMessages))
	}
	if aliceMessages[0].Content != "maintenance tonight" {
		test.Fatalf("expected newest first, got %q", aliceMessages[0].Content)
	}
	for _, message := range aliceMessages {
		if message.Content == "bob question" {
			test.Fatalf("alice must not see bob's message")
		}
	}

	adminMessages, err := service.List(ctx, admin)
	if err != nil {
		test.Fatalf("admin list: %v", err)
	}
	if len(adminMessages) != 4 {
		test.Fatalf("expected 4 messages for admin, got %d", len(adminMessages))
	}
}

func TestBroadcastRequiresAdministrator(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	_, err := service.Broadcast(context.Background(), mustActor(test, "user-1", accounts.RoleUser), "hello all")
	if !errors.Is(err, accounts.ErrAdministratorOnly) {
		test.Fatalf("expected administrator only, got %v", err)
	}
}

func TestMarkReadOnlyByRecipient(test *testing.T) {
	test.Parallel()
	service, store := newTestService(test)
	ctx := context.Background()
	alice := mustActor(test, "user-1", accounts.RoleUser)
	bob := mustActor(test, "user-2", accounts.RoleUser)
	admin := mustActor(test, "admin-1", accounts.RoleAdministrator)
	aliceID := alice.AccountID

	message, err := service.Send(ctx, admin, &aliceID, "your bot is ready")
	if err != nil {
		test.Fatalf("send: %v", err)
	}
	if err := service.MarkRead(ctx, bob, message.MessageID); !errors.Is(err, ErrMessageNotFound) {
		test.Fatalf("expected not found for bob, got %v", err)
	}
	if err := service.MarkRead(ctx, alice, message.MessageID); err != nil {
		test.Fatalf("alice mark read: %v", err)
	}
	if !store.messages[0].Read {
		test.Fatalf("expected message flagged read")
	}
	if err := service.MarkRead(ctx, alice, " "); !errors.Is(err, ErrMessageNotFound) {
		test.Fatalf("expected not found for blank id, got %v", err)
	}
}
