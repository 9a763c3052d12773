// Package messaging stores short messages between users and administrators.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"go.uber.org/zap"
)

const (
	// MaxContentLength bounds a message body in characters.
	MaxContentLength = 1000
	adminListLimit   = 100
)

var (
	ErrEmptyContent         = apperr.Kind(apperr.ErrValidation, "message content is required")
	ErrContentTooLong       = apperr.Kind(apperr.ErrValidation, fmt.Sprintf("message content exceeds %d characters", MaxContentLength))
	ErrMessageNotFound      = apperr.Kind(apperr.ErrNotFound, "message not found")
	ErrInvalidServiceConfig = errors.New("invalid messaging service config")
)

// Message is one stored message. A nil recipient on a broadcast reaches everyone;
// a nil recipient on a regular message goes to the administrators.
type Message struct {
	MessageID   string
	SenderID    ledger.AccountID
	SenderName  string
	RecipientID *ledger.AccountID
	Content     string
	Broadcast   bool
	Read        bool
	CreatedAt   time.Time
}

// Store persists messages.
type Store interface {
	CreateMessage(ctx context.Context, message Message) (Message, error)
	ListLatest(ctx context.Context, limit int) ([]Message, error)
	// ListForAccount returns messages sent by or to the account plus broadcasts, newest first.
	ListForAccount(ctx context.Context, accountID ledger.AccountID) ([]Message, error)
	// MarkRead flags the message read when the account is its recipient; ErrMessageNotFound otherwise.
	MarkRead(ctx context.Context, messageID string, recipientID ledger.AccountID) error
	SenderName(ctx context.Context, accountID ledger.AccountID) (string, error)
}

// Service implements message commands.
type Service struct {
	store  Store
	nowFn  func() time.Time
	logger *zap.Logger
}

// NewService wires a messaging Service.
func NewService(store Store, now func() time.Time, logger *zap.Logger) (*Service, error) {
	if store == nil || now == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, nowFn: now, logger: logger}, nil
}

// Send stores a message; without a recipient it is addressed to the administrators.
func (service *Service) Send(ctx context.Context, actor accounts.Actor, recipient *ledger.AccountID, content string) (Message, error) {
	return service.create(ctx, actor, recipient, content, false)
}

// Broadcast stores a message every account can read.
func (service *Service) Broadcast(ctx context.Context, actor accounts.Actor, content string) (Message, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return Message{}, err
	}
	return service.create(ctx, actor, nil, content, true)
}

// List returns the latest messages to administrators and the caller's own messages otherwise.
func (service *Service) List(ctx context.Context, actor accounts.Actor) ([]Message, error) {
	if actor.IsAdministrator() {
		return service.store.ListLatest(ctx, adminListLimit)
	}
	return service.store.ListForAccount(ctx, actor.AccountID)
}

// MarkRead flags a message the caller received.
func (service *Service) MarkRead(ctx context.Context, actor accounts.Actor, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return ErrMessageNotFound
	}
	return service.store.MarkRead(ctx, messageID, actor.AccountID)
}

func (service *Service) create(ctx context.Context, actor accounts.Actor, recipient *ledger.AccountID, content string, broadcast bool) (Message, error) {
	body := strings.TrimSpace(content)
	if body == "" {
		return Message{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(body) > MaxContentLength {
		return Message{}, ErrContentTooLong
	}
	senderName, err := service.store.SenderName(ctx, actor.AccountID)
	if err != nil {
		return Message{}, err
	}
	message, err := service.store.CreateMessage(ctx, Message{
		SenderID:    actor.AccountID,
		SenderName:  senderName,
		RecipientID: recipient,
		Content:     body,
		Broadcast:   broadcast,
		CreatedAt:   service.nowFn().UTC(),
	})
	if err != nil {
		return Message{}, err
	}
	service.logger.Debug("message stored", zap.String("message_id", message.MessageID), zap.Bool("broadcast", broadcast))
	return message, nil
}
