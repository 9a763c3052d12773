package gormstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/messaging"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"gorm.io/gorm"
)

// MessageStore implements messaging.Store.
type MessageStore struct {
	db *gorm.DB
}

var _ messaging.Store = (*MessageStore)(nil)

func (store *MessageStore) CreateMessage(ctx context.Context, message messaging.Message) (messaging.Message, error) {
	row := Message{
		SenderID:   message.SenderID.String(),
		SenderName: message.SenderName,
		Content:    message.Content,
		Broadcast:  message.Broadcast,
		Read:       message.Read,
		CreatedAt:  message.CreatedAt.UTC(),
	}
	if message.RecipientID != nil {
		recipientID := message.RecipientID.String()
		row.RecipientID = &recipientID
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return messaging.Message{}, wrapStoreError(errorSubjectMessage, errorCodeCreate, err)
	}
	return mapMessage(row)
}

func (store *MessageStore) ListLatest(ctx context.Context, limit int) ([]messaging.Message, error) {
	return store.list(ctx, store.db.Limit(limit))
}

func (store *MessageStore) ListForAccount(ctx context.Context, accountID ledger.AccountID) ([]messaging.Message, error) {
	id := accountID.String()
	return store.list(ctx, store.db.Where("broadcast = ? OR sender_id = ? OR recipient_id = ?", true, id, id))
}

func (store *MessageStore) MarkRead(ctx context.Context, messageID string, recipientID ledger.AccountID) error {
	result := store.db.WithContext(ctx).
		Model(&Message{}).
		Where("message_id = ? AND recipient_id = ?", messageID, recipientID.String()).
		Update("is_read", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectMessage, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMessage, errorCodeUpdate, messaging.ErrMessageNotFound)
	}
	return nil
}

// SenderName is the account's display name, or its handle when none is set.
func (store *MessageStore) SenderName(ctx context.Context, accountID ledger.AccountID) (string, error) {
	var row Account
	err := store.db.WithContext(ctx).Select("account_id", "handle", "display_name").Where("account_id = ?", accountID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	if row.DisplayName != "" {
		return row.DisplayName, nil
	}
	return row.Handle, nil
}

func (store *MessageStore) list(ctx context.Context, query *gorm.DB) ([]messaging.Message, error) {
	var rows []Message
	if err := query.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
	}
	messages := make([]messaging.Message, 0, len(rows))
	for _, row := range rows {
		message, err := mapMessage(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func mapMessage(row Message) (messaging.Message, error) {
	senderID, err := ledger.NewAccountID(row.SenderID)
	if err != nil {
		return messaging.Message{}, wrapStoreError(errorSubjectMessage, errorCodeInvalid, err)
	}
	message := messaging.Message{
		MessageID:  row.MessageID,
		SenderID:   senderID,
		SenderName: row.SenderName,
		Content:    row.Content,
		Broadcast:  row.Broadcast,
		Read:       row.Read,
		CreatedAt:  row.CreatedAt.UTC(),
	}
	if row.RecipientID != nil {
		recipientID, err := ledger.NewAccountID(*row.RecipientID)
		if err != nil {
			return messaging.Message{}, wrapStoreError(errorSubjectMessage, errorCodeInvalid, err)
		}
		message.RecipientID = &recipientID
	}
	return message, nil
}
