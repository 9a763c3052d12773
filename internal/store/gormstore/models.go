package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Balance is the materialized sum of the account's ledger entries.
type Account struct {
	AccountID      string  `gorm:"type:uuid;primaryKey"`
	Handle         string  `gorm:"not null;uniqueIndex:uniq_accounts_handle"`
	Email          string  `gorm:"not null;uniqueIndex:uniq_accounts_email"`
	PasswordHash   string  `gorm:"not null;default:''"`
	Balance        int64   `gorm:"not null;default:0;check:chk_accounts_balance_non_negative,balance >= 0"`
	Role           string  `gorm:"not null;default:'user'"`
	Active         bool    `gorm:"not null;default:true"`
	AvatarURL      string  `gorm:"not null;default:''"`
	GitHubHandle   string  `gorm:"column:github_handle;not null;default:''"`
	WhatsAppNumber string  `gorm:"column:whatsapp_number;not null;default:''"`
	GoogleSubject  *string `gorm:"uniqueIndex:uniq_accounts_google_subject"`
	DisplayName    string  `gorm:"not null;default:''"`
	LastClaimAt    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the append-only ledger_entries table.
type LedgerEntry struct {
	EntryID       string    `gorm:"type:uuid;primaryKey"`
	AccountID     string    `gorm:"type:uuid;not null;index:idx_ledger_account_created,priority:1"`
	Direction     string    `gorm:"not null"`
	Amount        int64     `gorm:"not null;check:chk_ledger_entries_amount_positive,amount > 0"`
	Reason        string    `gorm:"not null"`
	ReferenceKind *string   `gorm:""`
	ReferenceID   *string   `gorm:""`
	BalanceAfter  int64     `gorm:"not null"`
	Sequence      int64     `gorm:"not null;default:0;index:idx_ledger_account_created,priority:3"`
	CreatedAt     time.Time `gorm:"not null;index:idx_ledger_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// DeploymentConfig is the JSON document stored in deployments.config.
type DeploymentConfig struct {
	SessionID    string            `json:"session_id"`
	Prefix       string            `json:"prefix"`
	BotName      string            `json:"bot_name"`
	AlwaysOnline bool              `json:"always_online"`
	AutoReply    bool              `json:"auto_reply"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Deployment mirrors the deployments table.
type Deployment struct {
	DeploymentID   string                               `gorm:"type:uuid;primaryKey"`
	AccountID      string                               `gorm:"type:uuid;not null;index:idx_deployments_account"`
	Name           string                               `gorm:"not null;uniqueIndex:uniq_deployments_name"`
	URL            string                               `gorm:"not null;default:''"`
	ExternalID     string                               `gorm:"not null;default:''"`
	Status         string                               `gorm:"not null;index:idx_deployments_status_due,priority:1"`
	LastPaidAt     *time.Time                           `gorm:""`
	NextPaymentDue *time.Time                           `gorm:"index:idx_deployments_status_due,priority:2"`
	Config         datatypes.JSONType[DeploymentConfig] `gorm:"not null"`
	CreatedAt      time.Time                            `gorm:"not null"`
}

func (Deployment) TableName() string { return "deployments" }

func (deployment *Deployment) BeforeCreate(tx *gorm.DB) error {
	if deployment.DeploymentID == "" {
		deployment.DeploymentID = uuid.NewString()
	}
	return nil
}

// DeploymentLog is one line of a deployment's activity log.
type DeploymentLog struct {
	LogID        uint      `gorm:"primaryKey;autoIncrement"`
	DeploymentID string    `gorm:"type:uuid;not null;index:idx_deployment_logs_deployment"`
	Level        string    `gorm:"not null"`
	Message      string    `gorm:"not null"`
	Timestamp    time.Time `gorm:"column:logged_at;not null"`
}

func (DeploymentLog) TableName() string { return "deployment_logs" }

// Referral mirrors the referrals table; a referee appears at most once.
type Referral struct {
	RecordID      string    `gorm:"type:uuid;primaryKey"`
	ReferrerID    string    `gorm:"type:uuid;not null;index:idx_referrals_referrer"`
	RefereeID     string    `gorm:"type:uuid;not null;uniqueIndex:uniq_referrals_referee"`
	RefereeHandle string    `gorm:"not null"`
	CoinsGranted  int64     `gorm:"not null"`
	Paid          bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Referral) TableName() string { return "referrals" }

func (referral *Referral) BeforeCreate(tx *gorm.DB) error {
	if referral.RecordID == "" {
		referral.RecordID = uuid.NewString()
	}
	return nil
}

// AdminSettings is the singleton row with id 1.
type AdminSettings struct {
	ID                 uint                        `gorm:"primaryKey;autoIncrement:false"`
	Credentials        datatypes.JSONSlice[string] `gorm:"not null"`
	Cursor             int                         `gorm:"column:credential_cursor;not null;default:0"`
	SourceRepository   string                      `gorm:"not null"`
	Maintenance        bool                        `gorm:"not null;default:false"`
	MaintenanceMessage string                      `gorm:"not null;default:''"`
	DeploymentCost     int64                       `gorm:"not null"`
	DailyClaim         int64                       `gorm:"not null"`
	ReferralBonus      int64                       `gorm:"not null"`
	VoucherAmount      int64                       `gorm:"not null"`
	UpdatedAt          time.Time                   `gorm:"not null"`
}

func (AdminSettings) TableName() string { return "admin_settings" }

// Voucher mirrors the vouchers table.
type Voucher struct {
	VoucherID string    `gorm:"type:uuid;primaryKey"`
	Code      string    `gorm:"not null;uniqueIndex:uniq_vouchers_code"`
	Amount    int64     `gorm:"not null"`
	Scope     string    `gorm:"not null"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Voucher) TableName() string { return "vouchers" }

func (voucher *Voucher) BeforeCreate(tx *gorm.DB) error {
	if voucher.VoucherID == "" {
		voucher.VoucherID = uuid.NewString()
	}
	return nil
}

// VoucherRedemption records one use of a voucher. RedemptionKey is unique per slot.
type VoucherRedemption struct {
	RedemptionID  uint      `gorm:"primaryKey;autoIncrement"`
	VoucherID     string    `gorm:"type:uuid;not null;index:idx_voucher_redemptions_voucher"`
	AccountID     string    `gorm:"type:uuid;not null"`
	RedemptionKey string    `gorm:"not null;uniqueIndex:uniq_voucher_redemptions_key"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (VoucherRedemption) TableName() string { return "voucher_redemptions" }

// Message mirrors the messages table.
type Message struct {
	MessageID   string    `gorm:"type:uuid;primaryKey"`
	SenderID    string    `gorm:"type:uuid;not null;index:idx_messages_sender"`
	SenderName  string    `gorm:"not null"`
	RecipientID *string   `gorm:"type:uuid;index:idx_messages_recipient"`
	Content     string    `gorm:"not null"`
	Broadcast   bool      `gorm:"not null;default:false"`
	Read        bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt   time.Time `gorm:"not null;index:idx_messages_created"`
}

func (Message) TableName() string { return "messages" }

func (message *Message) BeforeCreate(tx *gorm.DB) error {
	if message.MessageID == "" {
		message.MessageID = uuid.NewString()
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&Account{},
		&LedgerEntry{},
		&Deployment{},
		&DeploymentLog{},
		&Referral{},
		&AdminSettings{},
		&Voucher{},
		&VoucherRedemption{},
		&Message{},
	}
}
