package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/messaging"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/referral"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/wallet"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
)

type accountPayload struct {
	ID             string     `json:"id"`
	Handle         string     `json:"handle"`
	Email          string     `json:"email"`
	DisplayName    string     `json:"display_name,omitempty"`
	Balance        int64      `json:"balance"`
	Role           string     `json:"role"`
	Active         bool       `json:"active"`
	AvatarURL      string     `json:"avatar_url"`
	GitHubHandle   string     `json:"github_handle"`
	WhatsAppNumber string     `json:"whatsapp_number"`
	GoogleLinked   bool       `json:"google_linked"`
	LastClaimAt    *time.Time `json:"last_claim_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func presentAccount(account accounts.Account) accountPayload {
	return accountPayload{
		ID:             account.ID.String(),
		Handle:         account.Handle,
		Email:          account.Email,
		DisplayName:    account.DisplayName,
		Balance:        account.Balance,
		Role:           string(account.Role),
		Active:         account.Active,
		AvatarURL:      account.AvatarURL,
		GitHubHandle:   account.GitHubHandle,
		WhatsAppNumber: account.WhatsAppNumber,
		GoogleLinked:   account.GoogleSubject != "",
		LastClaimAt:    account.LastClaimAt,
		CreatedAt:      account.CreatedAt,
	}
}

type sessionPayload struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      accountPayload `json:"user"`
}

type configPayload struct {
	SessionID    string            `json:"session_id"`
	Prefix       string            `json:"prefix"`
	BotName      string            `json:"bot_name"`
	AlwaysOnline bool              `json:"always_online"`
	AutoReply    bool              `json:"auto_reply"`
	Extra        map[string]string `json:"extra,omitempty"`
}

type deploymentPayload struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	OwnerHandle    string        `json:"owner_handle,omitempty"`
	URL            string        `json:"url"`
	DashboardURL   string        `json:"dashboard_url"`
	ExternalID     string        `json:"external_id"`
	Status         string        `json:"status"`
	LastPaidAt     *time.Time    `json:"last_paid_at,omitempty"`
	NextPaymentDue *time.Time    `json:"next_payment_due,omitempty"`
	Config         configPayload `json:"config"`
	CreatedAt      time.Time     `json:"created_at"`
}

func presentDeployment(record deployment.Deployment) deploymentPayload {
	return deploymentPayload{
		ID:             record.DeploymentID,
		Name:           record.Name,
		OwnerHandle:    record.OwnerHandle,
		URL:            record.URL,
		DashboardURL:   record.DashboardURL(),
		ExternalID:     record.ExternalID,
		Status:         string(record.Status),
		LastPaidAt:     optionalTime(record.LastPaidAt),
		NextPaymentDue: optionalTime(record.NextPaymentDue),
		Config: configPayload{
			SessionID:    record.Config.SessionID,
			Prefix:       record.Config.Prefix,
			BotName:      record.Config.BotName,
			AlwaysOnline: record.Config.AlwaysOnline,
			AutoReply:    record.Config.AutoReply,
			Extra:        record.Config.Extra,
		},
		CreatedAt: record.CreatedAt,
	}
}

func presentDeployments(records []deployment.Deployment) []deploymentPayload {
	payloads := make([]deploymentPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, presentDeployment(record))
	}
	return payloads
}

type logPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

type entryPayload struct {
	ID            string    `json:"id"`
	Direction     string    `json:"direction"`
	Amount        int64     `json:"amount"`
	SignedAmount  int64     `json:"signed_amount"`
	Reason        string    `json:"reason"`
	ReferenceKind string    `json:"reference_kind,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

func presentEntries(entries []ledger.Entry) []entryPayload {
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload := entryPayload{
			ID:           entry.EntryID,
			Direction:    string(entry.Direction),
			Amount:       entry.Amount.Int64(),
			SignedAmount: entry.SignedAmount(),
			Reason:       entry.Reason,
			BalanceAfter: entry.BalanceAfter,
			CreatedAt:    entry.CreatedAt,
		}
		if entry.Reference != nil {
			payload.ReferenceKind = string(entry.Reference.Kind)
			payload.ReferenceID = entry.Reference.ID
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

type referralPayload struct {
	ID            string    `json:"id"`
	RefereeHandle string    `json:"referee_handle"`
	CoinsGranted  int64     `json:"coins_granted"`
	Paid          bool      `json:"paid"`
	CreatedAt     time.Time `json:"created_at"`
}

func presentReferrals(records []referral.Record) []referralPayload {
	payloads := make([]referralPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, referralPayload{
			ID:            record.RecordID,
			RefereeHandle: record.RefereeHandle,
			CoinsGranted:  record.CoinsGranted,
			Paid:          record.Paid,
			CreatedAt:     record.CreatedAt,
		})
	}
	return payloads
}

type messagePayload struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Content     string    `json:"content"`
	Broadcast   bool      `json:"broadcast"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

func presentMessage(message messaging.Message) messagePayload {
	payload := messagePayload{
		ID:         message.MessageID,
		SenderID:   message.SenderID.String(),
		SenderName: message.SenderName,
		Content:    message.Content,
		Broadcast:  message.Broadcast,
		Read:       message.Read,
		CreatedAt:  message.CreatedAt,
	}
	if message.RecipientID != nil {
		payload.RecipientID = message.RecipientID.String()
	}
	return payload
}

type coinSettingsPayload struct {
	DeploymentCost int64 `json:"deployment_cost"`
	DailyClaim     int64 `json:"daily_claim"`
	ReferralBonus  int64 `json:"referral_bonus"`
	VoucherAmount  int64 `json:"voucher_amount"`
}

type settingsPayload struct {
	Credentials        []string            `json:"credentials"`
	CredentialCursor   int                 `json:"credential_cursor"`
	SourceRepository   string              `json:"source_repository"`
	Maintenance        bool                `json:"maintenance"`
	MaintenanceMessage string              `json:"maintenance_message"`
	CoinSettings       coinSettingsPayload `json:"coin_settings"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// presentSettings masks every credential down to its last four characters.
func presentSettings(settings keypool.Settings) settingsPayload {
	masked := make([]string, 0, len(settings.Credentials))
	for _, credential := range settings.Credentials {
		masked = append(masked, maskCredential(credential))
	}
	return settingsPayload{
		Credentials:        masked,
		CredentialCursor:   settings.Cursor,
		SourceRepository:   settings.SourceRepository,
		Maintenance:        settings.Maintenance,
		MaintenanceMessage: settings.MaintenanceMessage,
		CoinSettings: coinSettingsPayload{
			DeploymentCost: settings.Coins.DeploymentCost,
			DailyClaim:     settings.Coins.DailyClaim,
			ReferralBonus:  settings.Coins.ReferralBonus,
			VoucherAmount:  settings.Coins.VoucherAmount,
		},
		UpdatedAt: settings.UpdatedAt,
	}
}

func maskCredential(credential string) string {
	const visible = 4
	if len(credential) <= visible {
		return "****"
	}
	return "****" + credential[len(credential)-visible:]
}

type userSummaryPayload struct {
	ID               string `json:"id"`
	Handle           string `json:"handle"`
	Email            string `json:"email"`
	Balance          int64  `json:"balance"`
	Role             string `json:"role"`
	Active           bool   `json:"active"`
	DeploymentsCount int64  `json:"deployments_count"`
}

type voucherPayload struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Amount    int64     `json:"amount"`
	Scope     string    `json:"scope"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func presentVoucher(voucher wallet.Voucher) voucherPayload {
	return voucherPayload{
		ID:        voucher.VoucherID,
		Code:      voucher.Code,
		Amount:    voucher.Amount,
		Scope:     string(voucher.Scope),
		Active:    voucher.Active,
		CreatedAt: voucher.CreatedAt,
	}
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}
