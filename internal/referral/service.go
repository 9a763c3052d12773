package referral

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"go.uber.org/zap"
)

const referralPath = "/signup"

// Service registers referrals and reports on them.
type Service struct {
	store   Store
	ledger  *ledger.Service
	bonus   BonusSource
	baseURL string
	nowFn   func() time.Time
	logger  *zap.Logger
}

// NewService wires a referral Service.
func NewService(store Store, ledgerService *ledger.Service, bonus BonusSource, baseURL string, now func() time.Time, logger *zap.Logger) (*Service, error) {
	if store == nil || ledgerService == nil || bonus == nil || now == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConf)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		ledger:  ledgerService,
		bonus:   bonus,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		nowFn:   now,
		logger:  logger,
	}, nil
}

// Register links referee to the account named by code and credits the referrer.
// It reports false without error when the code is empty or unknown, or the referee was already recorded.
func (service *Service) Register(ctx context.Context, code string, referee Referee) (Record, bool, error) {
	handle := strings.TrimSpace(code)
	if handle == "" {
		return Record{}, false, nil
	}
	referrer, err := service.store.FindReferrer(ctx, handle)
	if errors.Is(err, ErrReferrerNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if referrer.AccountID == referee.AccountID {
		return Record{}, false, ErrSelfReferral
	}
	bonus, err := service.bonus.ReferralBonus(ctx)
	if err != nil {
		return Record{}, false, err
	}
	reference, err := ledger.NewReference(ledger.ReferenceAccount, referee.AccountID.String())
	if err != nil {
		return Record{}, false, err
	}

	var record Record
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		inserted, insertErr := txStore.InsertRecord(ctx, Record{
			ReferrerID:    referrer.AccountID,
			RefereeID:     referee.AccountID,
			RefereeHandle: referee.Handle,
			CoinsGranted:  bonus.Int64(),
			CreatedAt:     service.nowFn().UTC(),
		})
		if insertErr != nil {
			return insertErr
		}
		reason := fmt.Sprintf("Referral bonus: %s", referee.Handle)
		if _, creditErr := service.ledger.CreditWith(ctx, txStore.Ledger(), referrer.AccountID, bonus, reason, reference); creditErr != nil {
			return creditErr
		}
		if paidErr := txStore.MarkPaid(ctx, inserted.RecordID); paidErr != nil {
			return paidErr
		}
		inserted.Paid = true
		record = inserted
		return nil
	})
	if errors.Is(err, ErrDuplicateReferee) {
		service.logger.Info("referral already recorded", zap.String("referee_id", referee.AccountID.String()))
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

// List returns the referrer's records newest first.
func (service *Service) List(ctx context.Context, referrerID ledger.AccountID) ([]Record, error) {
	return service.store.ListByReferrer(ctx, referrerID)
}

// Summary returns the referral link and totals for a referrer.
func (service *Service) Summary(ctx context.Context, referrer Referrer) (Summary, error) {
	records, err := service.store.ListByReferrer(ctx, referrer.AccountID)
	if err != nil {
		return Summary{}, err
	}
	var earned int64
	for _, record := range records {
		earned += record.CoinsGranted
	}
	return Summary{
		ReferralURL:    service.ReferralURL(referrer.Handle),
		TotalReferrals: len(records),
		EarnedCoins:    earned,
		Records:        records,
	}, nil
}

// Verify resolves a referral code without side effects.
func (service *Service) Verify(ctx context.Context, code string) (Referrer, error) {
	handle := strings.TrimSpace(code)
	if handle == "" {
		return Referrer{}, ErrReferrerNotFound
	}
	return service.store.FindReferrer(ctx, handle)
}

// ReferralURL builds the signup link carrying handle as the referral code.
func (service *Service) ReferralURL(handle string) string {
	return service.baseURL + referralPath + "?ref=" + url.QueryEscape(handle)
}
