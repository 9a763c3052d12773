package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DeploymentStore implements deployment.Store.
type DeploymentStore struct {
	db *gorm.DB
}

var _ deployment.Store = (*DeploymentStore)(nil)

// WithTx executes fn within a transaction.
func (store *DeploymentStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore deployment.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &DeploymentStore{db: transaction})
	})
}

// Ledger returns a ledger view sharing this store's connection or transaction.
func (store *DeploymentStore) Ledger() ledger.Store {
	return &LedgerStore{db: store.db}
}

func (store *DeploymentStore) NameExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := store.db.WithContext(ctx).Model(&Deployment{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, wrapStoreError(errorSubjectDeploy, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *DeploymentStore) CreateDeployment(ctx context.Context, record deployment.Deployment) (deployment.Deployment, error) {
	row := Deployment{
		DeploymentID:   record.DeploymentID,
		AccountID:      record.AccountID.String(),
		Name:           record.Name,
		URL:            record.URL,
		ExternalID:     record.ExternalID,
		Status:         string(record.Status),
		LastPaidAt:     utcPointer(record.LastPaidAt),
		NextPaymentDue: utcPointer(record.NextPaymentDue),
		Config:         datatypes.NewJSONType(configDocument(record.Config)),
		CreatedAt:      record.CreatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return deployment.Deployment{}, wrapStoreError(errorSubjectDeploy, errorCodeDuplicate, deployment.ErrNameTaken)
	}
	if err != nil {
		return deployment.Deployment{}, wrapStoreError(errorSubjectDeploy, errorCodeCreate, err)
	}
	return store.GetDeployment(ctx, row.DeploymentID)
}

func (store *DeploymentStore) GetDeployment(ctx context.Context, deploymentID string) (deployment.Deployment, error) {
	var row deploymentRow
	err := store.selectDeployments(ctx).Where("deployments.deployment_id = ?", deploymentID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return deployment.Deployment{}, wrapStoreError(errorSubjectDeploy, errorCodeGet, deployment.ErrDeploymentNotFound)
	}
	if err != nil {
		return deployment.Deployment{}, wrapStoreError(errorSubjectDeploy, errorCodeGet, err)
	}
	return mapDeployment(row)
}

// RecordPayment only touches a row that is still suspended or due, so concurrent
// payments for one period cannot both succeed.
func (store *DeploymentStore) RecordPayment(ctx context.Context, deploymentID string, paidAt time.Time, nextPaymentDue time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Deployment{}).
		Where("deployment_id = ?", deploymentID).
		Where("status <> ?", string(deployment.StatusFailed)).
		Where("(status = ? OR next_payment_due <= ?)", string(deployment.StatusSuspended), paidAt.UTC()).
		Updates(map[string]interface{}{
			"status":           string(deployment.StatusActive),
			"last_paid_at":     paidAt.UTC(),
			"next_payment_due": nextPaymentDue.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectDeploy, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetDeployment(ctx, deploymentID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectDeploy, errorCodeUpdate, deployment.ErrPaymentNotDue)
	}
	return nil
}

func (store *DeploymentStore) UpdateConfig(ctx context.Context, deploymentID string, config deployment.Config) error {
	return store.update(ctx, deploymentID, map[string]interface{}{
		"config": datatypes.NewJSONType(configDocument(config)),
	})
}

// DeleteDeployment removes the record and its log lines.
func (store *DeploymentStore) DeleteDeployment(ctx context.Context, deploymentID string) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("deployment_id = ?", deploymentID).Delete(&DeploymentLog{}).Error; err != nil {
			return wrapStoreError(errorSubjectLog, errorCodeDelete, err)
		}
		result := transaction.Where("deployment_id = ?", deploymentID).Delete(&Deployment{})
		if result.Error != nil {
			return wrapStoreError(errorSubjectDeploy, errorCodeDelete, result.Error)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectDeploy, errorCodeDelete, deployment.ErrDeploymentNotFound)
		}
		return nil
	})
}

func (store *DeploymentStore) ListByAccount(ctx context.Context, accountID ledger.AccountID) ([]deployment.Deployment, error) {
	return store.list(ctx, store.selectDeployments(ctx).Where("deployments.account_id = ?", accountID.String()))
}

func (store *DeploymentStore) ListAll(ctx context.Context) ([]deployment.Deployment, error) {
	return store.list(ctx, store.selectDeployments(ctx))
}

func (store *DeploymentStore) AppendLog(ctx context.Context, deploymentID string, line deployment.LogLine) error {
	row := DeploymentLog{
		DeploymentID: deploymentID,
		Level:        string(line.Level),
		Message:      line.Message,
		Timestamp:    line.Timestamp.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectLog, errorCodeInsert, err)
	}
	return nil
}

// ListLogs returns log lines oldest first.
func (store *DeploymentStore) ListLogs(ctx context.Context, deploymentID string) ([]deployment.LogLine, error) {
	var rows []DeploymentLog
	err := store.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("logged_at ASC").
		Order("log_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLog, errorCodeList, err)
	}
	lines := make([]deployment.LogLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, deployment.LogLine{
			Timestamp: row.Timestamp.UTC(),
			Level:     deployment.LogLevel(row.Level),
			Message:   row.Message,
		})
	}
	return lines, nil
}

// SuspendOverdue flips every active deployment whose payment is due to suspended.
func (store *DeploymentStore) SuspendOverdue(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := store.db.WithContext(ctx).
		Model(&Deployment{}).
		Where("status = ? AND next_payment_due < ?", string(deployment.StatusActive), now.UTC()).
		Pluck("deployment_id", &ids).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDeploy, errorCodeList, err)
	}
	if len(ids) == 0 {
		return ids, nil
	}
	err = store.db.WithContext(ctx).
		Model(&Deployment{}).
		Where("deployment_id IN ? AND status = ?", ids, string(deployment.StatusActive)).
		Update("status", string(deployment.StatusSuspended)).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDeploy, errorCodeUpdate, err)
	}
	return ids, nil
}

type deploymentRow struct {
	Deployment
	OwnerHandle string
}

func (store *DeploymentStore) selectDeployments(ctx context.Context) *gorm.DB {
	return store.db.WithContext(ctx).
		Model(&Deployment{}).
		Select("deployments.*, accounts.handle as owner_handle").
		Joins("LEFT JOIN accounts ON accounts.account_id = deployments.account_id")
}

func (store *DeploymentStore) list(ctx context.Context, query *gorm.DB) ([]deployment.Deployment, error) {
	var rows []deploymentRow
	if err := query.Order("deployments.created_at DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectDeploy, errorCodeList, err)
	}
	records := make([]deployment.Deployment, 0, len(rows))
	for _, row := range rows {
		record, err := mapDeployment(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (store *DeploymentStore) update(ctx context.Context, deploymentID string, values map[string]interface{}) error {
	result := store.db.WithContext(ctx).Model(&Deployment{}).Where("deployment_id = ?", deploymentID).Updates(values)
	if result.Error != nil {
		return wrapStoreError(errorSubjectDeploy, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDeploy, errorCodeUpdate, deployment.ErrDeploymentNotFound)
	}
	return nil
}

func configDocument(config deployment.Config) DeploymentConfig {
	return DeploymentConfig{
		SessionID:    config.SessionID,
		Prefix:       config.Prefix,
		BotName:      config.BotName,
		AlwaysOnline: config.AlwaysOnline,
		AutoReply:    config.AutoReply,
		Extra:        config.Extra,
	}
}

func mapDeployment(row deploymentRow) (deployment.Deployment, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return deployment.Deployment{}, wrapStoreError(errorSubjectDeploy, errorCodeInvalid, err)
	}
	status, err := deployment.ParseStatus(row.Status)
	if err != nil {
		return deployment.Deployment{}, wrapStoreError(errorSubjectDeploy, errorCodeInvalid, err)
	}
	document := row.Config.Data()
	return deployment.Deployment{
		DeploymentID:   row.DeploymentID,
		AccountID:      accountID,
		OwnerHandle:    row.OwnerHandle,
		Name:           row.Name,
		URL:            row.URL,
		ExternalID:     row.ExternalID,
		Status:         status,
		LastPaidAt:     timeOrZero(row.LastPaidAt),
		NextPaymentDue: timeOrZero(row.NextPaymentDue),
		Config: deployment.Config{
			SessionID:    document.SessionID,
			Prefix:       document.Prefix,
			BotName:      document.BotName,
			AlwaysOnline: document.AlwaysOnline,
			AutoReply:    document.AutoReply,
			Extra:        document.Extra,
		},
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}
