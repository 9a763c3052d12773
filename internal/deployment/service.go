package deployment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"go.uber.org/zap"
)

const (
	defaultExternalTimeout = 30 * time.Second
	tarballSuffix          = "/tarball/main"

	OutcomeSucceeded       = "succeeded"
	OutcomeRejected        = "rejected"
	OutcomeExternalFailure = "external_failure"
	OutcomePartialFailure  = "partial_failure"
)

// Recorder observes provisioning attempts.
type Recorder interface {
	ObserveProvisioning(outcome string, duration time.Duration)
}

// Request is the input to Provision.
type Request struct {
	Name   string
	Config Config
}

// Option configures a Service.
type Option func(*Service)

// WithExternalTimeout bounds every call to the hosting platform.
func WithExternalTimeout(timeout time.Duration) Option {
	return func(service *Service) {
		if timeout > 0 {
			service.externalTimeout = timeout
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithRecorder wires a provisioning observer.
func WithRecorder(recorder Recorder) Option {
	return func(service *Service) {
		service.recorder = recorder
	}
}

// Service implements the deployment commands.
type Service struct {
	store           Store
	ledger          *ledger.Service
	settings        SettingsSource
	platform        Platform
	nowFn           func() time.Time
	externalTimeout time.Duration
	logger          *zap.Logger
	recorder        Recorder
}

// NewService wires a deployment Service.
func NewService(store Store, ledgerService *ledger.Service, settings SettingsSource, platform Platform, now func() time.Time, options ...Option) (*Service, error) {
	if store == nil || ledgerService == nil || settings == nil || platform == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:           store,
		ledger:          ledgerService,
		settings:        settings,
		platform:        platform,
		nowFn:           now,
		externalTimeout: defaultExternalTimeout,
		logger:          zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Provision creates the hosted application, configures it, triggers a build and
// only then records the deployment and charges for it.
func (service *Service) Provision(ctx context.Context, actor accounts.Actor, request Request) (Deployment, error) {
	startedAt := time.Now()
	deployment, outcome, err := service.provision(ctx, actor, request)
	if service.recorder != nil {
		service.recorder.ObserveProvisioning(outcome, time.Since(startedAt))
	}
	return deployment, err
}

func (service *Service) provision(ctx context.Context, actor accounts.Actor, request Request) (Deployment, string, error) {
	name, err := ValidateName(request.Name)
	if err != nil {
		return Deployment{}, OutcomeRejected, err
	}
	config := request.Config
	config.SessionID = strings.TrimSpace(config.SessionID)
	if err := config.Validate(); err != nil {
		return Deployment{}, OutcomeRejected, err
	}
	settings, err := service.settings.Settings(ctx)
	if err != nil {
		return Deployment{}, OutcomeRejected, err
	}
	cost, err := ledger.NewAmount(settings.Coins.DeploymentCost)
	if err != nil {
		return Deployment{}, OutcomeRejected, err
	}

	// 1. balance
	balance, err := service.ledger.Balance(ctx, actor.AccountID)
	if err != nil {
		return Deployment{}, OutcomeRejected, err
	}
	if balance < cost.Int64() {
		return Deployment{}, OutcomeRejected, fmt.Errorf("%w: %d coins required", ledger.ErrInsufficientFunds, cost.Int64())
	}
	// 2. name
	taken, err := service.store.NameExists(ctx, name)
	if err != nil {
		return Deployment{}, OutcomeRejected, err
	}
	if taken {
		return Deployment{}, OutcomeRejected, ErrNameTaken
	}
	// 3. credential
	credential, err := service.settings.NextCredential(ctx)
	if err != nil {
		return Deployment{}, OutcomeRejected, err
	}
	// 4. create
	app, err := service.createApp(ctx, credential, name)
	if err != nil {
		service.logger.Error("create app failed", zap.String("name", name), zap.Error(err))
		return Deployment{}, OutcomeExternalFailure, newExternalError(StepCreateApp, err)
	}
	appURL := strings.TrimSpace(app.WebURL)
	if appURL == "" {
		appURL = fmt.Sprintf("https://%s.herokuapp.com", name)
	}
	// 5. configure
	if err := service.setConfigVars(ctx, credential, name, config.Vars()); err != nil {
		externalErr := newExternalError(StepSetConfig, err)
		service.recordPartialFailure(ctx, actor, name, appURL, app.ID, config, externalErr)
		return Deployment{}, OutcomePartialFailure, externalErr
	}
	// 6. build
	if err := service.triggerBuild(ctx, credential, name, strings.TrimRight(settings.SourceRepository, "/")+tarballSuffix); err != nil {
		externalErr := newExternalError(StepTriggerBuild, err)
		service.recordPartialFailure(ctx, actor, name, appURL, app.ID, config, externalErr)
		return Deployment{}, OutcomePartialFailure, externalErr
	}
	// 7. record and charge
	now := service.nowFn().UTC()
	var created Deployment
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, createErr := txStore.CreateDeployment(ctx, Deployment{
			AccountID:      actor.AccountID,
			Name:           name,
			URL:            appURL,
			ExternalID:     app.ID,
			Status:         StatusActive,
			LastPaidAt:     now,
			NextPaymentDue: now.Add(PaymentPeriod),
			Config:         config,
			CreatedAt:      now,
		})
		if createErr != nil {
			return createErr
		}
		reference, referenceErr := ledger.NewReference(ledger.ReferenceDeployment, record.DeploymentID)
		if referenceErr != nil {
			return referenceErr
		}
		if _, debitErr := service.ledger.DebitWith(ctx, txStore.Ledger(), actor.AccountID, cost, "Deployment: "+name, reference); debitErr != nil {
			return debitErr
		}
		if logErr := txStore.AppendLog(ctx, record.DeploymentID, LogLine{Timestamp: now, Level: LogInfo, Message: "Deployment created and build triggered"}); logErr != nil {
			return logErr
		}
		created = record
		return nil
	})
	if err != nil {
		externalErr := newExternalError(StepRecord, err)
		if errors.Is(err, ErrNameTaken) {
			// Another row already holds the name, so a failed row cannot be stored.
			service.logger.Warn("compensating action needed: external app has no local record",
				zap.String("name", name),
				zap.String("external_id", app.ID),
				zap.Error(err),
			)
			return Deployment{}, OutcomePartialFailure, externalErr
		}
		service.recordPartialFailure(ctx, actor, name, appURL, app.ID, config, externalErr)
		return Deployment{}, OutcomePartialFailure, externalErr
	}
	service.logger.Info("deployment provisioned",
		zap.String("deployment_id", created.DeploymentID),
		zap.String("account_id", actor.AccountID.String()),
		zap.String("name", name),
	)
	return created, OutcomeSucceeded, nil
}

// recordPartialFailure keeps a failed row pointing at the orphaned external application.
// Nothing is charged for it.
func (service *Service) recordPartialFailure(ctx context.Context, actor accounts.Actor, name string, appURL string, externalID string, config Config, cause *ExternalError) {
	service.logger.Warn("compensating action needed: external app left without a working deployment",
		zap.String("name", name),
		zap.String("external_id", externalID),
		zap.String("step", cause.Step),
		zap.Error(cause.Err),
	)
	now := service.nowFn().UTC()
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, createErr := txStore.CreateDeployment(ctx, Deployment{
			AccountID:      actor.AccountID,
			Name:           name,
			URL:            appURL,
			ExternalID:     externalID,
			Status:         StatusFailed,
			LastPaidAt:     now,
			NextPaymentDue: now.Add(PaymentPeriod),
			Config:         config,
			CreatedAt:      now,
		})
		if createErr != nil {
			return createErr
		}
		return txStore.AppendLog(ctx, record.DeploymentID, LogLine{
			Timestamp: now,
			Level:     LogError,
			Message:   fmt.Sprintf("Provisioning failed at %s: %s", cause.Step, cause.Detail),
		})
	})
	if err != nil {
		service.logger.Error("failed deployment record not persisted", zap.String("name", name), zap.Error(err))
	}
}

// Pay charges one period and reactivates the deployment.
func (service *Service) Pay(ctx context.Context, actor accounts.Actor, deploymentID string) (Deployment, error) {
	deployment, err := service.owned(ctx, actor, deploymentID)
	if err != nil {
		return Deployment{}, err
	}
	now := service.nowFn().UTC()
	if err := payable(deployment, now); err != nil {
		return Deployment{}, err
	}
	settings, err := service.settings.Settings(ctx)
	if err != nil {
		return Deployment{}, err
	}
	cost, err := ledger.NewAmount(settings.Coins.DeploymentCost)
	if err != nil {
		return Deployment{}, err
	}
	reference, err := ledger.NewReference(ledger.ReferenceDeployment, deployment.DeploymentID)
	if err != nil {
		return Deployment{}, err
	}
	nextDue := now.Add(PaymentPeriod)
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if updateErr := txStore.RecordPayment(ctx, deployment.DeploymentID, now, nextDue); updateErr != nil {
			return updateErr
		}
		if _, debitErr := service.ledger.DebitWith(ctx, txStore.Ledger(), actor.AccountID, cost, "Payment for "+deployment.Name, reference); debitErr != nil {
			return debitErr
		}
		return txStore.AppendLog(ctx, deployment.DeploymentID, LogLine{Timestamp: now, Level: LogInfo, Message: "Payment received, deployment active"})
	})
	if err != nil {
		return Deployment{}, err
	}
	deployment.Status = StatusActive
	deployment.LastPaidAt = now
	deployment.NextPaymentDue = nextDue
	return deployment, nil
}

// Delete tears down the external application best-effort and removes the record.
func (service *Service) Delete(ctx context.Context, actor accounts.Actor, deploymentID string) error {
	deployment, err := service.owned(ctx, actor, deploymentID)
	if err != nil {
		return err
	}
	credential, err := service.settings.CurrentCredential(ctx)
	if err != nil {
		service.logger.Warn("skipping external teardown", zap.String("name", deployment.Name), zap.Error(err))
	} else if deleteErr := service.deleteApp(ctx, credential, deployment.Name); deleteErr != nil {
		service.logger.Warn("external teardown failed", zap.String("name", deployment.Name), zap.String("external_id", deployment.ExternalID), zap.Error(deleteErr))
	}
	return service.store.DeleteDeployment(ctx, deployment.DeploymentID)
}

// UpdateConfig pushes the new configuration to the hosted application, then stores it.
func (service *Service) UpdateConfig(ctx context.Context, actor accounts.Actor, deploymentID string, config Config) (Deployment, error) {
	deployment, err := service.owned(ctx, actor, deploymentID)
	if err != nil {
		return Deployment{}, err
	}
	config.SessionID = strings.TrimSpace(config.SessionID)
	if config.SessionID == "" {
		config.SessionID = deployment.Config.SessionID
	}
	if err := config.Validate(); err != nil {
		return Deployment{}, err
	}
	credential, err := service.settings.CurrentCredential(ctx)
	if err != nil {
		return Deployment{}, err
	}
	if err := service.setConfigVars(ctx, credential, deployment.Name, config.Vars()); err != nil {
		return Deployment{}, newExternalError(StepSetConfig, err)
	}
	now := service.nowFn().UTC()
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if updateErr := txStore.UpdateConfig(ctx, deployment.DeploymentID, config); updateErr != nil {
			return updateErr
		}
		return txStore.AppendLog(ctx, deployment.DeploymentID, LogLine{Timestamp: now, Level: LogInfo, Message: "Configuration updated"})
	})
	if err != nil {
		return Deployment{}, err
	}
	deployment.Config = config
	return deployment, nil
}

// List returns the caller's deployments newest first.
func (service *Service) List(ctx context.Context, actor accounts.Actor) ([]Deployment, error) {
	return service.store.ListByAccount(ctx, actor.AccountID)
}

// Logs returns the log lines of one of the caller's deployments.
func (service *Service) Logs(ctx context.Context, actor accounts.Actor, deploymentID string) ([]LogLine, error) {
	deployment, err := service.owned(ctx, actor, deploymentID)
	if err != nil {
		return nil, err
	}
	return service.store.ListLogs(ctx, deployment.DeploymentID)
}

// ListAll returns every deployment to an administrator.
func (service *Service) ListAll(ctx context.Context, actor accounts.Actor) ([]Deployment, error) {
	if err := accounts.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	return service.store.ListAll(ctx)
}

// SuspendOverdue suspends every active deployment whose payment is due and returns how many moved.
func (service *Service) SuspendOverdue(ctx context.Context) (int, error) {
	now := service.nowFn().UTC()
	var suspended []string
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		ids, suspendErr := txStore.SuspendOverdue(ctx, now)
		if suspendErr != nil {
			return suspendErr
		}
		for _, deploymentID := range ids {
			if logErr := txStore.AppendLog(ctx, deploymentID, LogLine{Timestamp: now, Level: LogWarning, Message: "Payment overdue, deployment suspended"}); logErr != nil {
				return logErr
			}
		}
		suspended = ids
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(suspended) > 0 {
		service.logger.Info("overdue deployments suspended", zap.Int("count", len(suspended)))
	}
	return len(suspended), nil
}

func (service *Service) owned(ctx context.Context, actor accounts.Actor, deploymentID string) (Deployment, error) {
	trimmed := strings.TrimSpace(deploymentID)
	if trimmed == "" {
		return Deployment{}, ErrDeploymentNotFound
	}
	deployment, err := service.store.GetDeployment(ctx, trimmed)
	if err != nil {
		return Deployment{}, err
	}
	if deployment.AccountID != actor.AccountID {
		return Deployment{}, ErrDeploymentNotFound
	}
	return deployment, nil
}

func (service *Service) createApp(ctx context.Context, credential string, name string) (App, error) {
	callCtx, cancel := context.WithTimeout(ctx, service.externalTimeout)
	defer cancel()
	app, err := service.platform.CreateApp(callCtx, credential, name)
	return app, timeoutCause(callCtx, err)
}

func (service *Service) setConfigVars(ctx context.Context, credential string, name string, vars map[string]string) error {
	callCtx, cancel := context.WithTimeout(ctx, service.externalTimeout)
	defer cancel()
	return timeoutCause(callCtx, service.platform.SetConfigVars(callCtx, credential, name, vars))
}

func (service *Service) triggerBuild(ctx context.Context, credential string, name string, tarballURL string) error {
	callCtx, cancel := context.WithTimeout(ctx, service.externalTimeout)
	defer cancel()
	return timeoutCause(callCtx, service.platform.TriggerBuild(callCtx, credential, name, tarballURL))
}

func (service *Service) deleteApp(ctx context.Context, credential string, name string) error {
	callCtx, cancel := context.WithTimeout(ctx, service.externalTimeout)
	defer cancel()
	return timeoutCause(callCtx, service.platform.DeleteApp(callCtx, credential, name))
}

// timeoutCause makes a deadline hit visible even when the client returned a transport error.
func timeoutCause(callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
