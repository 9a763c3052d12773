package deployment_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
)

var baseTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type manualClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type platformCall struct {
	method     string
	credential string
	name       string
	vars       map[string]string
	tarballURL string
}

type fakePlatform struct {
	mutex         sync.Mutex
	calls         []platformCall
	createErr     error
	configErr     error
	buildErr      error
	deleteErr     error
	blockOnCreate bool
	appWebURL     string
	onBuild       func()
}

func (platform *fakePlatform) record(call platformCall) {
	platform.mutex.Lock()
	defer platform.mutex.Unlock()
	platform.calls = append(platform.calls, call)
}

func (platform *fakePlatform) Calls() []platformCall {
	platform.mutex.Lock()
	defer platform.mutex.Unlock()
	return append([]platformCall(nil), platform.calls...)
}

func (platform *fakePlatform) CreateApp(ctx context.Context, credential string, name string) (deployment.App, error) {
	platform.record(platformCall{method: "create", credential: credential, name: name})
	if platform.blockOnCreate {
		<-ctx.Done()
		return deployment.App{}, ctx.Err()
	}
	if platform.createErr != nil {
		return deployment.App{}, platform.createErr
	}
	return deployment.App{ID: "app-" + name, WebURL: platform.appWebURL}, nil
}

func (platform *fakePlatform) SetConfigVars(ctx context.Context, credential string, name string, vars map[string]string) error {
	platform.record(platformCall{method: "config", credential: credential, name: name, vars: vars})
	return platform.configErr
}

func (platform *fakePlatform) TriggerBuild(ctx context.Context, credential string, name string, sourceTarballURL string) error {
	platform.record(platformCall{method: "build", credential: credential, name: name, tarballURL: sourceTarballURL})
	if platform.onBuild != nil {
		platform.onBuild()
	}
	return platform.buildErr
}

func (platform *fakePlatform) DeleteApp(ctx context.Context, credential string, name string) error {
	platform.record(platformCall{method: "delete", credential: credential, name: name})
	return platform.deleteErr
}

type harness struct {
	store    *gormstore.Store
	clock    *manualClock
	platform *fakePlatform
	ledger   *ledger.Service
	keys     *keypool.Service
	service  *deployment.Service
	admin    accounts.Actor
}

func newHarness(test *testing.T, platform *fakePlatform, credentials []string, options ...deployment.Option) *harness {
	test.Helper()
	db, err := gormstore.OpenSQLite(filepath.Join(test.TempDir(), "deployments.db"))
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	test.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := gormstore.New(db)
	if err := store.AutoMigrate(context.Background()); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	clock := &manualClock{current: baseTime}
	ledgerService, err := ledger.NewService(store.Ledger(), clock.Now)
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	keys, err := keypool.NewService(store.Settings(), keypool.DefaultSettings(), clock.Now, nil)
	if err != nil {
		test.Fatalf("keypool service: %v", err)
	}
	testHarness := &harness{store: store, clock: clock, platform: platform, ledger: ledgerService, keys: keys}
	testHarness.admin = testHarness.actor(test, "root", 0, accounts.RoleAdministrator)
	if len(credentials) > 0 {
		if _, err := keys.ReplaceCredentials(context.Background(), testHarness.admin, credentials); err != nil {
			test.Fatalf("credentials: %v", err)
		}
	}
	service, err := deployment.NewService(store.Deployments(), ledgerService, keys, platform, clock.Now, options...)
	if err != nil {
		test.Fatalf("deployment service: %v", err)
	}
	testHarness.service = service
	return testHarness
}

func (testHarness *harness) actor(test *testing.T, handle string, balance int64, role accounts.Role) accounts.Actor {
	test.Helper()
	account, err := testHarness.store.Accounts().CreateAccount(context.Background(), accounts.Account{
		Handle:    handle,
		Email:     handle + "@example.com",
		Balance:   balance,
		Role:      role,
		Active:    true,
		CreatedAt: baseTime,
	})
	if err != nil {
		test.Fatalf("create account %s: %v", handle, err)
	}
	return accounts.Actor{AccountID: account.ID, Role: role}
}

func (testHarness *harness) balance(test *testing.T, actor accounts.Actor) int64 {
	test.Helper()
	balance, err := testHarness.ledger.Balance(context.Background(), actor.AccountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func (testHarness *harness) entries(test *testing.T, actor accounts.Actor) []ledger.Entry {
	test.Helper()
	entries, err := testHarness.ledger.ListEntries(context.Background(), actor.AccountID, 50)
	if err != nil {
		test.Fatalf("entries: %v", err)
	}
	return entries
}

func sessionConfig() deployment.Config {
	config := deployment.DefaultConfig()
	config.SessionID = "session-abc"
	return config
}

func mustAmount(test *testing.T, raw int64) ledger.Amount {
	test.Helper()
	amount, err := ledger.NewAmount(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func TestProvisionChargesAfterExternalSuccess(test *testing.T) {
	test.Parallel()
	platform := &fakePlatform{}
	testHarness := newHarness(test, platform, []string{"key-a", "key-b"})
	owner := testHarness.actor(test, "alice", 10, accounts.RoleUser)

	created, err := testHarness.service.Provision(context.Background(), owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	if err != nil {
		test.Fatalf("provision: %v", err)
	}
	if created.Status != deployment.StatusActive {
		test.Fatalf("expected active, got %s", created.Status)
	}
	if created.URL != "https://mybot.herokuapp.com" || created.ExternalID != "app-mybot" {
		test.Fatalf("unexpected external fields %+v", created)
	}
	if !created.NextPaymentDue.Equal(baseTime.Add(deployment.PaymentPeriod)) {
		test.Fatalf("unexpected next payment due %v", created.NextPaymentDue)
	}
	if balance := testHarness.balance(test, owner); balance != 0 {
		test.Fatalf("expected balance 0, got %d", balance)
	}
	entries := testHarness.entries(test, owner)
	if len(entries) != 1 {
		test.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Direction != ledger.DirectionDebit || entry.Amount.Int64() != 10 || entry.Reason != "Deployment: mybot" {
		test.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Reference == nil || entry.Reference.Kind != ledger.ReferenceDeployment || entry.Reference.ID != created.DeploymentID {
		test.Fatalf("expected deployment reference, got %+v", entry.Reference)
	}

	calls := platform.Calls()
	if len(calls) != 3 || calls[0].method != "create" || calls[1].method != "config" || calls[2].method != "build" {
		test.Fatalf("unexpected call sequence %+v", calls)
	}
	if calls[0].credential != "key-b" {
		test.Fatalf("expected the cursor to advance to key-b, got %s", calls[0].credential)
	}
	if calls[1].vars["SESSION_ID"] != "session-abc" || calls[1].vars["PREFIX"] != deployment.DefaultPrefix {
		test.Fatalf("unexpected config vars %v", calls[1].vars)
	}
	if calls[2].tarballURL != keypool.DefaultSourceRepository+"/tarball/main" {
		test.Fatalf("unexpected tarball url %s", calls[2].tarballURL)
	}

	logs, err := testHarness.service.Logs(context.Background(), owner, created.DeploymentID)
	if err != nil || len(logs) != 1 || logs[0].Message != "Deployment created and build triggered" {
		test.Fatalf("unexpected logs %+v %v", logs, err)
	}
}

func TestProvisionRejectsBeforeExternalCalls(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		balance     int64
		credentials []string
		request     deployment.Request
		seedName    bool
		want        error
	}{
		{name: "insufficient balance", balance: 5, credentials: []string{"key"}, request: deployment.Request{Name: "mybot", Config: sessionConfig()}, want: ledger.ErrInsufficientFunds},
		{name: "invalid name", balance: 50, credentials: []string{"key"}, request: deployment.Request{Name: "My_Bot", Config: sessionConfig()}, want: deployment.ErrInvalidName},
		{name: "missing session", balance: 50, credentials: []string{"key"}, request: deployment.Request{Name: "mybot", Config: deployment.DefaultConfig()}, want: deployment.ErrInvalidConfig},
		{name: "no credentials", balance: 50, request: deployment.Request{Name: "mybot", Config: sessionConfig()}, want: keypool.ErrNoCredentialsConfigured},
		{name: "name taken", balance: 50, credentials: []string{"key"}, request: deployment.Request{Name: "mybot", Config: sessionConfig()}, seedName: true, want: deployment.ErrNameTaken},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			platform := &fakePlatform{}
			testHarness := newHarness(test, platform, testCase.credentials)
			owner := testHarness.actor(test, "alice", testCase.balance, accounts.RoleUser)
			if testCase.seedName {
				other := testHarness.actor(test, "bob", 0, accounts.RoleUser)
				if _, err := testHarness.store.Deployments().CreateDeployment(context.Background(), deployment.Deployment{
					AccountID: other.AccountID,
					Name:      "mybot",
					Status:    deployment.StatusActive,
					Config:    sessionConfig(),
					CreatedAt: baseTime,
				}); err != nil {
					test.Fatalf("seed deployment: %v", err)
				}
			}

			_, err := testHarness.service.Provision(context.Background(), owner, testCase.request)
			if !errors.Is(err, testCase.want) {
				test.Fatalf("expected %v, got %v", testCase.want, err)
			}
			if calls := platform.Calls(); len(calls) != 0 {
				test.Fatalf("expected no platform calls, got %+v", calls)
			}
			if balance := testHarness.balance(test, owner); balance != testCase.balance {
				test.Fatalf("balance changed to %d", balance)
			}
		})
	}
}

func TestProvisionCreateFailureLeavesNoTrace(test *testing.T) {
	test.Parallel()
	platform := &fakePlatform{createErr: errors.New("name is already taken upstream")}
	testHarness := newHarness(test, platform, []string{"key"})
	owner := testHarness.actor(test, "alice", 20, accounts.RoleUser)

	_, err := testHarness.service.Provision(context.Background(), owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	if !errors.Is(err, deployment.ErrExternalProvisioningFailed) {
		test.Fatalf("expected external failure, got %v", err)
	}
	var externalError *deployment.ExternalError
	if !errors.As(err, &externalError) || externalError.Step != deployment.StepCreateApp {
		test.Fatalf("expected create step, got %v", err)
	}
	deployments, err := testHarness.service.List(context.Background(), owner)
	if err != nil || len(deployments) != 0 {
		test.Fatalf("expected no deployments, got %d %v", len(deployments), err)
	}
	if balance := testHarness.balance(test, owner); balance != 20 {
		test.Fatalf("expected no charge, got balance %d", balance)
	}
}

func TestProvisionPartialFailureRecordsFailedDeployment(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		platform *fakePlatform
		step     string
	}{
		{name: "config", platform: &fakePlatform{configErr: errors.New("config rejected")}, step: deployment.StepSetConfig},
		{name: "build", platform: &fakePlatform{buildErr: errors.New("build rejected")}, step: deployment.StepTriggerBuild},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			testHarness := newHarness(test, testCase.platform, []string{"key"})
			owner := testHarness.actor(test, "alice", 20, accounts.RoleUser)

			_, err := testHarness.service.Provision(context.Background(), owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
			var externalError *deployment.ExternalError
			if !errors.As(err, &externalError) || externalError.Step != testCase.step {
				test.Fatalf("expected %s failure, got %v", testCase.step, err)
			}
			deployments, err := testHarness.service.List(context.Background(), owner)
			if err != nil || len(deployments) != 1 {
				test.Fatalf("expected one failed deployment, got %d %v", len(deployments), err)
			}
			failed := deployments[0]
			if failed.Status != deployment.StatusFailed || failed.ExternalID != "app-mybot" {
				test.Fatalf("unexpected failed row %+v", failed)
			}
			if balance := testHarness.balance(test, owner); balance != 20 {
				test.Fatalf("expected no charge, got balance %d", balance)
			}
			logs, err := testHarness.service.Logs(context.Background(), owner, failed.DeploymentID)
			if err != nil || len(logs) != 1 || logs[0].Level != deployment.LogError {
				test.Fatalf("expected one error log, got %+v %v", logs, err)
			}
			if _, err := testHarness.service.Pay(context.Background(), owner, failed.DeploymentID); !errors.Is(err, deployment.ErrDeploymentFailed) {
				test.Fatalf("expected failed deployments to reject payment, got %v", err)
			}
		})
	}
}

func TestProvisionChargeFailureAfterBuildRecordsFailedDeployment(test *testing.T) {
	test.Parallel()
	platform := &fakePlatform{}
	testHarness := newHarness(test, platform, []string{"key"})
	owner := testHarness.actor(test, "alice", 10, accounts.RoleUser)
	platform.onBuild = func() {
		if _, err := testHarness.ledger.Debit(context.Background(), owner.AccountID, mustAmount(test, 5), "Concurrent spend", nil); err != nil {
			test.Errorf("concurrent debit: %v", err)
		}
	}

	_, err := testHarness.service.Provision(context.Background(), owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	var externalError *deployment.ExternalError
	if !errors.As(err, &externalError) || externalError.Step != deployment.StepRecord {
		test.Fatalf("expected record step failure, got %v", err)
	}
	if !errors.Is(err, deployment.ErrExternalProvisioningFailed) || !errors.Is(err, ledger.ErrInsufficientFunds) {
		test.Fatalf("expected external failure wrapping insufficient funds, got %v", err)
	}
	deployments, err := testHarness.service.List(context.Background(), owner)
	if err != nil || len(deployments) != 1 {
		test.Fatalf("expected one failed deployment, got %d %v", len(deployments), err)
	}
	if failed := deployments[0]; failed.Status != deployment.StatusFailed || failed.ExternalID != "app-mybot" {
		test.Fatalf("unexpected failed row %+v", failed)
	}
	if balance := testHarness.balance(test, owner); balance != 5 {
		test.Fatalf("expected only the concurrent spend to be charged, got balance %d", balance)
	}
}

func TestProvisionNameClaimedDuringBuildKeepsExistingRecord(test *testing.T) {
	test.Parallel()
	platform := &fakePlatform{}
	testHarness := newHarness(test, platform, []string{"key"})
	owner := testHarness.actor(test, "alice", 10, accounts.RoleUser)
	rival := testHarness.actor(test, "bob", 10, accounts.RoleUser)
	platform.onBuild = func() {
		_, err := testHarness.store.Deployments().CreateDeployment(context.Background(), deployment.Deployment{
			AccountID:      rival.AccountID,
			Name:           "mybot",
			Status:         deployment.StatusActive,
			LastPaidAt:     baseTime,
			NextPaymentDue: baseTime.Add(deployment.PaymentPeriod),
			Config:         sessionConfig(),
			CreatedAt:      baseTime,
		})
		if err != nil {
			test.Errorf("rival deployment: %v", err)
		}
	}

	_, err := testHarness.service.Provision(context.Background(), owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	var externalError *deployment.ExternalError
	if !errors.As(err, &externalError) || externalError.Step != deployment.StepRecord || !errors.Is(err, deployment.ErrNameTaken) {
		test.Fatalf("expected record step failure for a taken name, got %v", err)
	}
	deployments, err := testHarness.service.List(context.Background(), owner)
	if err != nil || len(deployments) != 0 {
		test.Fatalf("expected no row for the owner, got %d %v", len(deployments), err)
	}
	if balance := testHarness.balance(test, owner); balance != 10 {
		test.Fatalf("expected no charge, got balance %d", balance)
	}
}

func TestProvisionExternalTimeout(test *testing.T) {
	test.Parallel()
	platform := &fakePlatform{blockOnCreate: true}
	testHarness := newHarness(test, platform, []string{"key"}, deployment.WithExternalTimeout(20*time.Millisecond))
	owner := testHarness.actor(test, "alice", 20, accounts.RoleUser)

	_, err := testHarness.service.Provision(context.Background(), owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	if !errors.Is(err, deployment.ErrExternalProvisioningFailed) || !errors.Is(err, context.DeadlineExceeded) {
		test.Fatalf("expected timeout failure, got %v", err)
	}
	if balance := testHarness.balance(test, owner); balance != 20 {
		test.Fatalf("expected no charge, got balance %d", balance)
	}
}

func TestPaySuspendAndReactivate(test *testing.T) {
	test.Parallel()
	testHarness := newHarness(test, &fakePlatform{}, []string{"key"})
	owner := testHarness.actor(test, "alice", 30, accounts.RoleUser)
	ctx := context.Background()

	created, err := testHarness.service.Provision(ctx, owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	if err != nil {
		test.Fatalf("provision: %v", err)
	}
	if _, err := testHarness.service.Pay(ctx, owner, created.DeploymentID); !errors.Is(err, deployment.ErrPaymentNotDue) {
		test.Fatalf("expected payment not due, got %v", err)
	}

	suspended, err := testHarness.service.SuspendOverdue(ctx)
	if err != nil || suspended != 0 {
		test.Fatalf("expected nothing overdue, got %d %v", suspended, err)
	}
	testHarness.clock.Advance(25 * time.Hour)
	suspended, err = testHarness.service.SuspendOverdue(ctx)
	if err != nil || suspended != 1 {
		test.Fatalf("expected one suspension, got %d %v", suspended, err)
	}
	deployments, err := testHarness.service.List(ctx, owner)
	if err != nil || len(deployments) != 1 || deployments[0].Status != deployment.StatusSuspended {
		test.Fatalf("expected suspended deployment, got %+v %v", deployments, err)
	}

	paid, err := testHarness.service.Pay(ctx, owner, created.DeploymentID)
	if err != nil {
		test.Fatalf("pay: %v", err)
	}
	if paid.Status != deployment.StatusActive || !paid.NextPaymentDue.Equal(baseTime.Add(49*time.Hour)) {
		test.Fatalf("unexpected paid deployment %+v", paid)
	}
	if balance := testHarness.balance(test, owner); balance != 10 {
		test.Fatalf("expected balance 10, got %d", balance)
	}
	entries := testHarness.entries(test, owner)
	if len(entries) != 2 || entries[0].Reason != "Payment for mybot" {
		test.Fatalf("unexpected entries %+v", entries)
	}
	logs, err := testHarness.service.Logs(ctx, owner, created.DeploymentID)
	if err != nil || len(logs) != 3 {
		test.Fatalf("expected three log lines, got %+v %v", logs, err)
	}
	if logs[1].Message != "Payment overdue, deployment suspended" || logs[2].Message != "Payment received, deployment active" {
		test.Fatalf("unexpected log order %+v", logs)
	}
}

func TestConcurrentPaymentsChargeOnePeriod(test *testing.T) {
	test.Parallel()
	testHarness := newHarness(test, &fakePlatform{}, []string{"key"})
	owner := testHarness.actor(test, "alice", 100, accounts.RoleUser)
	ctx := context.Background()

	created, err := testHarness.service.Provision(ctx, owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	if err != nil {
		test.Fatalf("provision: %v", err)
	}
	testHarness.clock.Advance(25 * time.Hour)
	if suspended, err := testHarness.service.SuspendOverdue(ctx); err != nil || suspended != 1 {
		test.Fatalf("expected one suspension, got %d %v", suspended, err)
	}

	const attempts = 8
	var waitGroup sync.WaitGroup
	results := make(chan error, attempts)
	for attempt := 0; attempt < attempts; attempt++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, payErr := testHarness.service.Pay(ctx, owner, created.DeploymentID)
			results <- payErr
		}()
	}
	waitGroup.Wait()
	close(results)

	paid := 0
	for payErr := range results {
		switch {
		case payErr == nil:
			paid++
		case errors.Is(payErr, deployment.ErrPaymentNotDue):
		default:
			test.Fatalf("unexpected pay error: %v", payErr)
		}
	}
	if paid != 1 {
		test.Fatalf("expected exactly one payment, got %d", paid)
	}
	if balance := testHarness.balance(test, owner); balance != 80 {
		test.Fatalf("expected one provision and one period charged, got balance %d", balance)
	}
}

func TestPayWithoutFundsKeepsDeploymentSuspended(test *testing.T) {
	test.Parallel()
	testHarness := newHarness(test, &fakePlatform{}, []string{"key"})
	owner := testHarness.actor(test, "alice", 15, accounts.RoleUser)
	ctx := context.Background()

	created, err := testHarness.service.Provision(ctx, owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	if err != nil {
		test.Fatalf("provision: %v", err)
	}
	testHarness.clock.Advance(25 * time.Hour)
	if _, err := testHarness.service.SuspendOverdue(ctx); err != nil {
		test.Fatalf("suspend: %v", err)
	}
	if _, err := testHarness.service.Pay(ctx, owner, created.DeploymentID); !errors.Is(err, ledger.ErrInsufficientFunds) {
		test.Fatalf("expected insufficient funds, got %v", err)
	}
	deployments, err := testHarness.service.List(ctx, owner)
	if err != nil || deployments[0].Status != deployment.StatusSuspended {
		test.Fatalf("expected deployment to stay suspended, got %+v %v", deployments, err)
	}
	if balance := testHarness.balance(test, owner); balance != 5 {
		test.Fatalf("expected balance 5, got %d", balance)
	}
}

func TestDeleteIgnoresExternalFailure(test *testing.T) {
	test.Parallel()
	platform := &fakePlatform{}
	testHarness := newHarness(test, platform, []string{"key"})
	owner := testHarness.actor(test, "alice", 10, accounts.RoleUser)
	stranger := testHarness.actor(test, "mallory", 10, accounts.RoleUser)
	ctx := context.Background()

	created, err := testHarness.service.Provision(ctx, owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	if err != nil {
		test.Fatalf("provision: %v", err)
	}
	if err := testHarness.service.Delete(ctx, stranger, created.DeploymentID); !errors.Is(err, deployment.ErrDeploymentNotFound) {
		test.Fatalf("expected not found for a stranger, got %v", err)
	}
	platform.mutex.Lock()
	platform.deleteErr = errors.New("app already gone")
	platform.mutex.Unlock()

	if err := testHarness.service.Delete(ctx, owner, created.DeploymentID); err != nil {
		test.Fatalf("delete: %v", err)
	}
	calls := platform.Calls()
	if last := calls[len(calls)-1]; last.method != "delete" || last.name != "mybot" {
		test.Fatalf("expected external delete, got %+v", last)
	}
	if _, err := testHarness.service.Logs(ctx, owner, created.DeploymentID); !errors.Is(err, deployment.ErrDeploymentNotFound) {
		test.Fatalf("expected record gone, got %v", err)
	}
	if err := testHarness.service.Delete(ctx, owner, created.DeploymentID); !errors.Is(err, deployment.ErrDeploymentNotFound) {
		test.Fatalf("expected second delete to miss, got %v", err)
	}
}

func TestUpdateConfigKeepsSessionWhenBlank(test *testing.T) {
	test.Parallel()
	platform := &fakePlatform{}
	testHarness := newHarness(test, platform, []string{"key"})
	owner := testHarness.actor(test, "alice", 10, accounts.RoleUser)
	ctx := context.Background()

	created, err := testHarness.service.Provision(ctx, owner, deployment.Request{Name: "mybot", Config: sessionConfig()})
	if err != nil {
		test.Fatalf("provision: %v", err)
	}
	update := deployment.Config{Prefix: "!", BotName: "helper", AlwaysOnline: false, AutoReply: true}
	updated, err := testHarness.service.UpdateConfig(ctx, owner, created.DeploymentID, update)
	if err != nil {
		test.Fatalf("update config: %v", err)
	}
	if updated.Config.SessionID != "session-abc" || updated.Config.Prefix != "!" {
		test.Fatalf("unexpected config %+v", updated.Config)
	}
	calls := platform.Calls()
	last := calls[len(calls)-1]
	if last.method != "config" || last.vars["ALWAYS_ONLINE"] != "false" || last.vars["SESSION_ID"] != "session-abc" {
		test.Fatalf("unexpected config push %+v", last)
	}
	stored, err := testHarness.service.List(ctx, owner)
	if err != nil || stored[0].Config.BotName != "helper" {
		test.Fatalf("expected stored config, got %+v %v", stored, err)
	}

	platform.mutex.Lock()
	platform.configErr = errors.New("upstream down")
	platform.mutex.Unlock()
	var externalError *deployment.ExternalError
	if _, err := testHarness.service.UpdateConfig(ctx, owner, created.DeploymentID, update); !errors.As(err, &externalError) || externalError.Step != deployment.StepSetConfig {
		test.Fatalf("expected set config failure, got %v", err)
	}
}

func TestListAllRequiresAdministrator(test *testing.T) {
	test.Parallel()
	testHarness := newHarness(test, &fakePlatform{}, []string{"key"})
	owner := testHarness.actor(test, "alice", 10, accounts.RoleUser)
	ctx := context.Background()

	if _, err := testHarness.service.Provision(ctx, owner, deployment.Request{Name: "mybot", Config: sessionConfig()}); err != nil {
		test.Fatalf("provision: %v", err)
	}
	if _, err := testHarness.service.ListAll(ctx, owner); !errors.Is(err, accounts.ErrAdministratorOnly) {
		test.Fatalf("expected administrator only, got %v", err)
	}
	all, err := testHarness.service.ListAll(ctx, testHarness.admin)
	if err != nil || len(all) != 1 || all[0].OwnerHandle != "alice" {
		test.Fatalf("unexpected admin listing %+v %v", all, err)
	}
}

type recordingObserver struct {
	mutex    sync.Mutex
	outcomes []string
}

func (observer *recordingObserver) ObserveProvisioning(outcome string, duration time.Duration) {
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	observer.outcomes = append(observer.outcomes, outcome)
}

func TestProvisionReportsOutcome(test *testing.T) {
	test.Parallel()
	observer := &recordingObserver{}
	testHarness := newHarness(test, &fakePlatform{}, []string{"key"}, deployment.WithRecorder(observer))
	owner := testHarness.actor(test, "alice", 10, accounts.RoleUser)
	ctx := context.Background()

	if _, err := testHarness.service.Provision(ctx, owner, deployment.Request{Name: "mybot", Config: sessionConfig()}); err != nil {
		test.Fatalf("provision: %v", err)
	}
	if _, err := testHarness.service.Provision(ctx, owner, deployment.Request{Name: "other", Config: sessionConfig()}); err == nil {
		test.Fatalf("expected rejection without funds")
	}
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	if len(observer.outcomes) != 2 || observer.outcomes[0] != deployment.OutcomeSucceeded || observer.outcomes[1] != deployment.OutcomeRejected {
		test.Fatalf("unexpected outcomes %v", observer.outcomes)
	}
}
