// Package deployment tracks provisioned bot instances and drives the external
// create, configure and build sequence that brings one to life.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
)

// PaymentPeriod is how long one payment keeps a deployment active.
const PaymentPeriod = 24 * time.Hour

const (
	DefaultPrefix  = "."
	DefaultBotName = "BANDAHEALI-MD"

	varSessionID    = "SESSION_ID"
	varPrefix       = "PREFIX"
	varBotName      = "BOT_NAME"
	varAlwaysOnline = "ALWAYS_ONLINE"
	varAutoReply    = "AUTO_REPLY"

	minNameLength = 3
	maxNameLength = 30
)

var (
	ErrNameTaken                  = apperr.Kind(apperr.ErrValidation, "deployment name already taken")
	ErrInvalidName                = apperr.Kind(apperr.ErrValidation, "name must be 3-30 lowercase letters, digits or hyphens")
	ErrInvalidConfig              = apperr.Kind(apperr.ErrValidation, "invalid deployment config")
	ErrDeploymentNotFound         = apperr.Kind(apperr.ErrNotFound, "deployment not found")
	ErrDeploymentFailed           = apperr.Kind(apperr.ErrValidation, "failed deployments must be provisioned again")
	ErrPaymentNotDue              = apperr.Kind(apperr.ErrValidation, "deployment is already paid for the current period")
	ErrExternalProvisioningFailed = errors.New("external provisioning failed")
	ErrInvalidServiceConfig       = errors.New("invalid deployment service config")
)

var (
	namePattern     = regexp.MustCompile(`^[a-z0-9-]+$`)
	extraVarPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

// Status is a lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
)

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusActive, StatusSuspended, StatusFailed:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("invalid deployment status %q", raw)
	}
}

// Config is the bot configuration pushed to the hosted application.
type Config struct {
	SessionID    string
	Prefix       string
	BotName      string
	AlwaysOnline bool
	AutoReply    bool
	Extra        map[string]string
}

// DefaultConfig returns the configuration a deployment starts from.
func DefaultConfig() Config {
	return Config{Prefix: DefaultPrefix, BotName: DefaultBotName, AlwaysOnline: true, AutoReply: true}
}

// Validate checks required fields and extra variable names.
func (config Config) Validate() error {
	if strings.TrimSpace(config.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidConfig)
	}
	for key := range config.Extra {
		if !extraVarPattern.MatchString(key) {
			return fmt.Errorf("%w: variable %q must be upper snake case", ErrInvalidConfig, key)
		}
		switch key {
		case varSessionID, varPrefix, varBotName, varAlwaysOnline, varAutoReply:
			return fmt.Errorf("%w: variable %q is reserved", ErrInvalidConfig, key)
		}
	}
	return nil
}

// Vars flattens the configuration into environment variables.
func (config Config) Vars() map[string]string {
	vars := make(map[string]string, len(config.Extra)+5)
	for key, value := range config.Extra {
		vars[key] = value
	}
	vars[varSessionID] = config.SessionID
	vars[varPrefix] = config.Prefix
	vars[varBotName] = config.BotName
	vars[varAlwaysOnline] = strconv.FormatBool(config.AlwaysOnline)
	vars[varAutoReply] = strconv.FormatBool(config.AutoReply)
	return vars
}

// ExtraKeys lists the extra variable names in sorted order.
func (config Config) ExtraKeys() []string {
	keys := make([]string, 0, len(config.Extra))
	for key := range config.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// LogLevel classifies a deployment log line.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogLine is one timestamped deployment event.
type LogLine struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// Deployment is one provisioned bot instance.
type Deployment struct {
	DeploymentID   string
	AccountID      ledger.AccountID
	OwnerHandle    string
	Name           string
	URL            string
	ExternalID     string
	Status         Status
	LastPaidAt     time.Time
	NextPaymentDue time.Time
	Config         Config
	CreatedAt      time.Time
}

// DashboardURL is the hosting provider's page for the application.
func (deployment Deployment) DashboardURL() string {
	return "https://dashboard.heroku.com/apps/" + deployment.Name
}

// App is what the hosting platform reports after creating an application.
type App struct {
	ID     string
	WebURL string
}

// Platform is the external hosting API.
type Platform interface {
	CreateApp(ctx context.Context, credential string, name string) (App, error)
	SetConfigVars(ctx context.Context, credential string, name string, vars map[string]string) error
	TriggerBuild(ctx context.Context, credential string, name string, sourceTarballURL string) error
	DeleteApp(ctx context.Context, credential string, name string) error
}

// SettingsSource hands out credentials and the current prices.
type SettingsSource interface {
	NextCredential(ctx context.Context) (string, error)
	CurrentCredential(ctx context.Context) (string, error)
	Settings(ctx context.Context) (keypool.Settings, error)
}

// Store persists deployments and their logs.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	NameExists(ctx context.Context, name string) (bool, error)
	// CreateDeployment fails with ErrNameTaken when the name is already used.
	CreateDeployment(ctx context.Context, deployment Deployment) (Deployment, error)
	GetDeployment(ctx context.Context, deploymentID string) (Deployment, error)
	// RecordPayment reactivates a deployment that is suspended or due at paidAt.
	// It fails with ErrPaymentNotDue when the row is in neither state.
	RecordPayment(ctx context.Context, deploymentID string, paidAt time.Time, nextPaymentDue time.Time) error
	UpdateConfig(ctx context.Context, deploymentID string, config Config) error
	DeleteDeployment(ctx context.Context, deploymentID string) error
	ListByAccount(ctx context.Context, accountID ledger.AccountID) ([]Deployment, error)
	ListAll(ctx context.Context) ([]Deployment, error)
	AppendLog(ctx context.Context, deploymentID string, line LogLine) error
	ListLogs(ctx context.Context, deploymentID string) ([]LogLine, error)
	// SuspendOverdue moves active deployments whose payment is due before now to suspended and returns their ids.
	SuspendOverdue(ctx context.Context, now time.Time) ([]string, error)
	Ledger() ledger.Store
}

// ValidateName checks the hosting platform's application name rules.
func ValidateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if len(name) < minNameLength || len(name) > maxNameLength || !namePattern.MatchString(name) {
		return "", ErrInvalidName
	}
	return name, nil
}
