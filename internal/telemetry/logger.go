// Package telemetry builds the process logger, the ledger operation logger and
// the prometheus collectors served on /metrics.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a production logger, or a development logger for the debug level.
func NewLogger(level string) (*zap.Logger, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}
	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if parsed == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parsed)
	return config.Build()
}

// LedgerLogger writes ledger postings to zap and counts them.
type LedgerLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewLedgerLogger builds a LedgerLogger; metrics may be nil.
func NewLedgerLogger(logger *zap.Logger, metrics *Metrics) *LedgerLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerLogger{logger: logger, metrics: metrics}
}

// LogOperation implements ledger.OperationLogger.
func (ledgerLogger *LedgerLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.String("reason", entry.Reason),
		zap.String("status", entry.Status),
	}
	if entry.Reference != nil {
		fields = append(fields, zap.String("reference_kind", string(entry.Reference.Kind)), zap.String("reference_id", entry.Reference.ID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		ledgerLogger.logger.Warn("ledger posting failed", fields...)
	} else {
		ledgerLogger.logger.Info("ledger posting", fields...)
	}
	if ledgerLogger.metrics != nil {
		ledgerLogger.metrics.ObservePosting(entry.Operation, entry.Status)
	}
}

var _ ledger.OperationLogger = (*LedgerLogger)(nil)
