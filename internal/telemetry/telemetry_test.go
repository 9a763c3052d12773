package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var _ deployment.Recorder = (*Metrics)(nil)

func TestNewLoggerLevels(test *testing.T) {
	test.Parallel()
	for _, level := range []string{"", "info", "debug", "WARN", "error"} {
		logger, err := NewLogger(level)
		if err != nil {
			test.Fatalf("level %q: %v", level, err)
		}
		_ = logger.Sync()
	}
	if _, err := NewLogger("chatty"); err == nil {
		test.Fatalf("expected unknown level to fail")
	}
}

func TestLedgerLoggerWritesAndCounts(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	metrics := NewMetrics()
	ledgerLogger := NewLedgerLogger(zap.New(core), metrics)

	accountID, err := ledger.NewAccountID("account-1")
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	amount, err := ledger.NewAmount(10)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	reference, err := ledger.NewReference(ledger.ReferenceDeployment, "dep-1")
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	ledgerLogger.LogOperation(context.Background(), ledger.OperationLog{Operation: "debit", AccountID: accountID, Amount: amount, Reason: "Deployment: mybot", Reference: reference, Status: "ok"})
	ledgerLogger.LogOperation(context.Background(), ledger.OperationLog{Operation: "debit", AccountID: accountID, Amount: amount, Reason: "Deployment: mybot", Status: "error", Error: errors.New("boom")})

	if logs.Len() != 2 {
		test.Fatalf("expected 2 log lines, got %d", logs.Len())
	}
	first := logs.All()[0]
	if first.Message != "ledger posting" || first.ContextMap()["reference_id"] != "dep-1" {
		test.Fatalf("unexpected first entry %+v", first)
	}
	if logs.All()[1].Level != zap.WarnLevel {
		test.Fatalf("expected failed posting at warn")
	}
	if got := testutil.ToFloat64(metrics.postings.WithLabelValues("debit", "ok")); got != 1 {
		test.Fatalf("expected 1 ok posting, got %v", got)
	}
}

func TestMetricsProvisioningAndHTTP(test *testing.T) {
	test.Parallel()
	gin.SetMode(gin.TestMode)
	metrics := NewMetrics()
	metrics.ObserveProvisioning(deployment.OutcomeSucceeded, 2*time.Second)

	router := gin.New()
	router.Use(metrics.GinMiddleware())
	router.GET("/api/deployments/:id", func(context *gin.Context) {
		context.Status(http.StatusNoContent)
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/deployments/abc", nil))
	if recorder.Code != http.StatusNoContent {
		test.Fatalf("unexpected status %d", recorder.Code)
	}
	if got := testutil.ToFloat64(metrics.httpRequests.WithLabelValues(http.MethodGet, "/api/deployments/:id", "204")); got != 1 {
		test.Fatalf("expected route-labelled counter, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.provisionings.WithLabelValues(deployment.OutcomeSucceeded)); got != 1 {
		test.Fatalf("expected provisioning counter, got %v", got)
	}

	scrape := httptest.NewRecorder()
	router.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if scrape.Code != http.StatusOK {
		test.Fatalf("metrics endpoint status %d", scrape.Code)
	}
}
