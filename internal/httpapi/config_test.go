package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
)

func TestConfigValidateFillsDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{BaseURL: "https://bots.example.com/"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr {
		test.Fatalf("expected default listen address, got %q", cfg.ListenAddr)
	}
	if cfg.BaseURL != "https://bots.example.com" {
		test.Fatalf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{defaultAllowedOrigin}) {
		test.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.ShutdownTimeout != defaultShutdownTimeout || cfg.AuthRateLimit != defaultAuthRateLimit || cfg.AuthRateBurst != defaultAuthRateBurst {
		test.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestConfigValidateRejectsBadValues(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "non http base url", cfg: Config{BaseURL: "ftp://bots.example.com"}},
		{name: "negative rate", cfg: Config{AuthRateLimit: -1}},
		{name: "negative burst", cfg: Config{AuthRateBurst: -3}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := testCase.cfg.Validate(); err == nil {
				test.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		raw      string
		expected []string
	}{
		{raw: "", expected: []string{}},
		{raw: " , ", expected: []string{}},
		{raw: "http://a.test, https://b.test ,", expected: []string{"http://a.test", "https://b.test"}},
	}
	for _, testCase := range testCases {
		if got := ParseAllowedOrigins(testCase.raw); !reflect.DeepEqual(got, testCase.expected) {
			test.Fatalf("ParseAllowedOrigins(%q) = %v, want %v", testCase.raw, got, testCase.expected)
		}
	}
}

func TestPublicMessageStripsPrefixes(test *testing.T) {
	test.Parallel()
	wrapped := ledger.WrapError("store", "balance", "update", ledger.ErrInsufficientFunds)
	if got := publicMessage(wrapped, ledger.ErrInsufficientFunds); got != "insufficient funds" {
		test.Fatalf("unexpected message %q", got)
	}
	taken := fmt.Errorf("provision: %w", deployment.ErrNameTaken)
	if got := publicMessage(taken, deployment.ErrNameTaken); got != "deployment name already taken" {
		test.Fatalf("unexpected message %q", got)
	}
	if got := publicMessage(accounts.ErrAccountExists, accounts.ErrAccountExists); got != "handle or email already exists" {
		test.Fatalf("unexpected message %q", got)
	}
}

func TestErrorRulesCoverDomainErrors(test *testing.T) {
	test.Parallel()
	matched := func(err error) string {
		for _, rule := range errorRules {
			if errors.Is(err, rule.target) {
				return rule.code
			}
		}
		return ""
	}
	if code := matched(accounts.ErrAccountExists); code != "conflict" {
		test.Fatalf("expected conflict, got %q", code)
	}
	if code := matched(accounts.ErrAccountSuspended); code != "account_suspended" {
		test.Fatalf("expected account_suspended, got %q", code)
	}
	if code := matched(errors.New("boom")); code != "" {
		test.Fatalf("expected no rule, got %q", code)
	}
}

func TestClientRateLimiterPerClient(test *testing.T) {
	test.Parallel()
	current := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	limiter := newClientRateLimiter(1, 2)
	limiter.nowFn = func() time.Time { return current }

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		test.Fatalf("expected burst to be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		test.Fatalf("expected third request to be limited")
	}
	if !limiter.Allow("10.0.0.2") {
		test.Fatalf("expected other client to be allowed")
	}
	current = current.Add(time.Second)
	if !limiter.Allow("10.0.0.1") {
		test.Fatalf("expected token refill after one second")
	}
	current = current.Add(limiterIdleTTL + time.Minute)
	limiter.Allow("10.0.0.3")
	if _, ok := limiter.limiters["10.0.0.1"]; ok {
		test.Fatalf("expected idle client to be pruned")
	}
}
