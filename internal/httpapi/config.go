package httpapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultBaseURL         = "http://localhost:3000"
	defaultShutdownTimeout = 5 * time.Second
	defaultAuthRateLimit   = 1.0
	defaultAuthRateBurst   = 10
)

// Config aggregates runtime settings for the HTTP surface.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	BaseURL         string
	ShutdownTimeout time.Duration
	// AuthRateLimit is the sustained number of auth requests per second allowed from one client address.
	AuthRateLimit float64
	AuthRateBurst int
}

// Validate fills defaults and rejects values the server cannot run with.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.BaseURL = strings.TrimRight(defaultIfEmpty(cfg.BaseURL, defaultBaseURL), "/")
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.AuthRateLimit == 0 {
		cfg.AuthRateLimit = defaultAuthRateLimit
	}
	if cfg.AuthRateBurst == 0 {
		cfg.AuthRateBurst = defaultAuthRateBurst
	}
	if cfg.AuthRateLimit < 0 || cfg.AuthRateBurst < 0 {
		return fmt.Errorf("auth rate limit must be positive")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return fmt.Errorf("base url must be an http(s) url")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
