package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/httpapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "BOTDEPLOY"

	flagListenAddr         = "listen-addr"
	flagDatabaseURL        = "database-url"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagJWTTTL             = "jwt-ttl"
	flagAllowedOrigins     = "allowed-origins"
	flagBaseURL            = "base-url"
	flagHerokuAPIURL       = "heroku-api-url"
	flagExternalTimeout    = "external-timeout"
	flagRedisAddr          = "redis-addr"
	flagGoogleClientID     = "google-client-id"
	flagAdminUsername      = "admin-username"
	flagAdminEmail         = "admin-email"
	flagAdminPassword      = "admin-password"
	flagDefaultVoucherCode = "default-voucher-code"
	flagAuthRateLimit      = "auth-rate-limit"
	flagAuthRateBurst      = "auth-rate-burst"
	flagLogLevel           = "log-level"
	flagSchedule           = "schedule"

	defaultDatabaseURL     = "sqlite://botdeploy.db"
	defaultJWTIssuer       = "botdeploy"
	defaultExternalTimeout = 30 * time.Second
	defaultAdminUsername   = "admin"
	defaultAdminEmail      = "admin@localhost"
)

type runtimeConfig struct {
	HTTP               httpapi.Config
	DatabaseURL        string
	JWTSigningKey      string
	JWTIssuer          string
	JWTTTL             time.Duration
	HerokuAPIURL       string
	ExternalTimeout    time.Duration
	RedisAddr          string
	GoogleClientID     string
	AdminUsername      string
	AdminEmail         string
	AdminPassword      string
	DefaultVoucherCode string
	LogLevel           string
	Schedule           string
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "botdeploy: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "botdeploy",
		Short:         "Bot deployment backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "postgres:// or sqlite:// database URL")
	flags.String(flagLogLevel, "info", "log level (debug, info, warn, error)")
	flags.String(flagHerokuAPIURL, "", "hosting platform API base URL")
	flags.Duration(flagExternalTimeout, defaultExternalTimeout, "timeout for each hosting platform call")

	cmd.AddCommand(newServeCommand(cfg), newMigrateCommand(cfg), newSuspendOverdueCommand(cfg))
	return cmd
}

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg, true)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	flags := cmd.Flags()
	flags.String(flagListenAddr, ":8080", "HTTP listen address")
	flags.String(flagJWTSigningKey, "", "HMAC key for session tokens (required)")
	flags.String(flagJWTIssuer, defaultJWTIssuer, "session token issuer")
	flags.Duration(flagJWTTTL, 7*24*time.Hour, "session token lifetime")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagBaseURL, "", "public frontend URL used in referral links")
	flags.String(flagRedisAddr, "", "redis address for token revocation (in-memory when empty)")
	flags.String(flagGoogleClientID, "", "Google OAuth client id (Google sign-in disabled when empty)")
	flags.String(flagAdminUsername, defaultAdminUsername, "bootstrap administrator handle")
	flags.String(flagAdminEmail, defaultAdminEmail, "bootstrap administrator email")
	flags.String(flagAdminPassword, "", "bootstrap administrator password (no bootstrap when empty)")
	flags.String(flagDefaultVoucherCode, "", "voucher code seeded at startup")
	flags.Float64(flagAuthRateLimit, 1, "auth requests per second per client")
	flags.Int(flagAuthRateBurst, 10, "auth request burst per client")
	return cmd
}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg, false)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cfg)
		},
	}
}

func newSuspendOverdueCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suspend-overdue",
		Short: "Suspend active deployments whose payment is due",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg, false)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuspendOverdue(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String(flagSchedule, "", "cron expression; runs once and exits when empty")
	return cmd
}

// loadConfig binds every flag of cmd to viper so BOTDEPLOY_* environment variables override defaults.
func loadConfig(cmd *cobra.Command, cfg *runtimeConfig, serving bool) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))
	cfg.HerokuAPIURL = strings.TrimSpace(v.GetString(flagHerokuAPIURL))
	cfg.ExternalTimeout = v.GetDuration(flagExternalTimeout)
	cfg.Schedule = strings.TrimSpace(v.GetString(flagSchedule))
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	if !serving {
		return nil
	}

	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.JWTTTL = v.GetDuration(flagJWTTTL)
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.GoogleClientID = strings.TrimSpace(v.GetString(flagGoogleClientID))
	cfg.AdminUsername = strings.TrimSpace(v.GetString(flagAdminUsername))
	cfg.AdminEmail = strings.TrimSpace(v.GetString(flagAdminEmail))
	cfg.AdminPassword = v.GetString(flagAdminPassword)
	cfg.DefaultVoucherCode = strings.TrimSpace(v.GetString(flagDefaultVoucherCode))
	cfg.HTTP = httpapi.Config{
		ListenAddr:     strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins: httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		BaseURL:        strings.TrimSpace(v.GetString(flagBaseURL)),
		AuthRateLimit:  v.GetFloat64(flagAuthRateLimit),
		AuthRateBurst:  v.GetInt(flagAuthRateBurst),
	}
	if strings.TrimSpace(cfg.JWTSigningKey) == "" {
		return fmt.Errorf("%s is required", flagJWTSigningKey)
	}
	return cfg.HTTP.Validate()
}
