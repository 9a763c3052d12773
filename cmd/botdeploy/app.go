package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/auth"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/heroku"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/httpapi"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/messaging"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/referral"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/telemetry"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/wallet"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

// application holds the services shared by every command.
type application struct {
	logger      *zap.Logger
	metrics     *telemetry.Metrics
	store       *gormstore.Store
	ledger      *ledger.Service
	keyPool     *keypool.Service
	referrals   *referral.Service
	accounts    *accounts.Service
	deployments *deployment.Service
	wallet      *wallet.Service
	messages    *messaging.Service
	close       func()
}

func newApplication(ctx context.Context, cfg *runtimeConfig) (*application, error) {
	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	db, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("database open: %w", err)
	}
	app := &application{
		logger:  logger,
		metrics: telemetry.NewMetrics(),
		store:   gormstore.New(db),
		close: func() {
			if err := cleanup(); err != nil {
				logger.Warn("database close failed", zap.Error(err))
			}
			_ = logger.Sync()
		},
	}
	if err := app.store.AutoMigrate(ctx); err != nil {
		app.close()
		return nil, err
	}

	now := time.Now
	app.ledger, err = ledger.NewService(app.store.Ledger(), now, ledger.WithOperationLogger(telemetry.NewLedgerLogger(logger, app.metrics)))
	if err != nil {
		app.close()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	app.keyPool, err = keypool.NewService(app.store.Settings(), keypool.DefaultSettings(), now, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("key pool init: %w", err)
	}
	app.referrals, err = referral.NewService(app.store.Referrals(), app.ledger, app.keyPool, cfg.HTTP.BaseURL, now, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("referral service init: %w", err)
	}
	app.accounts, err = accounts.NewService(app.store.Accounts(), app.referrals, now, accounts.WithLogger(logger))
	if err != nil {
		app.close()
		return nil, fmt.Errorf("account service init: %w", err)
	}
	platform, err := heroku.NewClient(heroku.Config{BaseURL: cfg.HerokuAPIURL, Timeout: cfg.ExternalTimeout, Logger: logger})
	if err != nil {
		app.close()
		return nil, err
	}
	app.deployments, err = deployment.NewService(app.store.Deployments(), app.ledger, app.keyPool, platform, now,
		deployment.WithExternalTimeout(cfg.ExternalTimeout),
		deployment.WithLogger(logger),
		deployment.WithRecorder(app.metrics),
	)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("deployment service init: %w", err)
	}
	app.wallet, err = wallet.NewService(app.store.Wallet(), app.ledger, app.keyPool, now, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("wallet service init: %w", err)
	}
	app.messages, err = messaging.NewService(app.store.Messages(), now, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("messaging service init: %w", err)
	}
	return app, nil
}

func runMigrate(ctx context.Context, cfg *runtimeConfig) error {
	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()
	app.logger.Info("schema migrated")
	return nil
}

func runServe(parent context.Context, cfg *runtimeConfig) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.bootstrap(ctx, cfg); err != nil {
		return err
	}
	tokens, err := auth.NewTokenIssuer(auth.IssuerConfig{SigningKey: cfg.JWTSigningKey, Issuer: cfg.JWTIssuer, TTL: cfg.JWTTTL, Now: time.Now})
	if err != nil {
		return err
	}
	revocations, closeRevocations, err := openRevocationList(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer closeRevocations()

	server, err := httpapi.NewServer(cfg.HTTP, httpapi.Services{
		Accounts:    app.accounts,
		Ledger:      app.ledger,
		Referrals:   app.referrals,
		KeyPool:     app.keyPool,
		Deployments: app.deployments,
		Wallet:      app.wallet,
		Messages:    app.messages,
		Tokens:      tokens,
		Revocations: revocations,
		Google:      auth.NewGoogleVerifier(cfg.GoogleClientID, nil),
		Metrics:     app.metrics,
	}, app.logger)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// bootstrap seeds the administrator account and the default voucher when configured.
func (app *application) bootstrap(ctx context.Context, cfg *runtimeConfig) error {
	if cfg.AdminPassword != "" {
		account, created, err := app.accounts.EnsureAdministrator(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap administrator: %w", err)
		}
		app.logger.Info("administrator ready", zap.String("handle", account.Handle), zap.Bool("created", created))
	}
	if cfg.DefaultVoucherCode != "" {
		voucher, err := app.wallet.EnsureVoucher(ctx, cfg.DefaultVoucherCode, wallet.ScopePerAccount)
		if err != nil {
			return fmt.Errorf("seed voucher: %w", err)
		}
		app.logger.Info("default voucher ready", zap.String("code", voucher.Code), zap.Int64("amount", voucher.Amount))
	}
	return nil
}

func openRevocationList(ctx context.Context, addr string) (auth.RevocationList, func(), error) {
	if addr == "" {
		return auth.NewMemoryRevocationList(time.Now), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return auth.NewRedisRevocationList(client), func() { _ = client.Close() }, nil
}

func runSuspendOverdue(parent context.Context, cfg *runtimeConfig) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	if cfg.Schedule == "" {
		return app.sweep(ctx)
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Schedule, func() {
		if err := app.sweep(ctx); err != nil {
			app.logger.Error("overdue sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}
	app.logger.Info("overdue sweeper scheduled", zap.String("schedule", cfg.Schedule))
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	app.logger.Info("overdue sweeper stopped")
	return nil
}

func (app *application) sweep(ctx context.Context) error {
	suspended, err := app.deployments.SuspendOverdue(ctx)
	if err != nil {
		return err
	}
	app.logger.Info("overdue sweep finished", zap.Int("suspended", suspended))
	return nil
}
