// Package httpapi exposes the bot-deployment services over a gin JSON API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/auth"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/messaging"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/referral"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/telemetry"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/wallet"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ErrInvalidServerConfig = errors.New("invalid http server config")

// Services are the domain services the handlers call.
type Services struct {
	Accounts    *accounts.Service
	Ledger      *ledger.Service
	Referrals   *referral.Service
	KeyPool     *keypool.Service
	Deployments *deployment.Service
	Wallet      *wallet.Service
	Messages    *messaging.Service
	Tokens      *auth.TokenIssuer
	Revocations auth.RevocationList
	Google      *auth.GoogleVerifier
	Metrics     *telemetry.Metrics
}

// Server owns the router and its dependencies.
type Server struct {
	cfg      Config
	services Services
	logger   *zap.Logger
	limiter  *clientRateLimiter
	router   *gin.Engine
}

// NewServer validates the configuration and builds the router.
func NewServer(cfg Config, services Services, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServerConfig, err)
	}
	if services.Accounts == nil || services.Ledger == nil || services.Referrals == nil || services.KeyPool == nil ||
		services.Deployments == nil || services.Wallet == nil || services.Messages == nil || services.Tokens == nil ||
		services.Revocations == nil {
		return nil, fmt.Errorf("%w: missing service", ErrInvalidServerConfig)
	}
	if services.Google == nil {
		services.Google = auth.NewGoogleVerifier("", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		cfg:      cfg,
		services: services,
		logger:   logger,
		limiter:  newClientRateLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst),
	}
	server.router = server.setupRouter()
	return server, nil
}

// Handler returns the HTTP handler.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              server.cfg.ListenAddr,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("botdeploy api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(server.recovery())
	router.Use(server.requestLogger())
	if server.services.Metrics != nil {
		router.Use(server.services.Metrics.GinMiddleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if server.services.Metrics != nil {
		router.GET("/metrics", gin.WrapH(server.services.Metrics.Handler()))
	}

	api := router.Group("/api")

	public := api.Group("")
	limited := public.Group("", server.rateLimit())
	limited.POST("/auth/signup", server.handleSignup)
	limited.POST("/auth/login", server.handleLogin)
	limited.POST("/auth/admin-login", server.handleAdminLogin)
	limited.POST("/auth/google", server.handleGoogleLogin)
	public.GET("/auth/config", server.handleAuthConfig)
	public.GET("/referrals/verify/:code", server.handleVerifyReferral)

	authenticated := api.Group("", server.authenticate())
	authenticated.GET("/auth/user", server.handleCurrentUser)
	authenticated.POST("/auth/logout", server.handleLogout)

	user := authenticated.Group("", server.maintenanceGate())
	user.POST("/deployments", server.handleProvision)
	user.GET("/deployments", server.handleListDeployments)
	user.GET("/deployments/:id/logs", server.handleDeploymentLogs)
	user.POST("/deployments/:id/pay", server.handlePayDeployment)
	user.DELETE("/deployments/:id", server.handleDeleteDeployment)
	user.PUT("/deployments/:id/config", server.handleUpdateDeploymentConfig)
	user.POST("/wallet/claim", server.handleClaim)
	user.POST("/wallet/redeem", server.handleRedeem)
	user.POST("/wallet/send", server.handleSend)
	user.GET("/wallet/transactions", server.handleTransactions)
	user.GET("/referrals", server.handleListReferrals)
	user.GET("/referrals/summary", server.handleReferralSummary)
	user.POST("/messages", server.handleSendMessage)
	user.GET("/messages", server.handleListMessages)
	user.PUT("/messages/:id/read", server.handleMarkMessageRead)
	user.PUT("/settings/profile", server.handleUpdateProfile)
	user.PUT("/settings/password", server.handleChangePassword)

	admin := authenticated.Group("", server.requireAdministrator())
	admin.GET("/admin", server.handleAdminOverview)
	admin.PUT("/admin/credentials", server.handleReplaceCredentials)
	admin.PUT("/admin/maintenance", server.handleSetMaintenance)
	admin.PUT("/admin/coin-settings", server.handleUpdateCoinSettings)
	admin.PUT("/admin/source-repository", server.handleSetSourceRepository)
	admin.GET("/admin/users", server.handleListUsers)
	admin.PUT("/admin/users/:id/ban", server.handleToggleBan)
	admin.PUT("/admin/users/:id/role", server.handleSetRole)
	admin.GET("/admin/deployments", server.handleListAllDeployments)
	admin.GET("/admin/vouchers", server.handleListVouchers)
	admin.POST("/admin/vouchers", server.handleCreateVoucher)
	admin.POST("/messages/broadcast", server.handleBroadcast)

	return router
}
