package httpapi

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	actorContextKey  = "botdeploy.actor"
	claimsContextKey = "botdeploy.claims"
	bearerPrefix     = "Bearer "

	limiterIdleTTL = 10 * time.Minute
)

func (server *Server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		startedAt := time.Now()
		ctx.Next()
		fields := []zap.Field{
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(startedAt)),
			zap.String("client_ip", ctx.ClientIP()),
		}
		if ctx.Writer.Status() >= http.StatusInternalServerError {
			server.logger.Warn("request served", fields...)
			return
		}
		server.logger.Info("request served", fields...)
	}
}

func (server *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(ctx *gin.Context, recovered any) {
		server.logger.Error("panic recovered", zap.String("path", ctx.Request.URL.Path), zap.Any("panic", recovered))
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(codeInternal, "unexpected server error", "the failure was logged"))
	})
}

// authenticate validates the bearer token, rejects revoked ids and re-reads the
// account so bans and role changes apply to tokens issued before them.
func (server *Server) authenticate() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(codeUnauthenticated, "missing bearer token", ""))
			return
		}
		claims, err := server.services.Tokens.Validate(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		revoked, err := server.services.Revocations.IsRevoked(ctx.Request.Context(), claims.ID)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		if revoked {
			server.respondError(ctx, auth.ErrRevokedToken)
			return
		}
		tokenActor, err := claims.Actor()
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		actor, err := server.services.Accounts.Authorize(ctx.Request.Context(), tokenActor.AccountID)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		ctx.Set(claimsContextKey, claims)
		ctx.Set(actorContextKey, actor)
		ctx.Next()
	}
}

func (server *Server) requireAdministrator() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := accounts.RequireAdministrator(currentActor(ctx)); err != nil {
			server.respondError(ctx, err)
			return
		}
		ctx.Next()
	}
}

// maintenanceGate blocks everyone but administrators while maintenance mode is on.
func (server *Server) maintenanceGate() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if currentActor(ctx).IsAdministrator() {
			ctx.Next()
			return
		}
		enabled, message, err := server.services.KeyPool.Maintenance(ctx.Request.Context())
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		if enabled {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorBody(codeMaintenance, message, ""))
			return
		}
		ctx.Next()
	}
}

func (server *Server) rateLimit() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !server.limiter.Allow(ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody(codeRateLimited, "too many requests, slow down", ""))
			return
		}
		ctx.Next()
	}
}

func currentActor(ctx *gin.Context) accounts.Actor {
	value, ok := ctx.Get(actorContextKey)
	if !ok {
		return accounts.Actor{}
	}
	actor, _ := value.(accounts.Actor)
	return actor
}

func currentClaims(ctx *gin.Context) *auth.Claims {
	value, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*auth.Claims)
	return claims
}

// clientRateLimiter keeps one token bucket per client address.
type clientRateLimiter struct {
	mutex    sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
	nowFn    func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientRateLimiter(perSecond float64, burst int) *clientRateLimiter {
	return &clientRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
		nowFn:    time.Now,
	}
}

func (limiter *clientRateLimiter) Allow(client string) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	now := limiter.nowFn()
	for key, entry := range limiter.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(limiter.limiters, key)
		}
	}
	entry, ok := limiter.limiters[client]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(limiter.limit, limiter.burst)}
		limiter.limiters[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
