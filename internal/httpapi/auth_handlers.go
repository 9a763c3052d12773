package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type signupRequest struct {
	Handle       string `json:"handle"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	Credential string `json:"credential"`
}

func (server *Server) handleSignup(ctx *gin.Context) {
	var request signupRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	account, err := server.services.Accounts.Signup(ctx.Request.Context(), accounts.SignupRequest{
		Handle:       request.Handle,
		Email:        request.Email,
		Password:     request.Password,
		ReferralCode: request.ReferralCode,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondSession(ctx, http.StatusCreated, account)
}

func (server *Server) handleLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	account, err := server.services.Accounts.Authenticate(ctx.Request.Context(), request.Login, request.Password)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondSession(ctx, http.StatusOK, account)
}

func (server *Server) handleAdminLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	account, err := server.services.Accounts.AuthenticateAdministrator(ctx.Request.Context(), request.Login, request.Password)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondSession(ctx, http.StatusOK, account)
}

func (server *Server) handleGoogleLogin(ctx *gin.Context) {
	var request googleLoginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	identity, err := server.services.Google.Verify(ctx.Request.Context(), request.Credential)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	account, err := server.services.Accounts.SignInWithGoogle(ctx.Request.Context(), identity)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	server.respondSession(ctx, http.StatusOK, account)
}

func (server *Server) handleAuthConfig(ctx *gin.Context) {
	enabled, message, err := server.services.KeyPool.Maintenance(ctx.Request.Context())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"google_client_id":    server.services.Google.ClientID(),
		"google_enabled":      server.services.Google.Enabled(),
		"maintenance":         enabled,
		"maintenance_message": message,
	})
}

func (server *Server) handleCurrentUser(ctx *gin.Context) {
	account, err := server.services.Accounts.Get(ctx.Request.Context(), currentActor(ctx).AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": presentAccount(account)})
}

func (server *Server) handleLogout(ctx *gin.Context) {
	claims := currentClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(codeUnauthenticated, "missing session", ""))
		return
	}
	if err := server.services.Revocations.Revoke(ctx.Request.Context(), claims.ID, server.services.Tokens.Remaining(claims)); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.logger.Info("session revoked", zap.String("account_id", claims.AccountID), zap.String("token_id", claims.ID))
	ctx.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (server *Server) respondSession(ctx *gin.Context, status int, account accounts.Account) {
	token, err := server.services.Tokens.Issue(account)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(status, sessionPayload{Token: token.Value, ExpiresAt: token.ExpiresAt, User: presentAccount(account)})
}
