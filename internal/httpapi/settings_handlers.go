package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/gin-gonic/gin"
)

type profileRequest struct {
	Handle         *string `json:"handle"`
	Email          *string `json:"email"`
	AvatarURL      *string `json:"avatar_url"`
	GitHubHandle   *string `json:"github_handle"`
	WhatsAppNumber *string `json:"whatsapp_number"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (server *Server) handleUpdateProfile(ctx *gin.Context) {
	var request profileRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	account, err := server.services.Accounts.UpdateProfile(ctx.Request.Context(), currentActor(ctx), accounts.ProfileUpdate{
		Handle:         request.Handle,
		Email:          request.Email,
		AvatarURL:      request.AvatarURL,
		GitHubHandle:   request.GitHubHandle,
		WhatsAppNumber: request.WhatsAppNumber,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": presentAccount(account)})
}

func (server *Server) handleChangePassword(ctx *gin.Context) {
	var request passwordRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	if err := server.services.Accounts.ChangePassword(ctx.Request.Context(), currentActor(ctx), request.CurrentPassword, request.NewPassword); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "password_changed"})
}
