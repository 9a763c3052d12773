package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type messageRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

func (server *Server) handleSendMessage(ctx *gin.Context) {
	var request messageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	var recipient *ledger.AccountID
	if trimmed := strings.TrimSpace(request.RecipientID); trimmed != "" {
		accountID, err := ledger.NewAccountID(trimmed)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		if _, err := server.services.Accounts.Get(ctx.Request.Context(), accountID); err != nil {
			server.respondError(ctx, err)
			return
		}
		recipient = &accountID
	}
	message, err := server.services.Messages.Send(ctx.Request.Context(), currentActor(ctx), recipient, request.Content)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": presentMessage(message)})
}

func (server *Server) handleBroadcast(ctx *gin.Context) {
	var request messageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	message, err := server.services.Messages.Broadcast(ctx.Request.Context(), currentActor(ctx), request.Content)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": presentMessage(message)})
}

func (server *Server) handleListMessages(ctx *gin.Context) {
	messages, err := server.services.Messages.List(ctx.Request.Context(), currentActor(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		payloads = append(payloads, presentMessage(message))
	}
	ctx.JSON(http.StatusOK, gin.H{"messages": payloads})
}

func (server *Server) handleMarkMessageRead(ctx *gin.Context) {
	if err := server.services.Messages.MarkRead(ctx.Request.Context(), currentActor(ctx), ctx.Param("id")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "read"})
}
