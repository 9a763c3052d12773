package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/gin-gonic/gin"
)

type deploymentRequest struct {
	Name         string            `json:"name"`
	SessionID    string            `json:"session_id"`
	Prefix       *string           `json:"prefix"`
	BotName      *string           `json:"bot_name"`
	AlwaysOnline *bool             `json:"always_online"`
	AutoReply    *bool             `json:"auto_reply"`
	Extra        map[string]string `json:"extra"`
}

// config starts from the defaults and applies the fields the client sent.
func (request deploymentRequest) config() deployment.Config {
	config := deployment.DefaultConfig()
	config.SessionID = request.SessionID
	if request.Prefix != nil && *request.Prefix != "" {
		config.Prefix = *request.Prefix
	}
	if request.BotName != nil && *request.BotName != "" {
		config.BotName = *request.BotName
	}
	if request.AlwaysOnline != nil {
		config.AlwaysOnline = *request.AlwaysOnline
	}
	if request.AutoReply != nil {
		config.AutoReply = *request.AutoReply
	}
	if len(request.Extra) > 0 {
		config.Extra = request.Extra
	}
	return config
}

func (server *Server) handleProvision(ctx *gin.Context) {
	var request deploymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	created, err := server.services.Deployments.Provision(ctx.Request.Context(), currentActor(ctx), deployment.Request{
		Name:   request.Name,
		Config: request.config(),
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"deployment": presentDeployment(created)})
}

func (server *Server) handleListDeployments(ctx *gin.Context) {
	records, err := server.services.Deployments.List(ctx.Request.Context(), currentActor(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deployments": presentDeployments(records)})
}

func (server *Server) handleDeploymentLogs(ctx *gin.Context) {
	lines, err := server.services.Deployments.Logs(ctx.Request.Context(), currentActor(ctx), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]logPayload, 0, len(lines))
	for _, line := range lines {
		payloads = append(payloads, logPayload{Timestamp: line.Timestamp, Level: string(line.Level), Message: line.Message})
	}
	ctx.JSON(http.StatusOK, gin.H{"logs": payloads})
}

func (server *Server) handlePayDeployment(ctx *gin.Context) {
	paid, err := server.services.Deployments.Pay(ctx.Request.Context(), currentActor(ctx), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	balance, err := server.services.Ledger.Balance(ctx.Request.Context(), currentActor(ctx).AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deployment": presentDeployment(paid), "balance": balance})
}

func (server *Server) handleDeleteDeployment(ctx *gin.Context) {
	if err := server.services.Deployments.Delete(ctx.Request.Context(), currentActor(ctx), ctx.Param("id")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (server *Server) handleUpdateDeploymentConfig(ctx *gin.Context) {
	var request deploymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	updated, err := server.services.Deployments.UpdateConfig(ctx.Request.Context(), currentActor(ctx), ctx.Param("id"), request.config())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deployment": presentDeployment(updated)})
}
