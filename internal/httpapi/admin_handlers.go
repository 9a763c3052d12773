package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/wallet"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Credentials []string `json:"credentials"`
}

type maintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

type sourceRepositoryRequest struct {
	Repository string `json:"repository"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type voucherRequest struct {
	Code   string `json:"code"`
	Amount int64  `json:"amount"`
	Scope  string `json:"scope"`
}

func (server *Server) handleAdminOverview(ctx *gin.Context) {
	settings, err := server.services.KeyPool.Overview(ctx.Request.Context(), currentActor(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": presentSettings(settings)})
}

func (server *Server) handleReplaceCredentials(ctx *gin.Context) {
	var request credentialsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	settings, err := server.services.KeyPool.ReplaceCredentials(ctx.Request.Context(), currentActor(ctx), request.Credentials)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": presentSettings(settings)})
}

func (server *Server) handleSetMaintenance(ctx *gin.Context) {
	var request maintenanceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	settings, err := server.services.KeyPool.SetMaintenance(ctx.Request.Context(), currentActor(ctx), request.Enabled, request.Message)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": presentSettings(settings)})
}

func (server *Server) handleUpdateCoinSettings(ctx *gin.Context) {
	var request coinSettingsPayload
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	settings, err := server.services.KeyPool.UpdateCoinSettings(ctx.Request.Context(), currentActor(ctx), keypool.CoinSettings{
		DeploymentCost: request.DeploymentCost,
		DailyClaim:     request.DailyClaim,
		ReferralBonus:  request.ReferralBonus,
		VoucherAmount:  request.VoucherAmount,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": presentSettings(settings)})
}

func (server *Server) handleSetSourceRepository(ctx *gin.Context) {
	var request sourceRepositoryRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	settings, err := server.services.KeyPool.SetSourceRepository(ctx.Request.Context(), currentActor(ctx), request.Repository)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": presentSettings(settings)})
}

func (server *Server) handleListUsers(ctx *gin.Context) {
	summaries, err := server.services.Accounts.ListUsers(ctx.Request.Context(), currentActor(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]userSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payloads = append(payloads, userSummaryPayload{
			ID:               summary.ID.String(),
			Handle:           summary.Handle,
			Email:            summary.Email,
			Balance:          summary.Balance,
			Role:             string(summary.Role),
			Active:           summary.Active,
			DeploymentsCount: summary.DeploymentsCount,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"users": payloads})
}

func (server *Server) handleToggleBan(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	active, err := server.services.Accounts.ToggleBan(ctx.Request.Context(), currentActor(ctx), accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": accountID.String(), "active": active})
}

func (server *Server) handleSetRole(ctx *gin.Context) {
	accountID, err := ledger.NewAccountID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request roleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	role, err := accounts.ParseRole(request.Role)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if err := server.services.Accounts.SetRole(ctx.Request.Context(), currentActor(ctx), accountID, role); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": accountID.String(), "role": string(role)})
}

func (server *Server) handleListAllDeployments(ctx *gin.Context) {
	records, err := server.services.Deployments.ListAll(ctx.Request.Context(), currentActor(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deployments": presentDeployments(records)})
}

func (server *Server) handleListVouchers(ctx *gin.Context) {
	vouchers, err := server.services.Wallet.ListVouchers(ctx.Request.Context(), currentActor(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]voucherPayload, 0, len(vouchers))
	for _, voucher := range vouchers {
		payloads = append(payloads, presentVoucher(voucher))
	}
	ctx.JSON(http.StatusOK, gin.H{"vouchers": payloads})
}

func (server *Server) handleCreateVoucher(ctx *gin.Context) {
	var request voucherRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	voucher, err := server.services.Wallet.CreateVoucher(ctx.Request.Context(), currentActor(ctx), wallet.VoucherInput{
		Code:   request.Code,
		Amount: request.Amount,
		Scope:  wallet.Scope(request.Scope),
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"voucher": presentVoucher(voucher)})
}
