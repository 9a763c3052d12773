package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/referral"
	"github.com/gin-gonic/gin"
)

func (server *Server) handleVerifyReferral(ctx *gin.Context) {
	referrer, err := server.services.Referrals.Verify(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"valid": true, "referrer": referrer.Handle})
}

func (server *Server) handleListReferrals(ctx *gin.Context) {
	records, err := server.services.Referrals.List(ctx.Request.Context(), currentActor(ctx).AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"referrals": presentReferrals(records)})
}

func (server *Server) handleReferralSummary(ctx *gin.Context) {
	account, err := server.services.Accounts.Get(ctx.Request.Context(), currentActor(ctx).AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	summary, err := server.services.Referrals.Summary(ctx.Request.Context(), referral.Referrer{AccountID: account.ID, Handle: account.Handle})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"referral_code":   account.Handle,
		"referral_url":    summary.ReferralURL,
		"total_referrals": summary.TotalReferrals,
		"earned_coins":    summary.EarnedCoins,
		"referrals":       presentReferrals(summary.Records),
	})
}
