package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type redeemRequest struct {
	Code string `json:"code"`
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

func (server *Server) handleClaim(ctx *gin.Context) {
	result, err := server.services.Wallet.Claim(ctx.Request.Context(), currentActor(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"amount": result.Amount, "balance": result.Balance})
}

func (server *Server) handleRedeem(ctx *gin.Context) {
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	result, err := server.services.Wallet.Redeem(ctx.Request.Context(), currentActor(ctx), request.Code)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"amount": result.Amount, "balance": result.Balance})
}

func (server *Server) handleSend(ctx *gin.Context) {
	var request sendRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		server.respondInvalidPayload(ctx, err)
		return
	}
	result, err := server.services.Wallet.Send(ctx.Request.Context(), currentActor(ctx), request.Recipient, request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"recipient": result.Recipient.Handle,
		"amount":    result.Amount,
		"balance":   result.Balance,
	})
}

func (server *Server) handleTransactions(ctx *gin.Context) {
	actor := currentActor(ctx)
	entries, err := server.services.Wallet.History(ctx.Request.Context(), actor)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	balance, err := server.services.Ledger.Balance(ctx.Request.Context(), actor.AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balance, "transactions": presentEntries(entries)})
}
