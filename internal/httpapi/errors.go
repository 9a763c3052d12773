package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/accounts"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/apperr"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/auth"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/keypool"
	"github.com/MarkoPoloResearchLab/botdeploy/internal/wallet"
	"github.com/MarkoPoloResearchLab/botdeploy/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidPayload  = "invalid_payload"
	codeUnauthenticated = "unauthenticated"
	codeForbidden       = "forbidden"
	codeMaintenance     = "maintenance"
	codeRateLimited     = "rate_limited"
	codeNotFound        = "not_found"
	codeInternal        = "internal_error"
)

type errorRule struct {
	target error
	status int
	code   string
}

// errorRules is ordered from the most specific error to the broadest class.
var errorRules = []errorRule{
	{target: ledger.ErrInsufficientFunds, status: http.StatusBadRequest, code: "insufficient_funds"},
	{target: ledger.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: ledger.ErrInvalidAccountID, status: http.StatusBadRequest, code: "invalid_account_id"},
	{target: ledger.ErrUnknownAccount, status: http.StatusNotFound, code: "account_not_found"},
	{target: deployment.ErrNameTaken, status: http.StatusBadRequest, code: "name_taken"},
	{target: deployment.ErrInvalidName, status: http.StatusBadRequest, code: "invalid_name"},
	{target: deployment.ErrDeploymentFailed, status: http.StatusBadRequest, code: "deployment_failed"},
	{target: deployment.ErrPaymentNotDue, status: http.StatusBadRequest, code: "payment_not_due"},
	{target: keypool.ErrNoCredentialsConfigured, status: http.StatusBadRequest, code: "no_credentials_configured"},
	{target: wallet.ErrClaimCooldown, status: http.StatusBadRequest, code: "claim_cooldown"},
	{target: wallet.ErrVoucherAlreadyRedeemed, status: http.StatusBadRequest, code: "voucher_already_redeemed"},
	{target: wallet.ErrInvalidVoucher, status: http.StatusBadRequest, code: "invalid_voucher"},
	{target: accounts.ErrAccountSuspended, status: http.StatusForbidden, code: "account_suspended"},
	{target: accounts.ErrAdministratorOnly, status: http.StatusForbidden, code: codeForbidden},
	{target: accounts.ErrInvalidCredentials, status: http.StatusUnauthorized, code: "invalid_credentials"},
	{target: auth.ErrExpiredToken, status: http.StatusUnauthorized, code: "token_expired"},
	{target: auth.ErrRevokedToken, status: http.StatusUnauthorized, code: codeUnauthenticated},
	{target: auth.ErrInvalidToken, status: http.StatusUnauthorized, code: codeUnauthenticated},
	{target: apperr.ErrValidation, status: http.StatusBadRequest, code: "validation_failed"},
	{target: apperr.ErrConflict, status: http.StatusBadRequest, code: "conflict"},
	{target: apperr.ErrUnauthenticated, status: http.StatusUnauthorized, code: codeUnauthenticated},
	{target: apperr.ErrForbidden, status: http.StatusForbidden, code: codeForbidden},
	{target: apperr.ErrNotFound, status: http.StatusNotFound, code: codeNotFound},
}

var errorClasses = []error{
	apperr.ErrValidation,
	apperr.ErrConflict,
	apperr.ErrUnauthenticated,
	apperr.ErrForbidden,
	apperr.ErrNotFound,
}

// respondError writes the JSON error body for err. External and unexpected
// failures are logged; only external ones forward their detail.
func (server *Server) respondError(ctx *gin.Context, err error) {
	var externalError *deployment.ExternalError
	if errors.As(err, &externalError) {
		server.logger.Error("external provisioning failed",
			zap.String("path", ctx.FullPath()),
			zap.String("step", externalError.Step),
			zap.Int("upstream_status", externalError.StatusCode),
			zap.Error(externalError.Err),
		)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(
			"external_provisioning_failed",
			"external provisioning failed; the hosted app may be in an inconsistent state",
			fmt.Sprintf("%s: %s", externalError.Step, externalError.Detail),
		))
		return
	}
	var cooldownError *wallet.ClaimCooldownError
	if errors.As(err, &cooldownError) {
		body := errorBody("claim_cooldown", cooldownError.Error(), "")
		body["error"].(gin.H)["hours_remaining"] = cooldownError.HoursRemaining
		ctx.AbortWithStatusJSON(http.StatusBadRequest, body)
		return
	}
	for _, rule := range errorRules {
		if errors.Is(err, rule.target) {
			ctx.AbortWithStatusJSON(rule.status, errorBody(rule.code, publicMessage(err, rule.target), ""))
			return
		}
	}
	server.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(codeInternal, "unexpected server error", "the failure was logged"))
}

// publicMessage cuts the store and class prefixes off err so only the domain message is shown.
func publicMessage(err error, target error) string {
	text := err.Error()
	message := target.Error()
	if index := strings.Index(text, message); index >= 0 {
		message = text[index:]
	}
	for _, class := range errorClasses {
		prefix := class.Error() + ": "
		if strings.HasPrefix(message, prefix) {
			return strings.TrimPrefix(message, prefix)
		}
	}
	return message
}

func errorBody(code string, message string, details string) gin.H {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if details != "" {
		body["details"] = details
	}
	return gin.H{"error": body}
}

func (server *Server) respondInvalidPayload(ctx *gin.Context, err error) {
	server.logger.Debug("invalid payload", zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.AbortWithStatusJSON(http.StatusBadRequest, errorBody(codeInvalidPayload, "expected a valid JSON body", ""))
}
