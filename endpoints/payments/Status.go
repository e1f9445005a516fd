package payments

import (
	"git.sr.ht/~aondrejcak/mm-api/assert"
	"git.sr.ht/~aondrejcak/mm-api/kernel"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"git.sr.ht/~aondrejcak/mm-api/resolver"
	"github.com/gin-gonic/gin"
)

// PaymentStatus reports the attempt state and, while it is still awaiting
// confirmation, exercises the pull path against the gateway so a missed
// callback cannot leave the user stuck on "in progress".
func PaymentStatus(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	art := rt.AppRuntime
	rt.StepInto("payment_status.handler")

	assert.NotNil(rt.Token, "token != nil")

	correlationId := c.Param("correlationId")

	attempt, found, err := art.Ledger.FindAny(correlationId)
	if err != nil {
		rt.Ef(500, "failed to query ledger: %v", err)
		return
	}
	if !found || attempt.AccountID != rt.Token.AccountID {
		rt.Ef(404, "payment with correlation id '%s' not found", correlationId)
		return
	}

	if attempt.Status == models.STATUS_AWAITING {
		st, err := art.Gateway.QueryStatus(rt.SpanContext, correlationId)
		if err == nil && !st.Pending {
			out := resolver.Outcome{}
			if st.ResultCode == "0" {
				out.Status = models.STATUS_CONFIRMED
				out.TransactionId = st.TransactionId
				out.Amount = st.Amount
			} else {
				out.Status = models.STATUS_FAILED
				out.ReasonCode = st.ResultCode
				out.ReasonDescription = st.ResultDescription
			}
			if _, err := art.Resolver.Resolve(rt.SpanContext, correlationId, out); err != nil {
				rt.Ef(500, "failed to resolve payment: %v", err)
				return
			}

			attempt, _, err = art.Ledger.FindAny(correlationId)
			if err != nil || attempt == nil {
				rt.Ef(500, "failed to re-read ledger: %v", err)
				return
			}
		}
		// a gateway error leaves the attempt awaiting; the sweep will retry
	}

	c.JSON(200, attemptView(attempt))
	rt.EndBlock()
}

func attemptView(attempt *models.PaymentAttempt) *gin.H {
	view := &gin.H{
		"correlationId": attempt.CorrelationID,
		"amount":        attempt.Amount,
		"payerPhone":    attempt.PayerPhone,
		"status":        attempt.Status,
		"createdAt":     attempt.CreatedAt,
		"requiresResend": attempt.Status == models.STATUS_EXPIRED ||
			attempt.Status == models.STATUS_FAILED,
	}
	if attempt.TransactionID != "" {
		(*view)["transactionId"] = attempt.TransactionID
	}
	if attempt.ReasonCode != "" {
		(*view)["reasonCode"] = attempt.ReasonCode
		(*view)["reasonDescription"] = attempt.ReasonDescription
	}
	return view
}
