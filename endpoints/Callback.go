package endpoints

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.nhat.io/otelsql/attribute"

	"git.sr.ht/~aondrejcak/mm-api/kernel"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"git.sr.ht/~aondrejcak/mm-api/resolver"
	u "git.sr.ht/~aondrejcak/mm-api/utils"
)

type CallbackModel struct {
	CorrelationId     string `json:"correlationId" binding:"required"`
	ResultCode        string `json:"resultCode" binding:"required"`
	ResultDescription string `json:"resultDescription"`
	TransactionId     string `json:"transactionId"`
	Amount            int64  `json:"amount"`
}

// Callback_ is the gateway-facing push path. The gateway delivers at most one
// terminal message per attempt but may redeliver on its own retry schedule;
// redeliveries are answered 200 with no state change so its loop terminates.
func Callback_(c *gin.Context) {
	art := kernel.LoadConfig()
	spanCtx, span := art.Diagnostic.Tracer.Start(c.Request.Context(), "callback.handler")
	defer span.End()

	var req CallbackModel
	if err := c.ShouldBindJSON(&req); err != nil {
		u.SpanGinErrf(span, c, 400, "invalid request body")
		return
	}

	span.SetAttributes(
		attribute.KeyValue("gw.correlation_id", req.CorrelationId),
		attribute.KeyValue("gw.result_code", req.ResultCode),
	)

	out := resolver.Outcome{}
	if req.ResultCode == "0" {
		if req.TransactionId == "" {
			u.SpanGinErrf(span, c, 400, "successful result without a transaction id")
			return
		}
		out.Status = models.STATUS_CONFIRMED
		out.TransactionId = req.TransactionId
		out.Amount = req.Amount
	} else {
		out.Status = models.STATUS_FAILED
		out.ReasonCode = req.ResultCode
		out.ReasonDescription = req.ResultDescription
	}

	resolved, err := art.Resolver.Resolve(spanCtx, req.CorrelationId, out)
	if err != nil {
		u.SpanGinErrf(span, c, 500, "failed to resolve payment: %v", err)
		return
	}

	if !resolved {
		c.JSON(http.StatusOK, &gin.H{"duplicate": true})
		return
	}
	c.JSON(http.StatusOK, &gin.H{"accepted": true})
}
