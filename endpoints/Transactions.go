package endpoints

import (
	"strconv"

	"git.sr.ht/~aondrejcak/mm-api/assert"
	"git.sr.ht/~aondrejcak/mm-api/kernel"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"github.com/gin-gonic/gin"
)

// Transactions lists the reconciliation history for the token's account:
// every gateway transaction that has been applied to the balance.
func Transactions(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	rt.StepInto("transactions.handler")

	assert.NotNil(rt.Token, "token != nil")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			rt.Ef(400, "bad request: limit must be between 1 and 500")
			return
		}
		limit = n
	}

	var applied []models.AppliedTransaction
	res := rt.DB.
		Where("account_id = ?", rt.Token.AccountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&applied)
	if res.Error != nil {
		rt.Ef(500, "could not query transactions: %v", res.Error)
		return
	}

	out := make([]gin.H, 0, len(applied))
	for _, tx := range applied {
		out = append(out, gin.H{
			"transactionId": tx.TransactionID,
			"correlationId": tx.CorrelationID,
			"amount":        tx.Amount,
			"appliedAt":     tx.CreatedAt,
		})
	}

	c.JSON(200, &gin.H{"transactions": out})
	rt.EndBlock()
}
