package endpoints

import (
	"git.sr.ht/~aondrejcak/mm-api/assert"
	"git.sr.ht/~aondrejcak/mm-api/kernel"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"github.com/gin-gonic/gin"
)

func Accounts(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	rt.StepInto("accounts.handler")

	assert.NotNil(rt.Token, "token != nil")

	var account models.Account
	found, err := rt.First(&account, "id = ?", rt.Token.AccountID)
	if !found {
		if err != nil {
			rt.Ef(500, "could not query account: %v", err)
			return
		}
		rt.Ef(404, "account not found")
		return
	}

	var pending int64
	res := rt.DB.Model(&models.PaymentAttempt{}).
		Where("account_id = ? AND status IN ?",
			account.ID, []string{models.STATUS_AWAITING, models.STATUS_CONFIRMED}).
		Count(&pending)
	if res.Error != nil {
		rt.Ef(500, "could not count pending attempts: %v", res.Error)
		return
	}

	c.JSON(200, &gin.H{
		"accountId":       account.ID,
		"msisdn":          account.Msisdn,
		"balance":         account.Balance,
		"pendingAttempts": pending,
	})
	rt.EndBlock()
}
