package payments

import (
	"time"

	"git.sr.ht/~aondrejcak/mm-api/assert"
	"git.sr.ht/~aondrejcak/mm-api/kernel"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"github.com/gin-gonic/gin"
)

// WaitForPayment is the client-facing push path: a long poll that returns as
// soon as either resolution path settles the attempt. Closing the connection
// or hitting the wait horizon only releases the waiter; the ledger entry and
// the gateway operation carry on without the client.
func WaitForPayment(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	art := rt.AppRuntime
	rt.StepInto("payment_wait.handler")

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

	if attempt.Status != models.STATUS_AWAITING {
		c.JSON(200, attemptView(attempt))
		rt.EndBlock()
		return
	}

	ch, cancel := art.Resolver.Subscribe(correlationId)
	defer cancel()

	// the attempt may have resolved between the ledger read and the subscribe
	attempt, found, err = art.Ledger.FindAny(correlationId)
	if err == nil && found && attempt.Status != models.STATUS_AWAITING {
		c.JSON(200, attemptView(attempt))
		rt.EndBlock()
		return
	}

	select {
	case <-ch:
		attempt, found, err = art.Ledger.FindAny(correlationId)
		if err != nil || !found {
			rt.Ef(500, "failed to re-read ledger: %v", err)
			return
		}
		c.JSON(200, attemptView(attempt))

	case <-time.After(art.WaitHorizon):
		c.JSON(202, &gin.H{
			"correlationId": correlationId,
			"status":        models.STATUS_AWAITING,
		})

	case <-c.Request.Context().Done():
		// client abandoned the flow; nothing to tear down beyond the waiter
		c.Status(499)
	}
	rt.EndBlock()
}
