package admin

import (
	"git.sr.ht/~aondrejcak/mm-api/kernel"
	"github.com/gin-gonic/gin"
	"log"
)

func RegisterController(rg *gin.Engine) {
	art := kernel.LoadConfig()

	g := rg.Group("/admin")
	g.POST("/login", art.JWT.LoginHandler)
	g.Use(func(c *gin.Context) {
		err := art.JWT.MiddlewareInit()
		if err != nil {
			log.Panicf("JWT MiddlewareInit err: %v", err)
		}
	})
	g.Use(art.JWT.MiddlewareFunc())
	g.GET("/ledger", listLedger)
	g.POST("/sweep", forceSweep)
}

// listLedger exposes every live attempt across accounts for ops inspection.
func listLedger(c *gin.Context) {
	art := kernel.LoadConfig()

	entries, err := art.Ledger.Pending()
	if err != nil {
		c.AbortWithStatusJSON(500, &gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, &gin.H{"entries": entries})
}

// forceSweep runs a recovery sweep pass outside the regular interval.
func forceSweep(c *gin.Context) {
	art := kernel.LoadConfig()

	sum, err := art.Sweeper.Run(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(500, &gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, sum)
}
