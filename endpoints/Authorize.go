package endpoints

import (
	"regexp"
	"time"

	val "github.com/go-ozzo/ozzo-validation"

	"github.com/gin-gonic/gin"

	"git.sr.ht/~aondrejcak/mm-api/kernel"
	"git.sr.ht/~aondrejcak/mm-api/models"
)

var msisdnPattern = regexp.MustCompile(`^(?:\+?254|0)7\d{8}$`)

type AuthorizeDto struct {
	Msisdn string `json:"msisdn"`
}

func (dto AuthorizeDto) Validate() error {
	return val.ValidateStruct(&dto,
		val.Field(&dto.Msisdn, val.Required, val.Match(msisdnPattern)),
	)
}

// Authorize registers (or looks up) the account for an MSISDN and mints an
// API token scoped to it. Only the sha-512 hash of the token is stored.
func Authorize(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	rt.StepInto("authorize.handler")

	var dto AuthorizeDto
	rt.BindJSON(&dto)
	if rt.Error != nil {
		rt.Ef(400, "could not bind body: %v", rt.Error)
		return
	}

	if err := dto.Validate(); err != nil {
		rt.E(400, err)
		return
	}

	msisdn := normalizeMsisdn(dto.Msisdn)

	var account models.Account
	found, err := rt.First(&account, "msisdn = ?", msisdn)
	if err != nil {
		rt.Ef(500, "could not query account: %v", err)
		return
	}
	if !found {
		account = models.Account{Msisdn: msisdn}
		if result := rt.DB.Create(&account); result.Error != nil {
			rt.Ef(500, "could not create account: %v", result.Error)
			return
		}
	}

	token, err := kernel.UuidV7()
	if err != nil {
		rt.Ef(500, "failed to generate token: %v", err)
		return
	}

	hash := kernel.Sha512(token)

	t := time.Now()
	t = t.Add(time.Hour * 24)

	entity := models.Token{
		TokenHash: hash,
		AccountID: account.ID,
		ExpiresAt: t,
	}

	result := rt.DB.Create(&entity)
	if result.Error != nil {
		rt.Ef(500, "failed to save to database: %v", result.Error.Error())
		return
	}

	c.JSON(201, &gin.H{
		"token":     token,
		"accountId": account.ID,
		"expiresAt": t.Format(time.RFC3339),
	})
	rt.EndBlock()
}

func normalizeMsisdn(phone string) string {
	if phone[0] == '+' {
		phone = phone[1:]
	}
	if phone[0] == '0' {
		return "254" + phone[1:]
	}
	return phone
}
