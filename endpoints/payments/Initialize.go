package payments

import (
	"errors"
	"regexp"
	"strings"

	"git.sr.ht/~aondrejcak/mm-api/assert"
	"git.sr.ht/~aondrejcak/mm-api/gateway"
	"git.sr.ht/~aondrejcak/mm-api/kernel"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"github.com/gin-gonic/gin"
	val "github.com/go-ozzo/ozzo-validation"
	"go.nhat.io/otelsql/attribute"
	"go.opentelemetry.io/otel/metric"
)

var payerPhonePattern = regexp.MustCompile(`^(?:\+?254|0)7\d{8}$`)

type InitPaymentDto struct {
	Amount     int64  `json:"amount"`
	PayerPhone string `json:"payerPhone"`
}

func (dto InitPaymentDto) Validate() error {
	return val.ValidateStruct(&dto,
		val.Field(&dto.Amount, val.Required, val.Min(1)),
		val.Field(&dto.PayerPhone, val.Required, val.Match(payerPhonePattern)),
	)
}

// NormalizeMsisdn rewrites a local-format payer phone (07XXXXXXXX) or a
// +254-prefixed one into the canonical 2547XXXXXXXX the gateway expects.
func NormalizeMsisdn(phone string) string {
	phone = strings.TrimPrefix(phone, "+")
	if strings.HasPrefix(phone, "0") {
		return "254" + phone[1:]
	}
	return phone
}

func InitializePayment(c *gin.Context) {
	rt := c.MustGet("rt").(*kernel.RequestRuntime)
	art := rt.AppRuntime
	rt.StepInto("payment_init.handler")

	assert.NotNil(rt.Token, "token != nil")

	var dto InitPaymentDto
	if err := c.ShouldBindJSON(&dto); err != nil {
		rt.Ef(400, "bad request: %v", err)
		return
	}
	if err := dto.Validate(); err != nil {
		rt.E(400, err)
		return
	}

	msisdn := NormalizeMsisdn(dto.PayerPhone)

	// one prompt per logical payment; a resend is an explicit new call after
	// the previous attempt resolved or expired
	dup, err := art.Ledger.HasAwaiting(rt.Token.AccountID, msisdn, dto.Amount)
	if err != nil {
		rt.Ef(500, "failed to query ledger: %v", err)
		return
	}
	if dup {
		rt.Ef(409, "a payment of %d from %s is already awaiting confirmation", dto.Amount, msisdn)
		return
	}

	pi, err := art.Gateway.InitiatePush(rt.SpanContext, dto.Amount, msisdn)
	if err != nil {
		var rejected *gateway.RejectedError
		if errors.As(err, &rejected) {
			rt.Ef(422, "payment rejected by gateway: %s", rejected.Description)
			return
		}
		if errors.Is(err, gateway.ErrUnavailable) {
			rt.Ef(502, "payment gateway unavailable, please retry: %v", err)
			return
		}
		rt.Ef(500, "failed to initialize payment: %v", err)
		return
	}

	rt.Span.SetAttributes(attribute.KeyValue("payment.correlation_id", pi.CorrelationId))

	// the ledger write must land before the attempt is reported back; the
	// prompt already fired, losing the entry here would orphan the payment
	attempt := &models.PaymentAttempt{
		AccountID: rt.Token.AccountID,

		CorrelationID: pi.CorrelationId,
		Amount:        dto.Amount,
		PayerPhone:    msisdn,
		Status:        models.STATUS_AWAITING,
	}
	if err := art.Ledger.Put(attempt); err != nil {
		rt.Ef(500, "gateway accepted correlation id %s but the attempt could not be recorded: %v",
			pi.CorrelationId, err)
		return
	}

	art.Diagnostic.PaymentCounter.Add(rt.SpanContext, 1,
		metric.WithAttributes(attribute.KeyValue("payment.status", attempt.Status)))

	c.JSON(201, &gin.H{
		"correlationId":   pi.CorrelationId,
		"status":          attempt.Status,
		"customerMessage": pi.CustomerMessage,
	})
	rt.EndBlock()
}
