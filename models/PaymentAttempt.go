package models

import "gorm.io/gorm"

//goland:noinspection ALL
const (
	STATUS_INITIATED  = "initiated"
	STATUS_AWAITING   = "awaiting_confirmation"
	STATUS_CONFIRMED  = "confirmed"
	STATUS_RECONCILED = "reconciled"
	STATUS_FAILED     = "failed"
	STATUS_EXPIRED    = "expired"
)

// PaymentAttempt is one ledger entry: a push prompt the gateway accepted but
// has not necessarily confirmed yet. Amounts are whole currency units.
type PaymentAttempt struct {
	gorm.Model

	AccountID uint

	CorrelationID string `gorm:"uniqueIndex;size:64"`
	Amount        int64
	PayerPhone    string

	// filled in by the confirmation, dedup key for balance application
	TransactionID string

	Status string `gorm:"index"`

	ReasonCode        string
	ReasonDescription string

	// reconcile retries consumed by the recovery sweep
	RetryCount int
}
