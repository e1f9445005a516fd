package models

import "gorm.io/gorm"

// AppliedTransaction is the durable dedup set: one row per gateway transaction
// id that has already been applied to a balance. The unique index is what makes
// reconciliation an insert-if-absent, never a blind increment.
type AppliedTransaction struct {
	gorm.Model

	TransactionID string `gorm:"uniqueIndex;size:64"`
	CorrelationID string
	AccountID     uint
	Amount        int64
}
