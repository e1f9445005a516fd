package reconcile

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.nhat.io/otelsql/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	"git.sr.ht/~aondrejcak/mm-api/models"
)

type Result int

const (
	Applied Result = iota
	AlreadyApplied
)

var (
	// ErrAmountMismatch means the confirmation carried a different amount than
	// the attempt was initiated with. The payment is never applied.
	ErrAmountMismatch = errors.New("confirmation amount does not match initiated amount")

	// ErrNotConfirmed means the attempt is not in a state where a balance
	// application is allowed (expired, failed, or unknown).
	ErrNotConfirmed = errors.New("attempt is not confirmed")
)

// Reconciler applies a confirmed payment to the account balance exactly once.
// The dedup insert, the balance increment and the ledger purge run in a single
// database transaction, so a fault in between is never observable as a partial
// state.
type Reconciler struct {
	db *gorm.DB

	// optional, set by the wiring in main
	Counter metric.Int64Counter
}

func New(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

// Reconcile is safe to call any number of times for the same transactionId:
// only the first call mutates the balance, later ones return AlreadyApplied.
func (r *Reconciler) Reconcile(ctx context.Context, transactionId, correlationId string, amount int64) (Result, error) {
	db := r.db.WithContext(ctx)

	applied, err := r.alreadyApplied(db, transactionId)
	if err != nil {
		r.count(ctx, "error")
		return Applied, err
	}
	if applied {
		// make sure the ledger entry is gone too, in case an earlier run was
		// cut short between applying the balance in one process and purging
		// in another
		if err := purgeAttempt(db, correlationId); err != nil {
			r.count(ctx, "error")
			return AlreadyApplied, err
		}
		r.count(ctx, "already_applied")
		log.Info().
			Str("transactionId", transactionId).
			Msg("balance already applied, skipping")
		return AlreadyApplied, nil
	}

	var attempt models.PaymentAttempt
	if err := db.First(&attempt, "correlation_id = ?", correlationId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Applied, ErrNotConfirmed
		}
		r.count(ctx, "error")
		return Applied, err
	}
	if attempt.Status != models.STATUS_CONFIRMED {
		return Applied, ErrNotConfirmed
	}

	if amount != attempt.Amount {
		// poisoned confirmation: never applied, flagged for the user; this
		// marking is deliberately outside the atomic unit below so it
		// survives the reconciliation failing
		if err := db.Model(&attempt).Updates(map[string]interface{}{
			"status":             models.STATUS_FAILED,
			"reason_code":        "AMOUNT_MISMATCH",
			"reason_description": "confirmation amount does not match initiated amount",
		}).Error; err != nil {
			r.count(ctx, "error")
			return Applied, err
		}
		r.count(ctx, "amount_mismatch")
		return Applied, ErrAmountMismatch
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.AppliedTransaction{
			TransactionID: transactionId,
			CorrelationID: correlationId,
			AccountID:     attempt.AccountID,
			Amount:        amount,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Account{}).
			Where("id = ?", attempt.AccountID).
			Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
			return err
		}

		if err := tx.Model(&attempt).Update("status", models.STATUS_RECONCILED).Error; err != nil {
			return err
		}
		return tx.Delete(&attempt).Error
	})
	if err != nil {
		// a concurrent caller may have won the dedup insert; the unique index
		// on transaction_id makes that loss safe to re-check
		if applied, checkErr := r.alreadyApplied(db, transactionId); checkErr == nil && applied {
			r.count(ctx, "already_applied")
			return AlreadyApplied, purgeAttempt(db, correlationId)
		}
		r.count(ctx, "error")
		return Applied, err
	}

	r.count(ctx, "applied")
	log.Info().
		Str("transactionId", transactionId).
		Str("correlationId", correlationId).
		Int64("amount", amount).
		Msg("balance applied")
	return Applied, nil
}

func (r *Reconciler) alreadyApplied(db *gorm.DB, transactionId string) (bool, error) {
	var n int64
	err := db.Model(&models.AppliedTransaction{}).
		Where("transaction_id = ?", transactionId).
		Count(&n).Error
	return n > 0, err
}

func (r *Reconciler) count(ctx context.Context, result string) {
	if r.Counter == nil {
		return
	}
	r.Counter.Add(ctx, 1,
		metric.WithAttributes(attribute.KeyValue("reconcile.result", result)))
}

func purgeAttempt(db *gorm.DB, correlationId string) error {
	var attempt models.PaymentAttempt
	err := db.First(&attempt, "correlation_id = ?", correlationId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := db.Model(&attempt).Update("status", models.STATUS_RECONCILED).Error; err != nil {
		return err
	}
	return db.Delete(&attempt).Error
}
