package ledger

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"git.sr.ht/~aondrejcak/mm-api/models"
)

// Ledger is the durable record of in-flight payment attempts. An entry leaves
// the ledger only by reaching reconciled or expired; soft deletion is the
// purge marker, so the row stays around for the history surfaces.
type Ledger struct {
	db     *gorm.DB
	window time.Duration
}

func Open(db *gorm.DB, window time.Duration) *Ledger {
	return &Ledger{db: db, window: window}
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (l *Ledger) Window() time.Duration {
	return l.window
}

// Put records a gateway-accepted attempt. Must complete before the attempt is
// reported back to the caller, so a crash after accept cannot lose it.
func (l *Ledger) Put(attempt *models.PaymentAttempt) error {
	if err := l.db.Create(attempt).Error; err != nil {
		return err
	}
	log.Info().
		Str("correlationId", attempt.CorrelationID).
		Int64("amount", attempt.Amount).
		Msg("ledger entry created")
	return nil
}

// Find looks up a live (non-purged) entry.
func (l *Ledger) Find(correlationId string) (*models.PaymentAttempt, bool, error) {
	var attempt models.PaymentAttempt
	err := l.db.First(&attempt, "correlation_id = ?", correlationId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &attempt, true, nil
}

// FindAny also returns purged entries, for the status/history surfaces.
func (l *Ledger) FindAny(correlationId string) (*models.PaymentAttempt, bool, error) {
	var attempt models.PaymentAttempt
	err := l.db.Unscoped().First(&attempt, "correlation_id = ?", correlationId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &attempt, true, nil
}

// MarkConfirmed claims the awaiting_confirmation -> confirmed transition.
// Returns false when another resolution already claimed the attempt; the
// status guard in the WHERE clause is what makes the push/pull race safe.
func (l *Ledger) MarkConfirmed(correlationId, transactionId string) (bool, error) {
	res := l.db.Model(&models.PaymentAttempt{}).
		Where("correlation_id = ? AND status = ?", correlationId, models.STATUS_AWAITING).
		Updates(map[string]interface{}{
			"status":         models.STATUS_CONFIRMED,
			"transaction_id": transactionId,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	log.Info().
		Str("correlationId", correlationId).
		Str("transactionId", transactionId).
		Msg("attempt confirmed")
	return true, nil
}

// MarkFailed claims the awaiting_confirmation -> failed transition. The entry
// is retained (not purged) until the expiry sweep removes it.
func (l *Ledger) MarkFailed(correlationId, reasonCode, reasonDescription string) (bool, error) {
	res := l.db.Model(&models.PaymentAttempt{}).
		Where("correlation_id = ? AND status = ?", correlationId, models.STATUS_AWAITING).
		Updates(map[string]interface{}{
			"status":             models.STATUS_FAILED,
			"reason_code":        reasonCode,
			"reason_description": reasonDescription,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	log.Info().
		Str("correlationId", correlationId).
		Str("reasonCode", reasonCode).
		Msg("attempt failed")
	return true, nil
}

// BumpRetry counts a recovery-sweep reconcile retry against the attempt.
func (l *Ledger) BumpRetry(correlationId string) error {
	return l.db.Model(&models.PaymentAttempt{}).
		Where("correlation_id = ?", correlationId).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
}

// HasAwaiting reports whether the account already has an in-flight attempt for
// the same logical payment (payer + amount). Re-initiating one is an explicit
// user action, never an automatic retry.
func (l *Ledger) HasAwaiting(accountId uint, payerPhone string, amount int64) (bool, error) {
	var n int64
	err := l.db.Model(&models.PaymentAttempt{}).
		Where("account_id = ? AND payer_phone = ? AND amount = ? AND status = ?",
			accountId, payerPhone, amount, models.STATUS_AWAITING).
		Count(&n).Error
	return n > 0, err
}

// Unresolved returns entries the recovery sweep should act on: attempts still
// awaiting a terminal outcome, and confirmed attempts whose balance
// application previously failed. Entries past the window are excluded; they
// belong to ExpireStale.
func (l *Ledger) Unresolved() ([]models.PaymentAttempt, error) {
	var entries []models.PaymentAttempt
	cutoff := time.Now().Add(-l.window)
	err := l.db.
		Where("status IN ? AND created_at >= ?",
			[]string{models.STATUS_AWAITING, models.STATUS_CONFIRMED}, cutoff).
		Order("created_at").
		Find(&entries).Error
	return entries, err
}

// Pending lists all live entries, for the ops surface.
func (l *Ledger) Pending() ([]models.PaymentAttempt, error) {
	var entries []models.PaymentAttempt
	err := l.db.Order("created_at DESC").Find(&entries).Error
	return entries, err
}

// ExpireStale marks every non-reconciled entry older than the window as
// expired and purges it. An expired attempt is never reconciled, even if a
// late confirmation still references it.
func (l *Ledger) ExpireStale() (int64, error) {
	cutoff := time.Now().Add(-l.window)

	res := l.db.Model(&models.PaymentAttempt{}).
		Where("created_at < ? AND status <> ?", cutoff, models.STATUS_RECONCILED).
		Update("status", models.STATUS_EXPIRED)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}

	del := l.db.
		Where("status = ?", models.STATUS_EXPIRED).
		Delete(&models.PaymentAttempt{})
	if del.Error != nil {
		return res.RowsAffected, del.Error
	}

	log.Warn().
		Int64("count", res.RowsAffected).
		Msg("expired stale ledger entries, manual resend required")
	return res.RowsAffected, nil
}
