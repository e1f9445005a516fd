package reconcile_test

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"git.sr.ht/~aondrejcak/mm-api/models"
	"git.sr.ht/~aondrejcak/mm-api/reconcile"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Account{},
		&models.PaymentAttempt{},
		&models.AppliedTransaction{},
	))
	return db
}

func seedConfirmed(t *testing.T, db *gorm.DB, amount int64) *models.Account {
	account := &models.Account{Msisdn: "254712345678"}
	require.NoError(t, db.Create(account).Error)
	require.NoError(t, db.Create(&models.PaymentAttempt{
		AccountID:     account.ID,
		CorrelationID: "ABC123",
		Amount:        amount,
		PayerPhone:    account.Msisdn,
		TransactionID: "TXN001",
		Status:        models.STATUS_CONFIRMED,
	}).Error)
	return account
}

func balanceOf(t *testing.T, db *gorm.DB, id uint) int64 {
	var account models.Account
	require.NoError(t, db.First(&account, id).Error)
	return account.Balance
}

func TestReconcileAppliesExactlyOnce(t *testing.T) {
	db := setupDB(t)
	account := seedConfirmed(t, db, 500)
	rec := reconcile.New(db)

	res, err := rec.Reconcile(context.Background(), "TXN001", "ABC123", 500)
	require.NoError(t, err)
	require.Equal(t, reconcile.Applied, res)
	require.Equal(t, int64(500), balanceOf(t, db, account.ID))

	// any number of repeats for the same transaction id is a no-op
	for i := 0; i < 3; i++ {
		res, err = rec.Reconcile(context.Background(), "TXN001", "ABC123", 500)
		require.NoError(t, err)
		require.Equal(t, reconcile.AlreadyApplied, res)
	}
	require.Equal(t, int64(500), balanceOf(t, db, account.ID))

	// the ledger entry is purged and left in its terminal state
	var attempt models.PaymentAttempt
	err = db.First(&attempt, "correlation_id = ?", "ABC123").Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.NoError(t, db.Unscoped().First(&attempt, "correlation_id = ?", "ABC123").Error)
	require.Equal(t, models.STATUS_RECONCILED, attempt.Status)
}

func TestReconcileAmountMismatch(t *testing.T) {
	db := setupDB(t)
	account := seedConfirmed(t, db, 500)
	rec := reconcile.New(db)

	_, err := rec.Reconcile(context.Background(), "TXN001", "ABC123", 600)
	require.ErrorIs(t, err, reconcile.ErrAmountMismatch)
	require.Zero(t, balanceOf(t, db, account.ID))

	var attempt models.PaymentAttempt
	require.NoError(t, db.First(&attempt, "correlation_id = ?", "ABC123").Error)
	require.Equal(t, models.STATUS_FAILED, attempt.Status)
	require.Equal(t, "AMOUNT_MISMATCH", attempt.ReasonCode)
}

func TestReconcileRejectsUnconfirmedAttempt(t *testing.T) {
	db := setupDB(t)
	account := &models.Account{Msisdn: "254712345678"}
	require.NoError(t, db.Create(account).Error)
	require.NoError(t, db.Create(&models.PaymentAttempt{
		AccountID:     account.ID,
		CorrelationID: "ABC123",
		Amount:        500,
		Status:        models.STATUS_AWAITING,
	}).Error)

	rec := reconcile.New(db)
	_, err := rec.Reconcile(context.Background(), "TXN001", "ABC123", 500)
	require.ErrorIs(t, err, reconcile.ErrNotConfirmed)
	require.Zero(t, balanceOf(t, db, account.ID))
}

func TestReconcileUnknownCorrelationId(t *testing.T) {
	db := setupDB(t)
	rec := reconcile.New(db)

	_, err := rec.Reconcile(context.Background(), "TXN001", "NOPE", 500)
	require.ErrorIs(t, err, reconcile.ErrNotConfirmed)
}

func TestReconcilePurgesAttemptOnRepeat(t *testing.T) {
	// a transaction already in the dedup set but with a live ledger entry,
	// as left behind by a crash between sweep passes
	db := setupDB(t)
	account := seedConfirmed(t, db, 500)
	require.NoError(t, db.Create(&models.AppliedTransaction{
		TransactionID: "TXN001",
		CorrelationID: "ABC123",
		AccountID:     account.ID,
		Amount:        500,
	}).Error)
	require.NoError(t, db.Model(&models.Account{}).
		Where("id = ?", account.ID).
		Update("balance", 500).Error)

	rec := reconcile.New(db)
	res, err := rec.Reconcile(context.Background(), "TXN001", "ABC123", 500)
	require.NoError(t, err)
	require.Equal(t, reconcile.AlreadyApplied, res)
	require.Equal(t, int64(500), balanceOf(t, db, account.ID))

	var attempt models.PaymentAttempt
	err = db.First(&attempt, "correlation_id = ?", "ABC123").Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound, "repeat reconcile still purges the entry")
}
