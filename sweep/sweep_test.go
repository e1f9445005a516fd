package sweep_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"git.sr.ht/~aondrejcak/mm-api/gateway"
	"git.sr.ht/~aondrejcak/mm-api/ledger"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"git.sr.ht/~aondrejcak/mm-api/reconcile"
	"git.sr.ht/~aondrejcak/mm-api/resolver"
	"git.sr.ht/~aondrejcak/mm-api/sweep"
)

type fixture struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	sweeper *sweep.Sweeper
	account *models.Account
}

// fakeGateway answers pull-path status queries from a canned map.
func fakeGateway(t *testing.T, statuses map[string]gateway.StatusResponse) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		correlationId := parts[len(parts)-1]
		st, ok := statuses[correlationId]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(st))
	}))
}

func setup(t *testing.T, statuses map[string]gateway.StatusResponse) *fixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Account{},
		&models.PaymentAttempt{},
		&models.AppliedTransaction{},
	))

	account := &models.Account{Msisdn: "254712345678"}
	require.NoError(t, db.Create(account).Error)

	srv := fakeGateway(t, statuses)
	t.Cleanup(srv.Close)

	l := ledger.Open(db, 2*time.Hour)
	rec := reconcile.New(db)
	res := resolver.New(l, rec)

	return &fixture{
		db:      db,
		ledger:  l,
		account: account,
		sweeper: &sweep.Sweeper{
			Ledger:   l,
			Gateway:  gateway.New(srv.URL, "test-key", "600123", otel.Tracer("test")),
			Resolver: res,
			Rec:      rec,
			Interval: time.Minute,
		},
	}
}

func (f *fixture) put(t *testing.T, attempt *models.PaymentAttempt) {
	attempt.AccountID = f.account.ID
	attempt.PayerPhone = f.account.Msisdn
	require.NoError(t, f.ledger.Put(attempt))
}

func (f *fixture) backdate(t *testing.T, correlationId string, age time.Duration) {
	require.NoError(t, f.db.Model(&models.PaymentAttempt{}).
		Where("correlation_id = ?", correlationId).
		Update("created_at", time.Now().Add(-age)).Error)
}

func (f *fixture) balance(t *testing.T) int64 {
	var account models.Account
	require.NoError(t, f.db.First(&account, f.account.ID).Error)
	return account.Balance
}

func TestSweepResolvesAwaitingViaPullPath(t *testing.T) {
	f := setup(t, map[string]gateway.StatusResponse{
		"ABC123": {ResultCode: "0", TransactionId: "TXN001", Amount: 500},
	})
	f.put(t, &models.PaymentAttempt{CorrelationID: "ABC123", Amount: 500, Status: models.STATUS_AWAITING})

	sum, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Queried)
	require.Equal(t, 1, sum.Resolved)
	require.Equal(t, int64(500), f.balance(t))

	_, found, err := f.ledger.Find("ABC123")
	require.NoError(t, err)
	require.False(t, found, "reconciled entry is purged")
}

func TestSweepRetriesConfirmedAfterRestart(t *testing.T) {
	// a confirmed attempt whose balance application failed before a crash
	f := setup(t, nil)
	f.put(t, &models.PaymentAttempt{
		CorrelationID: "ABC123",
		Amount:        500,
		TransactionID: "TXN001",
		Status:        models.STATUS_CONFIRMED,
	})

	sum, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Reconciled)
	require.Equal(t, int64(500), f.balance(t))

	// a second pass finds nothing to do and applies nothing twice
	sum, err = f.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, sum.Reconciled)
	require.Equal(t, int64(500), f.balance(t))
}

func TestSweepFailedAwaitingAttempt(t *testing.T) {
	f := setup(t, map[string]gateway.StatusResponse{
		"ABC123": {ResultCode: "1037", ResultDescription: "timeout waiting for user"},
	})
	f.put(t, &models.PaymentAttempt{CorrelationID: "ABC123", Amount: 500, Status: models.STATUS_AWAITING})

	sum, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Resolved)
	require.Zero(t, f.balance(t))

	attempt, _, err := f.ledger.Find("ABC123")
	require.NoError(t, err)
	require.Equal(t, models.STATUS_FAILED, attempt.Status)
	require.Equal(t, "1037", attempt.ReasonCode)
}

func TestSweepLeavesPendingAlone(t *testing.T) {
	f := setup(t, map[string]gateway.StatusResponse{
		"ABC123": {Pending: true},
	})
	f.put(t, &models.PaymentAttempt{CorrelationID: "ABC123", Amount: 500, Status: models.STATUS_AWAITING})

	sum, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Queried)
	require.Zero(t, sum.Resolved)

	attempt, _, err := f.ledger.Find("ABC123")
	require.NoError(t, err)
	require.Equal(t, models.STATUS_AWAITING, attempt.Status)
}

func TestSweepExpiresBeforeQuerying(t *testing.T) {
	// the gateway would confirm this attempt, but it is past the window:
	// it must expire unreconciled
	f := setup(t, map[string]gateway.StatusResponse{
		"STALE": {ResultCode: "0", TransactionId: "TXN001", Amount: 500},
	})
	f.put(t, &models.PaymentAttempt{CorrelationID: "STALE", Amount: 500, Status: models.STATUS_AWAITING})
	f.backdate(t, "STALE", 3*time.Hour)

	sum, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), sum.Expired)
	require.Zero(t, sum.Queried)
	require.Zero(t, f.balance(t))

	attempt, found, err := f.ledger.FindAny("STALE")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, models.STATUS_EXPIRED, attempt.Status)
}

func TestSweepSkipsAttemptsPastRetryCap(t *testing.T) {
	f := setup(t, nil)
	f.put(t, &models.PaymentAttempt{
		CorrelationID: "ABC123",
		Amount:        500,
		TransactionID: "TXN001",
		Status:        models.STATUS_CONFIRMED,
		RetryCount:    sweep.MaxReconcileRetries,
	})

	sum, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Skipped)
	require.Zero(t, sum.Reconciled)
	require.Zero(t, f.balance(t))
}

func TestSweepUnreachableGatewayKeepsAwaiting(t *testing.T) {
	f := setup(t, nil)
	// point the client somewhere that refuses connections
	f.sweeper.Gateway = gateway.New("http://127.0.0.1:1", "test-key", "600123", otel.Tracer("test"))
	f.put(t, &models.PaymentAttempt{CorrelationID: "ABC123", Amount: 500, Status: models.STATUS_AWAITING})

	sum, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Queried)
	require.Zero(t, sum.Resolved)

	attempt, _, err := f.ledger.Find("ABC123")
	require.NoError(t, err)
	require.Equal(t, models.STATUS_AWAITING, attempt.Status)
}
