package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"git.sr.ht/~aondrejcak/mm-api/gateway"
	"git.sr.ht/~aondrejcak/mm-api/ledger"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"git.sr.ht/~aondrejcak/mm-api/reconcile"
	"git.sr.ht/~aondrejcak/mm-api/resolver"
)

// MaxReconcileRetries bounds how many sweep passes retry a confirmed attempt
// whose balance application keeps failing. Past the cap the entry is left for
// the expiry window; it is never silently dropped while still confirmed.
const MaxReconcileRetries = 10

type Summary struct {
	Expired    int64 `json:"expired"`
	Queried    int   `json:"queried"`
	Resolved   int   `json:"resolved"`
	Reconciled int   `json:"reconciled"`
	Skipped    int   `json:"skipped"`
}

// Sweeper drives unresolved ledger entries forward: it runs once at startup
// and then on a fixed interval, so a crash between confirmation and balance
// application is always repaired without re-prompting the user.
type Sweeper struct {
	Ledger   *ledger.Ledger
	Gateway  *gateway.Client
	Resolver *resolver.Resolver
	Rec      *reconcile.Reconciler

	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}

	// expire first, so a late confirmation for a stale attempt can never be
	// reconciled by the queries below
	expired, err := s.Ledger.ExpireStale()
	if err != nil {
		return sum, err
	}
	sum.Expired = expired

	entries, err := s.Ledger.Unresolved()
	if err != nil {
		return sum, err
	}

	for i := range entries {
		entry := &entries[i]
		switch entry.Status {
		case models.STATUS_CONFIRMED:
			s.retryReconcile(ctx, entry, sum)
		case models.STATUS_AWAITING:
			s.queryAndResolve(ctx, entry, sum)
		}
	}

	log.Info().
		Int64("expired", sum.Expired).
		Int("queried", sum.Queried).
		Int("resolved", sum.Resolved).
		Int("reconciled", sum.Reconciled).
		Int("skipped", sum.Skipped).
		Msg("recovery sweep finished")
	return sum, nil
}

// Start runs the sweep on the configured interval until the context ends.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx); err != nil {
					log.Error().Err(err).Msg("recovery sweep failed")
				}
			}
		}
	}()
}

func (s *Sweeper) retryReconcile(ctx context.Context, entry *models.PaymentAttempt, sum *Summary) {
	if entry.RetryCount >= MaxReconcileRetries {
		sum.Skipped++
		log.Warn().
			Str("correlationId", entry.CorrelationID).
			Int("retryCount", entry.RetryCount).
			Msg("reconcile retry cap reached, waiting for expiry")
		return
	}
	if err := s.Ledger.BumpRetry(entry.CorrelationID); err != nil {
		log.Error().Err(err).Str("correlationId", entry.CorrelationID).Msg("could not bump retry count")
		return
	}

	if _, err := s.Rec.Reconcile(ctx, entry.TransactionID, entry.CorrelationID, entry.Amount); err != nil {
		log.Error().Err(err).
			Str("correlationId", entry.CorrelationID).
			Msg("reconcile retry failed")
		return
	}
	sum.Reconciled++
}

func (s *Sweeper) queryAndResolve(ctx context.Context, entry *models.PaymentAttempt, sum *Summary) {
	sum.Queried++

	st, err := s.Gateway.QueryStatus(ctx, entry.CorrelationID)
	if err != nil {
		log.Warn().Err(err).
			Str("correlationId", entry.CorrelationID).
			Msg("pull-path status query failed")
		return
	}
	if st.Pending {
		return
	}

	out := resolver.Outcome{
		ReasonCode:        st.ResultCode,
		ReasonDescription: st.ResultDescription,
	}
	if st.ResultCode == "0" {
		out.Status = models.STATUS_CONFIRMED
		out.TransactionId = st.TransactionId
		out.Amount = st.Amount
		out.ReasonCode = ""
		out.ReasonDescription = ""
	} else {
		out.Status = models.STATUS_FAILED
	}

	resolved, err := s.Resolver.Resolve(ctx, entry.CorrelationID, out)
	if err != nil {
		log.Error().Err(err).
			Str("correlationId", entry.CorrelationID).
			Msg("could not resolve attempt from sweep")
		return
	}
	if resolved {
		sum.Resolved++
	}
}
