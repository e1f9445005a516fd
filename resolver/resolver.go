package resolver

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"git.sr.ht/~aondrejcak/mm-api/ledger"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"git.sr.ht/~aondrejcak/mm-api/reconcile"
)

// Outcome is the terminal vocabulary shared by the push and pull paths.
type Outcome struct {
	Status            string `json:"status"` // confirmed or failed
	TransactionId     string `json:"transactionId,omitempty"`
	ReasonCode        string `json:"reasonCode,omitempty"`
	ReasonDescription string `json:"reasonDescription,omitempty"`

	// zero when the source did not carry one (some pull responses)
	Amount int64 `json:"-"`
}

// Resolver accepts the first terminal input for a correlation id from either
// path and discards every later one. The ledger's guarded status transition is
// the arbiter, so the race is settled even across processes.
type Resolver struct {
	mu      sync.Mutex
	waiters map[string][]chan Outcome

	ledger *ledger.Ledger
	rec    *reconcile.Reconciler
}

func New(l *ledger.Ledger, rec *reconcile.Reconciler) *Resolver {
	return &Resolver{
		waiters: make(map[string][]chan Outcome),
		ledger:  l,
		rec:     rec,
	}
}

// Subscribe registers interest in the attempt's terminal outcome. The cancel
// function releases the waiter without touching ledger state; an abandoned
// attempt keeps resolving behind the caller's back.
func (r *Resolver) Subscribe(correlationId string) (<-chan Outcome, func()) {
	ch := make(chan Outcome, 1)

	r.mu.Lock()
	r.waiters[correlationId] = append(r.waiters[correlationId], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		chans := r.waiters[correlationId]
		for i, c := range chans {
			if c == ch {
				r.waiters[correlationId] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(r.waiters[correlationId]) == 0 {
			delete(r.waiters, correlationId)
		}
	}
	return ch, cancel
}

// Resolve applies a terminal outcome to the attempt. It returns true when
// this call won the race; duplicates and unknown ids return false with no
// state change.
func (r *Resolver) Resolve(ctx context.Context, correlationId string, out Outcome) (bool, error) {
	attempt, found, err := r.ledger.Find(correlationId)
	if err != nil {
		return false, err
	}
	if !found || attempt.Status != models.STATUS_AWAITING {
		// resolved, purged or never ours; idempotent no-op
		log.Debug().
			Str("correlationId", correlationId).
			Msg("dropping duplicate or unknown resolution")
		return false, nil
	}

	switch out.Status {
	case models.STATUS_CONFIRMED:
		claimed, err := r.ledger.MarkConfirmed(correlationId, out.TransactionId)
		if err != nil || !claimed {
			return false, err
		}

		// the reconciler re-checks the amount against the ledger; a mismatch
		// from the confirmation message fails there
		amount := attempt.Amount
		if out.Amount != 0 {
			amount = out.Amount
		}
		if _, err := r.rec.Reconcile(ctx, out.TransactionId, correlationId, amount); err != nil {
			// attempt stays confirmed; the recovery sweep retries it
			log.Error().Err(err).
				Str("correlationId", correlationId).
				Str("transactionId", out.TransactionId).
				Msg("reconciliation failed, leaving attempt for recovery sweep")
		}

	case models.STATUS_FAILED:
		claimed, err := r.ledger.MarkFailed(correlationId, out.ReasonCode, out.ReasonDescription)
		if err != nil || !claimed {
			return false, err
		}

	default:
		log.Warn().
			Str("correlationId", correlationId).
			Str("status", out.Status).
			Msg("ignoring non-terminal resolution")
		return false, nil
	}

	r.notify(correlationId, out)
	return true, nil
}

// notify delivers the outcome and tears the subscription down regardless of
// which path won.
func (r *Resolver) notify(correlationId string, out Outcome) {
	r.mu.Lock()
	chans := r.waiters[correlationId]
	delete(r.waiters, correlationId)
	r.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- out:
		default:
		}
	}
}
