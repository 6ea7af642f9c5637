package generation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper fails and refunds jobs whose polling loop died with the process,
// for example on a deploy mid-generation. StaleAfter must exceed the longest
// provider poll budget so a live polling loop is never reaped out from under
// itself; the status guard in Fail and the idempotent refund cover the rest.
type Reaper struct {
	store      JobStore
	ledger     CreditLedger
	staleAfter time.Duration
}

func NewReaper(store JobStore, ledger CreditLedger, staleAfter time.Duration) *Reaper {
	return &Reaper{store: store, ledger: ledger, staleAfter: staleAfter}
}

// Run performs one sweep. Invoked on a schedule from main.
func (r *Reaper) Run(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleAfter)

	jobs, err := r.store.ListStale(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Reaper failed to list stale jobs")
		return
	}
	if len(jobs) == 0 {
		return
	}

	log.Info().Int("count", len(jobs)).Msg("Reaping stale generation jobs")

	for _, job := range jobs {
		reaped, err := r.store.Fail(ctx, job.ID, ErrPollTimeout.Error())
		if err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Reaper failed to fail job")
			continue
		}
		if !reaped {
			// The job reached a terminal state between listing and reaping.
			continue
		}

		if job.CreditsCost <= 0 {
			continue
		}
		// Refund is attempted for every reaped job, including those still in
		// created: a crash between the debit commit and the reserved write
		// leaves the job in created with credits taken. The ledger only
		// refunds jobs that have a matching debit entry, so jobs that never
		// debited stay untouched.
		if err := r.ledger.Refund(ctx, job.UserID, job.CreditsCost, job.ID); err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Reaper refund failed")
			continue
		}
		log.Info().
			Str("job_id", job.ID.String()).
			Int("refunded", job.CreditsCost).
			Msg("Stale job reaped and refunded")
	}
}
