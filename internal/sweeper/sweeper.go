package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskhive/taskhive/domain"
	"github.com/taskhive/taskhive/internal/metrics"
)

// Sweeper periodically deletes credential rows whose validity window ended
// longer than the retention period ago. Revocation only flags rows; this is
// the single place they are physically removed.
type Sweeper struct {
	creds     domain.CredentialRepository
	interval  time.Duration
	retention time.Duration
}

// New creates a sweeper running every interval, keeping rows for retention
// past their expiry.
func New(creds domain.CredentialRepository, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		creds:     creds,
		interval:  interval,
		retention: retention,
	}
}

// Run sweeps on a ticker until ctx is cancelled. One sweep happens
// immediately at startup.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.retention)
	removed, err := s.creds.DeleteStale(sweepCtx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("credential sweep failed")
		return
	}
	if removed > 0 {
		metrics.CredentialsSweptTotal.Add(float64(removed))
		log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("stale credentials swept")
	}
}
