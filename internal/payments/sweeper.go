package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/congo_shop/internal/ledger"
	"github.com/congo-pay/congo_shop/internal/metrics"
)

const sweepBatch = 500

// Sweeper periodically reports ledger transactions stuck in queued or pending.
// It is the out-of-band follow-up for webhook reconciliation failures and for
// deposits the provider reported as not yet settled.
type Sweeper struct {
	ledger     *ledger.Service
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewSweeper(l *ledger.Service, interval, staleAfter time.Duration, logger *slog.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		ledger:     l,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("reconciliation sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep performs one pass and returns the stale transactions found.
func (s *Sweeper) Sweep(ctx context.Context) ([]ledger.Transaction, error) {
	stale, err := s.ledger.Stale(ctx, s.now().Add(-s.staleAfter), sweepBatch)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.StaleTransaction.Set(float64(len(stale)))
	}
	for _, t := range stale {
		s.logger.Warn("stale ledger transaction",
			slog.String("reference", t.Reference),
			slog.String("provider_reference", t.ProviderReference),
			slog.String("user_id", t.UserID),
			slog.String("status", string(t.Status)),
			slog.Time("created_at", t.CreatedAt))
	}
	return stale, nil
}
