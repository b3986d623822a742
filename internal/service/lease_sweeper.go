package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robotline/claim-engine/internal/observability"
	"github.com/robotline/claim-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultSweepInterval = 30 * time.Second

// LeaseSweeper returns claims that never produced a result to PENDING
// after the configured lease TTL. This is the only path back from CLAIMED;
// with a zero TTL the sweeper is disabled and claims are held forever,
// matching deployments where bots always report something.
type LeaseSweeper struct {
	items    repository.WorkItemRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	ttl      time.Duration
}

func NewLeaseSweeper(
	items repository.WorkItemRepository,
	ttl time.Duration,
	interval time.Duration,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*LeaseSweeper, error) {
	if items == nil {
		return nil, fmt.Errorf("work item repository is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LeaseSweeper{
		items:    items,
		logger:   logger,
		metrics:  metrics,
		interval: interval,
		ttl:      ttl,
	}, nil
}

// Enabled reports whether a lease TTL is configured.
func (s *LeaseSweeper) Enabled() bool {
	return s.ttl > 0
}

func (s *LeaseSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.Enabled() {
		s.logger.Info("lease sweeper disabled, claims are held until a result arrives")
		return nil
	}

	s.logger.Info("lease sweeper started",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("lease sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *LeaseSweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.ttl)
	requeued, err := s.items.RequeueExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to requeue expired claims: %w", err)
	}

	if requeued > 0 {
		s.metrics.AddLeaseRequeued(requeued)
		s.logger.Info("expired claims returned to pending", zap.Int64("requeued", requeued))
	}
	return nil
}
