package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robotline/claim-engine/internal/domain"
	"github.com/robotline/claim-engine/internal/observability"
	"github.com/robotline/claim-engine/internal/repository"
	"go.uber.org/zap"
)

// ClaimService hands pending work items to polling bots. All concurrency
// control lives in the repository's single-statement claim; this layer
// adds liveness tracking and metrics.
type ClaimService struct {
	items   repository.WorkItemRepository
	batches repository.BatchRepository
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewClaimService(
	items repository.WorkItemRepository,
	batches repository.BatchRepository,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*ClaimService, error) {
	if items == nil {
		return nil, fmt.Errorf("work item repository is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ClaimService{
		items:   items,
		batches: batches,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// ClaimNext atomically claims one random pending item of a running batch
// of the given kind. ErrNotFound means no eligible work exists right now;
// bots treat that as "poll again later".
func (s *ClaimService) ClaimNext(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: invalid kind %q", domain.ErrValidation, kind)
	}

	item, err := s.items.ClaimNext(ctx, kind)
	if errors.Is(err, domain.ErrNotFound) {
		s.metrics.IncClaimMiss(kind.String())
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if touchErr := s.batches.TouchActivity(ctx, item.BatchID, time.Now().UTC()); touchErr != nil {
		// Liveness is advisory; never fail a successful claim over it.
		s.logger.Warn("failed to record batch activity",
			zap.String("batchId", item.BatchID),
			zap.Error(touchErr),
		)
	}

	s.metrics.IncClaim(kind.String())
	return item, nil
}
