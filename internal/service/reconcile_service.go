package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robotline/claim-engine/internal/domain"
	"github.com/robotline/claim-engine/internal/observability"
	"github.com/robotline/claim-engine/internal/repository"
	"go.uber.org/zap"
)

// ReconcileOutcome classifies what a result submission did to the store.
type ReconcileOutcome string

const (
	// OutcomeFilled means a claimed item transitioned to filled.
	OutcomeFilled ReconcileOutcome = "filled"
	// OutcomeIdempotent means the identical result was already recorded.
	OutcomeIdempotent ReconcileOutcome = "idempotent"
	// OutcomeFallback means no matching claimed item existed and a
	// supplementary row was inserted to preserve the bot's work.
	OutcomeFallback ReconcileOutcome = "fallback"
)

// CompletionChecker is notified after a fill so the owner hears about the
// last item landing without a separate poller.
type CompletionChecker interface {
	CheckAndNotify(ctx context.Context, batchID string) (bool, error)
}

type ReconcileService struct {
	items      repository.WorkItemRepository
	batches    repository.BatchRepository
	completion CompletionChecker
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func NewReconcileService(
	items repository.WorkItemRepository,
	batches repository.BatchRepository,
	completion CompletionChecker,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*ReconcileService, error) {
	if items == nil {
		return nil, fmt.Errorf("work item repository is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReconcileService{
		items:      items,
		batches:    batches,
		completion: completion,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// SubmitResult records one bot report. Submissions carrying the claim
// token match by item id; legacy submissions fall back to a business key
// scan against the newest batch of the kind. Either way a duplicate of an
// already-recorded result is a no-op, and a result nothing claims is kept
// as a supplementary row rather than discarded.
func (s *ReconcileService) SubmitResult(
	ctx context.Context,
	sub domain.ResultSubmission,
) (*domain.WorkItem, ReconcileOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	sub.Normalize()
	if err := sub.Validate(); err != nil {
		return nil, "", err
	}

	var (
		item    *domain.WorkItem
		outcome ReconcileOutcome
		err     error
	)
	if sub.ItemID != "" {
		item, outcome, err = s.reconcileByToken(ctx, sub)
	} else {
		item, outcome, err = s.reconcileByKey(ctx, sub)
	}
	if err != nil {
		return nil, "", err
	}

	s.metrics.IncReconcile(sub.Kind.String(), string(outcome))

	if touchErr := s.batches.TouchActivity(ctx, item.BatchID, time.Now().UTC()); touchErr != nil {
		s.logger.Warn("failed to record batch activity",
			zap.String("batchId", item.BatchID),
			zap.Error(touchErr),
		)
	}

	if outcome == OutcomeFilled && s.completion != nil {
		// Completion is checked inline so the notification follows the
		// final fill immediately; failures here never undo the fill.
		if _, notifyErr := s.completion.CheckAndNotify(ctx, item.BatchID); notifyErr != nil {
			s.logger.Error("completion check failed after fill",
				zap.String("batchId", item.BatchID),
				zap.Error(notifyErr),
			)
		}
	}

	return item, outcome, nil
}

func (s *ReconcileService) reconcileByToken(
	ctx context.Context,
	sub domain.ResultSubmission,
) (*domain.WorkItem, ReconcileOutcome, error) {
	item, err := s.items.GetByID(ctx, sub.ItemID)
	if err != nil {
		return nil, "", err
	}

	batch, err := s.batches.GetByID(ctx, item.BatchID)
	if err != nil {
		return nil, "", err
	}
	if batch.Kind != sub.Kind {
		return nil, "", fmt.Errorf("%w: item %s belongs to kind %s, not %s",
			domain.ErrValidation, item.ID, batch.Kind, sub.Kind)
	}

	if item.State == domain.ItemStateFilled {
		if domain.EqualResults(item.Result, sub.Fields) {
			return item, OutcomeIdempotent, nil
		}
		return nil, "", fmt.Errorf("%w: item %s already filled with a different result",
			domain.ErrConflict, item.ID)
	}

	filled, err := s.items.FillByID(ctx, sub.ItemID, sub.Fields)
	if errors.Is(err, domain.ErrConflict) {
		// Lost a race: the row left CLAIMED between the read and the
		// conditional update. Re-read to tell duplicate from conflict.
		current, getErr := s.items.GetByID(ctx, sub.ItemID)
		if getErr != nil {
			return nil, "", getErr
		}
		if current.State == domain.ItemStateFilled && domain.EqualResults(current.Result, sub.Fields) {
			return current, OutcomeIdempotent, nil
		}
		return nil, "", fmt.Errorf("%w: item %s is no longer claimed", domain.ErrConflict, sub.ItemID)
	}
	if err != nil {
		return nil, "", err
	}

	return filled, OutcomeFilled, nil
}

func (s *ReconcileService) reconcileByKey(
	ctx context.Context,
	sub domain.ResultSubmission,
) (*domain.WorkItem, ReconcileOutcome, error) {
	batch, err := s.batches.LatestByKind(ctx, sub.Kind)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: no batch exists for kind %s", domain.ErrNotFound, sub.Kind)
	}
	if err != nil {
		return nil, "", err
	}

	filled, err := s.items.FillFirstClaimed(ctx, batch.ID, sub.BusinessKey, sub.Fields)
	if err == nil {
		return filled, OutcomeFilled, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", err
	}

	// No claimed row matched. A duplicate of an already-filled row is
	// acknowledged without a second write.
	existing, err := s.items.FindFilledByKey(ctx, batch.ID, sub.BusinessKey)
	if err != nil {
		return nil, "", err
	}
	for i := range existing {
		if domain.EqualResults(existing[i].Result, sub.Fields) {
			return &existing[i], OutcomeIdempotent, nil
		}
	}

	// Genuinely unmatched work, typically a bot finishing after a lease
	// requeue or reporting against a key the import never carried. The
	// result is preserved as a supplementary row outside the progress
	// denominator.
	supplementary := &domain.WorkItem{
		ID:          uuid.NewString(),
		BatchID:     batch.ID,
		BusinessKey: sub.BusinessKey,
		Result:      sub.Fields,
	}
	if err := s.items.InsertSupplementary(ctx, supplementary); err != nil {
		return nil, "", err
	}

	s.logger.Warn("result had no claimed item, stored as supplementary row",
		zap.String("batchId", batch.ID),
		zap.String("businessKey", sub.BusinessKey),
	)
	return supplementary, OutcomeFallback, nil
}
