package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robotline/claim-engine/internal/domain"
	"github.com/robotline/claim-engine/internal/events"
	"github.com/robotline/claim-engine/internal/notifier"
	"github.com/robotline/claim-engine/internal/observability"
	"github.com/robotline/claim-engine/internal/repository"
	"go.uber.org/zap"
)

// NotifyService owns the one-time completion notification. The notified
// marker is claimed with a conditional update before any external call,
// so concurrent completion checks cannot double-send; a failed delivery
// releases the marker for a later retry.
type NotifyService struct {
	batches   repository.BatchRepository
	items     repository.WorkItemRepository
	contacts  notifier.ContactResolver
	notifier  notifier.Notifier
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewNotifyService(
	batches repository.BatchRepository,
	items repository.WorkItemRepository,
	contacts notifier.ContactResolver,
	completionNotifier notifier.Notifier,
	publisher events.Publisher,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*NotifyService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("work item repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact resolver is required")
	}
	if completionNotifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotifyService{
		batches:   batches,
		items:     items,
		contacts:  contacts,
		notifier:  completionNotifier,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// CheckAndNotify sends the completion notice if the batch just became
// complete and nobody has sent it yet. Safe to call any number of times
// from any number of goroutines. The bool reports whether this call
// actually delivered a notice; skips (incomplete batch, already notified,
// lost marker race) return false with no error.
func (s *NotifyService) CheckAndNotify(ctx context.Context, batchID string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return false, err
	}

	counts, err := s.items.CountByState(ctx, batchID)
	if err != nil {
		return false, err
	}
	if !batch.Complete(counts.Filled) {
		return false, nil
	}
	if batch.NotifiedAt != nil {
		return false, nil
	}

	now := time.Now().UTC()
	won, err := s.batches.MarkNotified(ctx, batchID, now)
	if err != nil {
		return false, err
	}
	if !won {
		// Another caller owns the send.
		return false, nil
	}

	if err := s.deliver(ctx, batch, now); err != nil {
		if clearErr := s.batches.ClearNotified(ctx, batchID); clearErr != nil {
			s.logger.Error("failed to release notification marker after delivery failure",
				zap.String("batchId", batchID),
				zap.Error(clearErr),
			)
		}
		return false, err
	}

	s.metrics.IncNotificationSent(batch.Kind.String())
	s.logger.Info("batch completion notified",
		zap.String("batchId", batch.ID),
		zap.String("kind", batch.Kind.String()),
		zap.Int("totalItems", batch.TotalItems),
	)

	s.publishCompleted(ctx, batch, now)
	return true, nil
}

func (s *NotifyService) deliver(ctx context.Context, batch *domain.Batch, completedAt time.Time) error {
	contact, err := s.contacts.Resolve(ctx, batch.CreatedBy)
	if err != nil {
		s.metrics.IncNotificationFailed(batch.Kind.String(), "resolve")
		return fmt.Errorf("failed to resolve contact for batch %s: %w", batch.ID, err)
	}

	notice := notifier.CompletionNotice{
		BatchID:     batch.ID,
		Kind:        batch.Kind,
		CreatedBy:   batch.CreatedBy,
		Recipient:   contact,
		TotalItems:  batch.TotalItems,
		CompletedAt: completedAt,
	}
	if err := s.notifier.NotifyCompletion(ctx, notice); err != nil {
		s.metrics.IncNotificationFailed(batch.Kind.String(), "delivery")
		return fmt.Errorf("failed to deliver completion notice for batch %s: %w", batch.ID, err)
	}

	return nil
}

func (s *NotifyService) publishCompleted(ctx context.Context, batch *domain.Batch, occurredAt time.Time) {
	if s.publisher == nil {
		return
	}

	event := events.BatchEvent{
		BatchID:    batch.ID,
		Kind:       batch.Kind,
		Type:       events.EventBatchCompleted,
		TotalItems: batch.TotalItems,
		OccurredAt: occurredAt,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish batch completed event",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
	}
}
