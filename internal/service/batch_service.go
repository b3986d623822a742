package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robotline/claim-engine/internal/domain"
	"github.com/robotline/claim-engine/internal/events"
	"github.com/robotline/claim-engine/internal/observability"
	"github.com/robotline/claim-engine/internal/repository"
	"go.uber.org/zap"
)

const maxBatchItems = 10000

// BatchOverview is one batch header joined with its live item counts and
// the operator-facing status label.
type BatchOverview struct {
	Batch    domain.Batch
	Counts   domain.StateCounts
	Label    string
	Progress int
}

type BatchService struct {
	batches   repository.BatchRepository
	items     repository.WorkItemRepository
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewBatchService(
	batches repository.BatchRepository,
	items repository.WorkItemRepository,
	publisher events.Publisher,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*BatchService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("work item repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:   batches,
		items:     items,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Create registers a new batch from an import. Rows with a blank business
// key are dropped before persistence; TotalItems counts only the rows
// that survive, so the progress denominator matches what bots can claim.
// An import whose every row is dropped still creates the header with
// TotalItems zero, and the dispatcher simply never offers it.
func (s *BatchService) Create(
	ctx context.Context,
	kind domain.Kind,
	createdBy string,
	rows []domain.ItemInput,
) (*domain.Batch, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(rows) == 0 {
		return nil, 0, fmt.Errorf("%w: batch must include at least one row", domain.ErrValidation)
	}
	if len(rows) > maxBatchItems {
		return nil, 0, fmt.Errorf("%w: batch size exceeds %d rows", domain.ErrValidation, maxBatchItems)
	}

	kept := make([]domain.ItemInput, 0, len(rows))
	for i := range rows {
		row := rows[i]
		row.Normalize()
		if !row.Valid() {
			continue
		}
		kept = append(kept, row)
	}
	dropped := len(rows) - len(kept)

	batch := &domain.Batch{
		ID:         uuid.NewString(),
		Kind:       kind,
		CreatedBy:  strings.TrimSpace(createdBy),
		TotalItems: len(kept),
		Status:     domain.BatchStatusRunning,
	}
	if err := batch.Validate(); err != nil {
		return nil, dropped, err
	}

	items := make([]domain.WorkItem, 0, len(kept))
	for i := range kept {
		items = append(items, domain.WorkItem{
			ID:          uuid.NewString(),
			BatchID:     batch.ID,
			Seq:         int64(i + 1),
			BusinessKey: kept[i].BusinessKey,
			Payload:     kept[i].Payload,
			State:       domain.ItemStatePending,
		})
	}

	if err := s.batches.CreateWithItems(ctx, batch, items); err != nil {
		return nil, dropped, err
	}

	if dropped > 0 {
		s.logger.Warn("import rows without business key dropped",
			zap.String("batchId", batch.ID),
			zap.Int("dropped", dropped),
		)
	}

	s.metrics.IncBatchCreated(batch.Kind.String())
	s.publishLifecycle(ctx, batch, events.EventBatchCreated)

	return batch, dropped, nil
}

// Pause stops the dispatcher from handing out this batch's pending items.
// Already-claimed items stay claimed; bots finish them normally.
func (s *BatchService) Pause(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.transition(ctx, batchID, domain.BatchStatusPaused, events.EventBatchPaused)
}

// Resume reopens a paused batch for claiming.
func (s *BatchService) Resume(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.transition(ctx, batchID, domain.BatchStatusRunning, events.EventBatchResumed)
}

func (s *BatchService) transition(
	ctx context.Context,
	batchID string,
	target domain.BatchStatus,
	eventType events.EventType,
) (*domain.Batch, error) {
	id := strings.TrimSpace(batchID)
	if id == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status == target {
		return batch, nil
	}

	if err := s.batches.UpdateStatus(ctx, id, target); err != nil {
		return nil, err
	}
	batch.Status = target

	s.publishLifecycle(ctx, batch, eventType)
	return batch, nil
}

// Get loads one batch with its counts and computed label.
func (s *BatchService) Get(ctx context.Context, batchID string) (*BatchOverview, error) {
	id := strings.TrimSpace(batchID)
	if id == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.items.CountByState(ctx, id)
	if err != nil {
		return nil, err
	}

	overview := overviewFor(*batch, counts)
	return &overview, nil
}

// List returns a page of batch overviews, newest first. Counts for the
// whole page come from one grouped query.
func (s *BatchService) List(ctx context.Context, params repository.BatchListParams) ([]BatchOverview, int64, error) {
	batches, total, err := s.batches.List(ctx, params)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(batches))
	for i := range batches {
		ids = append(ids, batches[i].ID)
	}

	countsByID, err := s.batches.CountsFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	overviews := make([]BatchOverview, 0, len(batches))
	for i := range batches {
		overviews = append(overviews, overviewFor(batches[i], countsByID[batches[i].ID]))
	}
	return overviews, total, nil
}

// ListItems returns a page of a batch's work items in creation order.
func (s *BatchService) ListItems(
	ctx context.Context,
	batchID string,
	params repository.ItemListParams,
) ([]domain.WorkItem, int64, error) {
	id := strings.TrimSpace(batchID)
	if id == "" {
		return nil, 0, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	// Listing a missing batch is a 404, not an empty page.
	if _, err := s.batches.GetByID(ctx, id); err != nil {
		return nil, 0, err
	}

	return s.items.List(ctx, id, params)
}

// ExportData loads a batch with every item, creation order, for the
// spreadsheet export.
func (s *BatchService) ExportData(ctx context.Context, batchID string) (*domain.Batch, []domain.WorkItem, error) {
	id := strings.TrimSpace(batchID)
	if id == "" {
		return nil, nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.items.ListAll(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return batch, items, nil
}

func (s *BatchService) publishLifecycle(ctx context.Context, batch *domain.Batch, eventType events.EventType) {
	if s.publisher == nil {
		return
	}

	event := events.BatchEvent{
		BatchID:    batch.ID,
		Kind:       batch.Kind,
		Type:       eventType,
		TotalItems: batch.TotalItems,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// Lifecycle events are observational; the write already committed.
		s.logger.Error("failed to publish batch lifecycle event",
			zap.String("batchId", batch.ID),
			zap.String("event", string(eventType)),
			zap.Error(err),
		)
	}
}

func overviewFor(batch domain.Batch, counts domain.StateCounts) BatchOverview {
	return BatchOverview{
		Batch:    batch,
		Counts:   counts,
		Label:    batch.StatusLabel(counts.Filled),
		Progress: batch.ProgressPercent(counts.Filled),
	}
}
