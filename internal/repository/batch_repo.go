package repository

import (
	"context"
	"errors"
	"time"

	"github.com/robotline/claim-engine/internal/domain"
	"gorm.io/gorm"
)

// BatchListParams filters and paginates the batch overview listing.
type BatchListParams struct {
	Kind      *domain.Kind
	CreatedBy string
	Page      int
	PageSize  int
}

type BatchRepository interface {
	CreateWithItems(ctx context.Context, b *domain.Batch, items []domain.WorkItem) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	LatestByKind(ctx context.Context, kind domain.Kind) (*domain.Batch, error)
	UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)
	ClearNotified(ctx context.Context, id string) error
	TouchActivity(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, params BatchListParams) ([]domain.Batch, int64, error)
	CountsFor(ctx context.Context, batchIDs []string) (map[string]domain.StateCounts, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// CreateWithItems persists the header and every detail row in one
// transaction. A header failure aborts before any item insert, so no
// orphan items can exist.
func (r *GormBatchRepo) CreateWithItems(ctx context.Context, b *domain.Batch, items []domain.WorkItem) error {
	batchModel := batchModelFromDomain(b)

	itemModels := make([]WorkItemModel, 0, len(items))
	for i := range items {
		model, err := workItemModelFromDomain(&items[i])
		if err != nil {
			return err
		}
		itemModels = append(itemModels, *model)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batchModel).Error; err != nil {
			return err
		}
		if len(itemModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&itemModels, 200).Error
	})
	if err != nil {
		return err
	}

	if b != nil {
		*b = *batchModelToDomain(batchModel)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) LatestByKind(ctx context.Context, kind domain.Kind) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkNotified claims the one-time notification slot. The conditional
// WHERE makes concurrent callers race on the row update; exactly one
// observes RowsAffected == 1 and owns the send.
func (r *GormBatchRepo) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND notified_at IS NULL", id).
		Update("notified_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClearNotified releases the notification slot after a failed delivery so
// a later checkAndNotify can retry.
func (r *GormBatchRepo) ClearNotified(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Update("notified_at", nil).Error
}

func (r *GormBatchRepo) TouchActivity(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Update("last_activity_at", at).Error
}

func (r *GormBatchRepo) List(ctx context.Context, params BatchListParams) ([]domain.Batch, int64, error) {
	query := r.db.WithContext(ctx).Model(&BatchModel{})

	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}
	if params.CreatedBy != "" {
		query = query.Where("created_by = ?", params.CreatedBy)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []BatchModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}

	return batches, total, nil
}

type stateCountRow struct {
	BatchID string `gorm:"column:batch_id"`
	Pending int    `gorm:"column:pending"`
	Claimed int    `gorm:"column:claimed"`
	Filled  int    `gorm:"column:filled"`
}

// CountsFor aggregates item state counts for a set of batches in one
// query, excluding supplementary rows so TotalItems stays the exact
// denominator.
func (r *GormBatchRepo) CountsFor(ctx context.Context, batchIDs []string) (map[string]domain.StateCounts, error) {
	counts := make(map[string]domain.StateCounts, len(batchIDs))
	if len(batchIDs) == 0 {
		return counts, nil
	}

	var rows []stateCountRow
	err := r.db.WithContext(ctx).
		Model(&WorkItemModel{}).
		Select(`batch_id,
			COUNT(*) FILTER (WHERE state = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE state = 'CLAIMED') AS claimed,
			COUNT(*) FILTER (WHERE state = 'FILLED') AS filled`).
		Where("batch_id IN ? AND supplementary = false", batchIDs).
		Group("batch_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.BatchID] = domain.StateCounts{
			Pending: row.Pending,
			Claimed: row.Claimed,
			Filled:  row.Filled,
		}
	}
	return counts, nil
}
