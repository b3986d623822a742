package repository

import (
	"context"
	"errors"
	"time"

	"github.com/robotline/claim-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemListParams filters and paginates the work item detail listing.
type ItemListParams struct {
	BusinessKey string
	State       *domain.ItemState
	Page        int
	PageSize    int
}

type WorkItemRepository interface {
	ClaimNext(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error)
	GetByID(ctx context.Context, id string) (*domain.WorkItem, error)
	FillByID(ctx context.Context, id string, result map[string]string) (*domain.WorkItem, error)
	FillFirstClaimed(ctx context.Context, batchID string, businessKey string, result map[string]string) (*domain.WorkItem, error)
	FindFilledByKey(ctx context.Context, batchID string, businessKey string) ([]domain.WorkItem, error)
	InsertSupplementary(ctx context.Context, item *domain.WorkItem) error
	List(ctx context.Context, batchID string, params ItemListParams) ([]domain.WorkItem, int64, error)
	ListAll(ctx context.Context, batchID string) ([]domain.WorkItem, error)
	CountByState(ctx context.Context, batchID string) (domain.StateCounts, error)
	RequeueExpired(ctx context.Context, claimedBefore time.Time) (int64, error)
}

type GormWorkItemRepo struct {
	db *gorm.DB
}

func NewGormWorkItemRepo(db *gorm.DB) *GormWorkItemRepo {
	return &GormWorkItemRepo{db: db}
}

// claimNextSQL selects one pending row of a running batch uniformly at
// random and marks it claimed in the same statement. Random ordering is a
// deliberate scheduling policy: retried bots must not converge on the same
// keys. FOR UPDATE SKIP LOCKED guarantees two racing callers never pick
// the same row; the loser simply sees a different row or none.
const claimNextSQL = `
UPDATE work_items
SET state = 'CLAIMED', claimed_at = NOW(), updated_at = NOW()
WHERE id = (
	SELECT wi.id
	FROM work_items wi
	JOIN batches b ON b.id = wi.batch_id
	WHERE wi.state = 'PENDING'
	  AND b.status = 'RUNNING'
	  AND b.kind = ?
	ORDER BY random()
	LIMIT 1
	FOR UPDATE OF wi SKIP LOCKED
)
RETURNING *`

func (r *GormWorkItemRepo) ClaimNext(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error) {
	var model WorkItemModel
	err := r.db.WithContext(ctx).Raw(claimNextSQL, kind).Scan(&model).Error
	if err != nil {
		return nil, err
	}
	if model.ID == "" {
		return nil, domain.ErrNotFound
	}
	return workItemModelToDomain(&model)
}

func (r *GormWorkItemRepo) GetByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	var model WorkItemModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return workItemModelToDomain(&model)
}

// FillByID is the claim-token reconcile path: a conditional
// CLAIMED -> FILLED transition keyed by the item id the dispatcher handed
// out. Zero rows affected means the row is gone or no longer CLAIMED; the
// caller decides between idempotent success and conflict.
func (r *GormWorkItemRepo) FillByID(ctx context.Context, id string, result map[string]string) (*domain.WorkItem, error) {
	encoded, err := encodeFields(result)
	if err != nil {
		return nil, err
	}

	res := r.db.WithContext(ctx).
		Model(&WorkItemModel{}).
		Where("id = ? AND state = ?", id, domain.ItemStateClaimed).
		Updates(map[string]any{
			"state":  domain.ItemStateFilled,
			"result": encoded,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrConflict
	}

	return r.GetByID(ctx, id)
}

// fillFirstClaimedSQL is the legacy business-key reconcile path: among
// duplicate keys in the batch, the first still-claimed unfilled row in
// creation order receives the result.
const fillFirstClaimedSQL = `
UPDATE work_items
SET state = 'FILLED', result = ?::jsonb, updated_at = NOW()
WHERE id = (
	SELECT wi.id
	FROM work_items wi
	WHERE wi.batch_id = ?
	  AND wi.business_key = ?
	  AND wi.state = 'CLAIMED'
	  AND wi.result IS NULL
	ORDER BY wi.seq ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

func (r *GormWorkItemRepo) FillFirstClaimed(ctx context.Context, batchID string, businessKey string, result map[string]string) (*domain.WorkItem, error) {
	encoded, err := encodeFields(result)
	if err != nil {
		return nil, err
	}

	var model WorkItemModel
	err = r.db.WithContext(ctx).Raw(fillFirstClaimedSQL, encoded, batchID, businessKey).Scan(&model).Error
	if err != nil {
		return nil, err
	}
	if model.ID == "" {
		return nil, domain.ErrNotFound
	}
	return workItemModelToDomain(&model)
}

func (r *GormWorkItemRepo) FindFilledByKey(ctx context.Context, batchID string, businessKey string) ([]domain.WorkItem, error) {
	var models []WorkItemModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND business_key = ? AND state = ?", batchID, businessKey, domain.ItemStateFilled).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return workItemModelsToDomain(models)
}

// insertSupplementarySQL appends a fallback row after every existing row
// of the batch so detail listings keep creation order.
const insertSupplementarySQL = `
INSERT INTO work_items (id, batch_id, seq, business_key, payload, result, state, supplementary, created_at, updated_at)
VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM work_items WHERE batch_id = ?), ?, ?::jsonb, ?::jsonb, 'FILLED', true, NOW(), NOW())
RETURNING *`

// InsertSupplementary locks the batch header first so concurrent fallback
// inserts for the same batch cannot compute the same seq; the unique
// (batch_id, seq) index backs the lock up.
func (r *GormWorkItemRepo) InsertSupplementary(ctx context.Context, item *domain.WorkItem) error {
	payload, err := encodeFields(item.Payload)
	if err != nil {
		return err
	}
	result, err := encodeFields(item.Result)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch BatchModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&batch, "id = ?", item.BatchID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		var model WorkItemModel
		err = tx.Raw(insertSupplementarySQL, item.ID, item.BatchID, item.BatchID, item.BusinessKey, payload, result).
			Scan(&model).Error
		if err != nil {
			return err
		}

		updated, err := workItemModelToDomain(&model)
		if err != nil {
			return err
		}
		*item = *updated
		return nil
	})
}

func (r *GormWorkItemRepo) List(ctx context.Context, batchID string, params ItemListParams) ([]domain.WorkItem, int64, error) {
	query := r.db.WithContext(ctx).Model(&WorkItemModel{}).Where("batch_id = ?", batchID)

	if params.BusinessKey != "" {
		query = query.Where("business_key = ?", params.BusinessKey)
	}
	if params.State != nil {
		query = query.Where("state = ?", *params.State)
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
	pageSize = min(pageSize, 200)

	var models []WorkItemModel
	err := query.
		Order("seq ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	items, err := workItemModelsToDomain(models)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *GormWorkItemRepo) ListAll(ctx context.Context, batchID string) ([]domain.WorkItem, error) {
	var models []WorkItemModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return workItemModelsToDomain(models)
}

// CountByState reads all three counters in one statement so progress and
// completion checks never see a torn snapshot across concurrent claims.
func (r *GormWorkItemRepo) CountByState(ctx context.Context, batchID string) (domain.StateCounts, error) {
	var row stateCountRow
	err := r.db.WithContext(ctx).
		Model(&WorkItemModel{}).
		Select(`batch_id,
			COUNT(*) FILTER (WHERE state = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE state = 'CLAIMED') AS claimed,
			COUNT(*) FILTER (WHERE state = 'FILLED') AS filled`).
		Where("batch_id = ? AND supplementary = false", batchID).
		Group("batch_id").
		Scan(&row).Error
	if err != nil {
		return domain.StateCounts{}, err
	}

	return domain.StateCounts{
		Pending: row.Pending,
		Claimed: row.Claimed,
		Filled:  row.Filled,
	}, nil
}

// RequeueExpired returns claims that never produced a result to PENDING.
// The conditional WHERE keeps the transition monotonic for any row a bot
// managed to fill concurrently.
func (r *GormWorkItemRepo) RequeueExpired(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&WorkItemModel{}).
		Where("state = ? AND result IS NULL AND claimed_at <= ?", domain.ItemStateClaimed, claimedBefore).
		Updates(map[string]any{
			"state":      domain.ItemStatePending,
			"claimed_at": nil,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
