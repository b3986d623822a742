package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robotline/claim-engine/internal/domain"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	Kind           domain.Kind        `gorm:"type:varchar(30);not null"`
	CreatedBy      string             `gorm:"type:varchar(255);not null"`
	TotalItems     int                `gorm:"not null"`
	Status         domain.BatchStatus `gorm:"type:varchar(10);not null"`
	NotifiedAt     *time.Time         `gorm:"type:timestamptz"`
	LastActivityAt *time.Time         `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// WorkItemModel is the persistence model for the work_items table.
// Payload and Result hold JSONB documents of flat string fields.
type WorkItemModel struct {
	ID            string           `gorm:"type:uuid;primaryKey"`
	BatchID       string           `gorm:"type:uuid;not null"`
	Seq           int64            `gorm:"not null"`
	BusinessKey   string           `gorm:"type:varchar(255);not null"`
	Payload       string           `gorm:"type:jsonb;not null"`
	Result        *string          `gorm:"type:jsonb"`
	State         domain.ItemState `gorm:"type:varchar(10);not null"`
	Supplementary bool             `gorm:"not null;default:false"`
	ClaimedAt     *time.Time       `gorm:"type:timestamptz"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (WorkItemModel) TableName() string {
	return "work_items"
}

func encodeFields(fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(raw), nil
}

func decodeFields(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	fields := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:             b.ID,
		Kind:           b.Kind,
		CreatedBy:      b.CreatedBy,
		TotalItems:     b.TotalItems,
		Status:         b.Status,
		NotifiedAt:     b.NotifiedAt,
		LastActivityAt: b.LastActivityAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:             m.ID,
		Kind:           m.Kind,
		CreatedBy:      m.CreatedBy,
		TotalItems:     m.TotalItems,
		Status:         m.Status,
		NotifiedAt:     m.NotifiedAt,
		LastActivityAt: m.LastActivityAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func workItemModelFromDomain(w *domain.WorkItem) (*WorkItemModel, error) {
	if w == nil {
		return nil, nil
	}

	payload, err := encodeFields(w.Payload)
	if err != nil {
		return nil, err
	}

	var result *string
	if w.Result != nil {
		encoded, err := encodeFields(w.Result)
		if err != nil {
			return nil, err
		}
		result = &encoded
	}

	return &WorkItemModel{
		ID:            w.ID,
		BatchID:       w.BatchID,
		Seq:           w.Seq,
		BusinessKey:   w.BusinessKey,
		Payload:       payload,
		Result:        result,
		State:         w.State,
		Supplementary: w.Supplementary,
		ClaimedAt:     w.ClaimedAt,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}, nil
}

func workItemModelToDomain(m *WorkItemModel) (*domain.WorkItem, error) {
	if m == nil {
		return nil, nil
	}

	payload, err := decodeFields(m.Payload)
	if err != nil {
		return nil, err
	}

	var result map[string]string
	if m.Result != nil {
		result, err = decodeFields(*m.Result)
		if err != nil {
			return nil, err
		}
	}

	return &domain.WorkItem{
		ID:            m.ID,
		BatchID:       m.BatchID,
		Seq:           m.Seq,
		BusinessKey:   m.BusinessKey,
		Payload:       payload,
		Result:        result,
		State:         m.State,
		Supplementary: m.Supplementary,
		ClaimedAt:     m.ClaimedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

func workItemModelsToDomain(models []WorkItemModel) ([]domain.WorkItem, error) {
	items := make([]domain.WorkItem, 0, len(models))
	for i := range models {
		item, err := workItemModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}
