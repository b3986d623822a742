package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus gates claim eligibility for a whole batch. It is the only
// control signal for pausing; payload fields never carry pause state.
type BatchStatus string

const (
	BatchStatusRunning BatchStatus = "RUNNING"
	BatchStatusPaused  BatchStatus = "PAUSED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusRunning, BatchStatusPaused:
		return true
	}
	return false
}

// Operator-facing batch labels. The Spanish wording is part of the
// contract with the existing RPA dashboards.
const (
	LabelNotStarted = "No iniciada"
	LabelFinished   = "Finalizada"
	LabelPaused     = "Pausado"
)

// Batch is the header of one import: a fixed set of work items created
// together. TotalItems is snapshotted at creation and never changes; it is
// the denominator for progress and completion.
type Batch struct {
	ID             string
	Kind           Kind
	CreatedBy      string
	TotalItems     int
	Status         BatchStatus
	NotifiedAt     *time.Time
	LastActivityAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b *Batch) Validate() error {
	if !b.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, b.Kind)
	}
	if strings.TrimSpace(b.CreatedBy) == "" {
		return fmt.Errorf("%w: createdBy is required", ErrValidation)
	}
	return nil
}

// Complete reports whether every original work item has been filled.
// Supplementary rows are excluded from filled, so the comparison against
// TotalItems stays exact.
func (b *Batch) Complete(filled int) bool {
	return b.TotalItems > 0 && filled == b.TotalItems
}

// ProgressPercent is filled/total as a whole percentage, truncated so a
// batch never shows 100% before the last item lands (2/3 reads 66%).
func (b *Batch) ProgressPercent(filled int) int {
	if b.TotalItems <= 0 {
		return 0
	}
	return filled * 100 / b.TotalItems
}

// StatusLabel computes the operator-facing label. Completion wins over
// Pausado because it depends only on item states, not on batch status.
func (b *Batch) StatusLabel(filled int) string {
	switch {
	case b.Complete(filled):
		return LabelFinished
	case b.Status == BatchStatusPaused:
		return LabelPaused
	case filled == 0:
		return LabelNotStarted
	default:
		return fmt.Sprintf("En progreso (%d%%)", b.ProgressPercent(filled))
	}
}
