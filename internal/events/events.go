package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robotline/claim-engine/internal/domain"
)

// EventType names a batch lifecycle transition published to the broker.
type EventType string

const (
	EventBatchCreated   EventType = "batch.created"
	EventBatchPaused    EventType = "batch.paused"
	EventBatchResumed   EventType = "batch.resumed"
	EventBatchCompleted EventType = "batch.completed"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventBatchCreated, EventBatchPaused, EventBatchResumed, EventBatchCompleted:
		return true
	}
	return false
}

const (
	// LifecycleQueue receives every batch lifecycle event.
	LifecycleQueue = "batch.lifecycle"
	// LifecycleDLQ collects events rejected by downstream consumers.
	LifecycleDLQ = "dlq.batch.lifecycle"

	dlxExchangeName = "claims.dlx"
)

// BatchEvent is the broker payload for one lifecycle transition.
type BatchEvent struct {
	BatchID    string      `json:"batchId"`
	Kind       domain.Kind `json:"kind"`
	Type       EventType   `json:"type"`
	TotalItems int         `json:"totalItems"`
	OccurredAt time.Time   `json:"occurredAt"`
}

func (e BatchEvent) Validate() error {
	if strings.TrimSpace(e.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", e.Kind)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	return nil
}

// Publisher publishes batch lifecycle events. Publishing is best-effort
// from the caller's point of view: core state never depends on it.
// Connection teardown stays with the concrete publisher; consumers only
// ever publish.
type Publisher interface {
	Publish(ctx context.Context, event BatchEvent) error
}
