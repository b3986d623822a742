package notifier

import (
	"context"
	"time"

	"github.com/robotline/claim-engine/internal/domain"
)

// Contact is the delivery address resolved for a batch owner.
type Contact struct {
	Email string
	Name  string
}

// ContactResolver looks up the owner's contact address. The directory is
// an external collaborator; the core only consumes this port.
type ContactResolver interface {
	Resolve(ctx context.Context, userID string) (Contact, error)
}

// CompletionNotice is the payload of the one-time batch completion
// notification.
type CompletionNotice struct {
	BatchID     string
	Kind        domain.Kind
	CreatedBy   string
	Recipient   Contact
	TotalItems  int
	CompletedAt time.Time
}

// Notifier delivers completion notices. Implementations must not be
// called while any store lock is held.
type Notifier interface {
	NotifyCompletion(ctx context.Context, notice CompletionNotice) error
}
