package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItemState is the lifecycle of one work item. Transitions are strictly
// PENDING -> CLAIMED -> FILLED; the only reverse path is the lease sweeper
// returning an expired claim to PENDING.
type ItemState string

const (
	ItemStatePending ItemState = "PENDING"
	ItemStateClaimed ItemState = "CLAIMED"
	ItemStateFilled  ItemState = "FILLED"
)

func (s ItemState) String() string { return string(s) }

func (s ItemState) IsValid() bool {
	switch s {
	case ItemStatePending, ItemStateClaimed, ItemStateFilled:
		return true
	}
	return false
}

func ParseItemStateFromString(s string) (ItemState, error) {
	st := ItemState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid item state %q", ErrValidation, s)
	}
	return st, nil
}

// WorkItem is one row of work inside a batch. BusinessKey is the external
// correlation identifier the bot reports results under; it is not unique
// within a batch. Seq preserves creation order for deterministic
// reconciliation of duplicate keys. Supplementary marks rows inserted by
// the reconciler fallback; they never count toward batch progress.
type WorkItem struct {
	ID            string
	BatchID       string
	Seq           int64
	BusinessKey   string
	Payload       map[string]string
	Result        map[string]string
	State         ItemState
	Supplementary bool
	ClaimedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemInput is one row of an import before persistence.
type ItemInput struct {
	BusinessKey string
	Payload     map[string]string
}

// Normalize trims the business key; an empty key after trimming makes the
// row invalid and the intake filter drops it.
func (in *ItemInput) Normalize() {
	in.BusinessKey = strings.TrimSpace(in.BusinessKey)
}

func (in ItemInput) Valid() bool {
	return strings.TrimSpace(in.BusinessKey) != ""
}

// StateCounts is one consistent snapshot of item states for a batch,
// excluding supplementary rows.
type StateCounts struct {
	Pending int
	Claimed int
	Filled  int
}
