package service

import (
	"context"
	"time"

	"github.com/robotline/claim-engine/internal/domain"
	"github.com/robotline/claim-engine/internal/events"
	"github.com/robotline/claim-engine/internal/notifier"
	"github.com/robotline/claim-engine/internal/repository"
)

// The fakes must keep tracking the interfaces the services consume.
var (
	_ repository.BatchRepository    = (*fakeBatchRepo)(nil)
	_ repository.WorkItemRepository = (*fakeWorkItemRepo)(nil)
	_ events.Publisher              = (*fakeEventPublisher)(nil)
	_ notifier.ContactResolver      = (*fakeContactResolver)(nil)
	_ notifier.Notifier             = (*fakeNotifier)(nil)
	_ CompletionChecker             = (*fakeCompletionChecker)(nil)
)

type fakeBatchRepo struct {
	createWithItemsFn func(ctx context.Context, b *domain.Batch, items []domain.WorkItem) error
	getByIDFn         func(ctx context.Context, id string) (*domain.Batch, error)
	latestByKindFn    func(ctx context.Context, kind domain.Kind) (*domain.Batch, error)
	updateStatusFn    func(ctx context.Context, id string, status domain.BatchStatus) error
	markNotifiedFn    func(ctx context.Context, id string, at time.Time) (bool, error)
	clearNotifiedFn   func(ctx context.Context, id string) error
	touchActivityFn   func(ctx context.Context, id string, at time.Time) error
	listFn            func(ctx context.Context, params repository.BatchListParams) ([]domain.Batch, int64, error)
	countsForFn       func(ctx context.Context, batchIDs []string) (map[string]domain.StateCounts, error)
}

func (f *fakeBatchRepo) CreateWithItems(ctx context.Context, b *domain.Batch, items []domain.WorkItem) error {
	if f.createWithItemsFn != nil {
		return f.createWithItemsFn(ctx, b, items)
	}
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) LatestByKind(ctx context.Context, kind domain.Kind) (*domain.Batch, error) {
	if f.latestByKindFn != nil {
		return f.latestByKindFn(ctx, kind)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeBatchRepo) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	if f.markNotifiedFn != nil {
		return f.markNotifiedFn(ctx, id, at)
	}
	return true, nil
}

func (f *fakeBatchRepo) ClearNotified(ctx context.Context, id string) error {
	if f.clearNotifiedFn != nil {
		return f.clearNotifiedFn(ctx, id)
	}
	return nil
}

func (f *fakeBatchRepo) TouchActivity(ctx context.Context, id string, at time.Time) error {
	if f.touchActivityFn != nil {
		return f.touchActivityFn(ctx, id, at)
	}
	return nil
}

func (f *fakeBatchRepo) List(ctx context.Context, params repository.BatchListParams) ([]domain.Batch, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeBatchRepo) CountsFor(ctx context.Context, batchIDs []string) (map[string]domain.StateCounts, error) {
	if f.countsForFn != nil {
		return f.countsForFn(ctx, batchIDs)
	}
	return map[string]domain.StateCounts{}, nil
}

type fakeWorkItemRepo struct {
	claimNextFn           func(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error)
	getByIDFn             func(ctx context.Context, id string) (*domain.WorkItem, error)
	fillByIDFn            func(ctx context.Context, id string, result map[string]string) (*domain.WorkItem, error)
	fillFirstClaimedFn    func(ctx context.Context, batchID string, businessKey string, result map[string]string) (*domain.WorkItem, error)
	findFilledByKeyFn     func(ctx context.Context, batchID string, businessKey string) ([]domain.WorkItem, error)
	insertSupplementaryFn func(ctx context.Context, item *domain.WorkItem) error
	listFn                func(ctx context.Context, batchID string, params repository.ItemListParams) ([]domain.WorkItem, int64, error)
	listAllFn             func(ctx context.Context, batchID string) ([]domain.WorkItem, error)
	countByStateFn        func(ctx context.Context, batchID string) (domain.StateCounts, error)
	requeueExpiredFn      func(ctx context.Context, claimedBefore time.Time) (int64, error)
}

func (f *fakeWorkItemRepo) ClaimNext(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error) {
	if f.claimNextFn != nil {
		return f.claimNextFn(ctx, kind)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeWorkItemRepo) GetByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeWorkItemRepo) FillByID(ctx context.Context, id string, result map[string]string) (*domain.WorkItem, error) {
	if f.fillByIDFn != nil {
		return f.fillByIDFn(ctx, id, result)
	}
	return nil, domain.ErrConflict
}

func (f *fakeWorkItemRepo) FillFirstClaimed(ctx context.Context, batchID string, businessKey string, result map[string]string) (*domain.WorkItem, error) {
	if f.fillFirstClaimedFn != nil {
		return f.fillFirstClaimedFn(ctx, batchID, businessKey, result)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeWorkItemRepo) FindFilledByKey(ctx context.Context, batchID string, businessKey string) ([]domain.WorkItem, error) {
	if f.findFilledByKeyFn != nil {
		return f.findFilledByKeyFn(ctx, batchID, businessKey)
	}
	return nil, nil
}

func (f *fakeWorkItemRepo) InsertSupplementary(ctx context.Context, item *domain.WorkItem) error {
	if f.insertSupplementaryFn != nil {
		return f.insertSupplementaryFn(ctx, item)
	}
	return nil
}

func (f *fakeWorkItemRepo) List(ctx context.Context, batchID string, params repository.ItemListParams) ([]domain.WorkItem, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, batchID, params)
	}
	return nil, 0, nil
}

func (f *fakeWorkItemRepo) ListAll(ctx context.Context, batchID string) ([]domain.WorkItem, error) {
	if f.listAllFn != nil {
		return f.listAllFn(ctx, batchID)
	}
	return nil, nil
}

func (f *fakeWorkItemRepo) CountByState(ctx context.Context, batchID string) (domain.StateCounts, error) {
	if f.countByStateFn != nil {
		return f.countByStateFn(ctx, batchID)
	}
	return domain.StateCounts{}, nil
}

func (f *fakeWorkItemRepo) RequeueExpired(ctx context.Context, claimedBefore time.Time) (int64, error) {
	if f.requeueExpiredFn != nil {
		return f.requeueExpiredFn(ctx, claimedBefore)
	}
	return 0, nil
}

type fakeEventPublisher struct {
	publishFn func(ctx context.Context, event events.BatchEvent) error
	published []events.BatchEvent
}

func (f *fakeEventPublisher) Publish(ctx context.Context, event events.BatchEvent) error {
	f.published = append(f.published, event)
	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

type fakeContactResolver struct {
	resolveFn func(ctx context.Context, userID string) (notifier.Contact, error)
}

func (f *fakeContactResolver) Resolve(ctx context.Context, userID string) (notifier.Contact, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, userID)
	}
	return notifier.Contact{Email: "owner@example.com"}, nil
}

type fakeNotifier struct {
	notifyFn func(ctx context.Context, notice notifier.CompletionNotice) error
	notices  []notifier.CompletionNotice
}

func (f *fakeNotifier) NotifyCompletion(ctx context.Context, notice notifier.CompletionNotice) error {
	f.notices = append(f.notices, notice)
	if f.notifyFn != nil {
		return f.notifyFn(ctx, notice)
	}
	return nil
}

type fakeCompletionChecker struct {
	checkFn func(ctx context.Context, batchID string) (bool, error)
	calls   []string
}

func (f *fakeCompletionChecker) CheckAndNotify(ctx context.Context, batchID string) (bool, error) {
	f.calls = append(f.calls, batchID)
	if f.checkFn != nil {
		return f.checkFn(ctx, batchID)
	}
	return true, nil
}
