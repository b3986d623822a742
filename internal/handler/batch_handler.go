package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/robotline/claim-engine/internal/domain"
	"github.com/robotline/claim-engine/internal/export"
	"github.com/robotline/claim-engine/internal/observability"
	"github.com/robotline/claim-engine/internal/ratelimit"
	"github.com/robotline/claim-engine/internal/repository"
	"github.com/robotline/claim-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 200
)

type BatchService interface {
	Create(ctx context.Context, kind domain.Kind, createdBy string, rows []domain.ItemInput) (*domain.Batch, int, error)
	Pause(ctx context.Context, batchID string) (*domain.Batch, error)
	Resume(ctx context.Context, batchID string) (*domain.Batch, error)
	Get(ctx context.Context, batchID string) (*service.BatchOverview, error)
	List(ctx context.Context, params repository.BatchListParams) ([]service.BatchOverview, int64, error)
	ListItems(ctx context.Context, batchID string, params repository.ItemListParams) ([]domain.WorkItem, int64, error)
	ExportData(ctx context.Context, batchID string) (*domain.Batch, []domain.WorkItem, error)
}

type ClaimService interface {
	ClaimNext(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error)
}

type ReconcileService interface {
	SubmitResult(ctx context.Context, sub domain.ResultSubmission) (*domain.WorkItem, service.ReconcileOutcome, error)
}

type NotifyService interface {
	CheckAndNotify(ctx context.Context, batchID string) (bool, error)
}

type BatchHandler struct {
	batches   BatchService
	claims    ClaimService
	reconcile ReconcileService
	notify    NotifyService
	limiter   ratelimit.ClaimLimiter
	metrics   *observability.Metrics
}

func NewBatchHandler(
	batches BatchService,
	claims ClaimService,
	reconcile ReconcileService,
	notify NotifyService,
	limiter ratelimit.ClaimLimiter,
	metrics *observability.Metrics,
) (*BatchHandler, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if claims == nil {
		return nil, fmt.Errorf("claim service is required")
	}
	if reconcile == nil {
		return nil, fmt.Errorf("reconcile service is required")
	}
	if notify == nil {
		return nil, fmt.Errorf("notify service is required")
	}

	return &BatchHandler{
		batches:   batches,
		claims:    claims,
		reconcile: reconcile,
		notify:    notify,
		limiter:   limiter,
		metrics:   metrics,
	}, nil
}

func RegisterBatchRoutes(
	router fiber.Router,
	batches BatchService,
	claims ClaimService,
	reconcile ReconcileService,
	notify NotifyService,
	limiter ratelimit.ClaimLimiter,
	metrics *observability.Metrics,
) error {
	h, err := NewBatchHandler(batches, claims, reconcile, notify, limiter, metrics)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches", h.ListBatches)
	// The literal "results" segment must register before ":id" routes so
	// fiber does not treat it as a batch id.
	v1.Post("/batches/results", h.SubmitResult)
	v1.Get("/batches/:kind/next-claim", h.NextClaim)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Post("/batches/:id/pause", h.PauseBatch)
	v1.Post("/batches/:id/resume", h.ResumeBatch)
	v1.Post("/batches/:id/notify", h.NotifyBatch)
	v1.Get("/batches/:id/items", h.ListItems)
	v1.Get("/batches/:id/export", h.ExportBatch)

	return nil
}

type createItemRequest struct {
	BusinessKey string            `json:"businessKey"`
	Payload     map[string]string `json:"payload"`
}

type createBatchRequest struct {
	Kind      string              `json:"kind"`
	CreatedBy string              `json:"createdBy"`
	Items     []createItemRequest `json:"items"`
}

type createBatchResponse struct {
	BatchID     string `json:"batchId"`
	Kind        string `json:"kind"`
	TotalItems  int    `json:"totalItems"`
	DroppedRows int    `json:"droppedRows,omitempty"`
}

type claimResponse struct {
	ItemID      string            `json:"itemId"`
	BatchID     string            `json:"batchId"`
	BusinessKey string            `json:"businessKey"`
	Payload     map[string]string `json:"payload"`
}

type submitResultRequest struct {
	Kind        string            `json:"kind"`
	ItemID      string            `json:"itemId"`
	BusinessKey string            `json:"businessKey"`
	Result      map[string]string `json:"result"`
}

type submitResultResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
	ItemID  string `json:"itemId"`
	BatchID string `json:"batchId"`
}

type batchResponse struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	CreatedBy      string     `json:"createdBy"`
	TotalItems     int        `json:"totalItems"`
	Status         string     `json:"status"`
	Label          string     `json:"label"`
	Progress       int        `json:"progress"`
	Pending        int        `json:"pending"`
	Claimed        int        `json:"claimed"`
	Filled         int        `json:"filled"`
	NotifiedAt     *time.Time `json:"notifiedAt,omitempty"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type itemResponse struct {
	ID            string            `json:"id"`
	Seq           int64             `json:"seq"`
	BusinessKey   string            `json:"businessKey"`
	Payload       map[string]string `json:"payload,omitempty"`
	Result        map[string]string `json:"result,omitempty"`
	State         string            `json:"state"`
	Supplementary bool              `json:"supplementary,omitempty"`
	ClaimedAt     *time.Time        `json:"claimedAt,omitempty"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type listBatchesResponse struct {
	Data []batchResponse `json:"data"`
	Meta listMeta        `json:"meta"`
}

type listItemsResponse struct {
	Data []itemResponse `json:"data"`
	Meta listMeta       `json:"meta"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	kind, err := domain.ParseKindFromString(req.Kind)
	if err != nil {
		return toHTTPError(err)
	}

	rows := make([]domain.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		rows = append(rows, domain.ItemInput{
			BusinessKey: item.BusinessKey,
			Payload:     item.Payload,
		})
	}

	batch, dropped, err := h.batches.Create(c.Context(), kind, req.CreatedBy, rows)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createBatchResponse{
		BatchID:     batch.ID,
		Kind:        batch.Kind.String(),
		TotalItems:  batch.TotalItems,
		DroppedRows: dropped,
	})
}

func (h *BatchHandler) NextClaim(c *fiber.Ctx) error {
	kind, err := domain.ParseKindFromString(c.Params("kind"))
	if err != nil {
		return toHTTPError(err)
	}

	if h.limiter != nil {
		allowed, limitErr := h.limiter.Allow(c.Context(), kind.String())
		if limitErr != nil {
			return limitErr
		}
		if !allowed {
			h.metrics.IncClaimRateLimited(kind.String())
			return fiber.NewError(fiber.StatusTooManyRequests, "claim rate limit exceeded, retry later")
		}
	}

	item, err := h.claims.ClaimNext(c.Context(), kind)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(claimResponse{
		ItemID:      item.ID,
		BatchID:     item.BatchID,
		BusinessKey: item.BusinessKey,
		Payload:     item.Payload,
	})
}

func (h *BatchHandler) SubmitResult(c *fiber.Ctx) error {
	var req submitResultRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	kind, err := domain.ParseKindFromString(req.Kind)
	if err != nil {
		return toHTTPError(err)
	}

	item, outcome, err := h.reconcile.SubmitResult(c.Context(), domain.ResultSubmission{
		Kind:        kind,
		ItemID:      req.ItemID,
		BusinessKey: req.BusinessKey,
		Fields:      req.Result,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(submitResultResponse{
		Success: true,
		Outcome: string(outcome),
		ItemID:  item.ID,
		BatchID: item.BatchID,
	})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	overview, err := h.batches.Get(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(overview))
}

func (h *BatchHandler) PauseBatch(c *fiber.Ctx) error {
	if _, err := h.batches.Pause(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "status": domain.BatchStatusPaused.String()})
}

func (h *BatchHandler) ResumeBatch(c *fiber.Ctx) error {
	if _, err := h.batches.Resume(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "status": domain.BatchStatusRunning.String()})
}

// NotifyBatch answers success only when this call delivered the notice; a
// no-op (incomplete batch, already notified) is success:false.
func (h *BatchHandler) NotifyBatch(c *fiber.Ctx) error {
	sent, err := h.notify.CheckAndNotify(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": sent})
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	params, err := parseBatchListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	overviews, total, err := h.batches.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchResponse, 0, len(overviews))
	for i := range overviews {
		data = append(data, toBatchResponse(&overviews[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{
		Data: data,
		Meta: listMeta{Page: params.Page, PageSize: params.PageSize, Total: total},
	})
}

func (h *BatchHandler) ListItems(c *fiber.Ctx) error {
	params, err := parseItemListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	items, total, err := h.batches.ListItems(c.Context(), c.Params("id"), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]itemResponse, 0, len(items))
	for i := range items {
		data = append(data, toItemResponse(&items[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listItemsResponse{
		Data: data,
		Meta: listMeta{Page: params.Page, PageSize: params.PageSize, Total: total},
	})
}

func (h *BatchHandler) ExportBatch(c *fiber.Ctx) error {
	batch, items, err := h.batches.ExportData(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	buf, err := export.Workbook(batch, items)
	if err != nil {
		return toHTTPError(err)
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", export.Filename(batch)))
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}

func parseBatchListParams(c *fiber.Ctx) (repository.BatchListParams, error) {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return repository.BatchListParams{}, err
	}

	params := repository.BatchListParams{
		CreatedBy: strings.TrimSpace(c.Query("createdBy")),
		Page:      page,
		PageSize:  pageSize,
	}

	if rawKind := strings.TrimSpace(c.Query("kind")); rawKind != "" {
		kind, err := domain.ParseKindFromString(rawKind)
		if err != nil {
			return repository.BatchListParams{}, err
		}
		params.Kind = &kind
	}

	return params, nil
}

func parseItemListParams(c *fiber.Ctx) (repository.ItemListParams, error) {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return repository.ItemListParams{}, err
	}

	params := repository.ItemListParams{
		BusinessKey: strings.TrimSpace(c.Query("businessKey")),
		Page:        page,
		PageSize:    pageSize,
	}

	if rawState := strings.TrimSpace(c.Query("state")); rawState != "" {
		state, err := domain.ParseItemStateFromString(rawState)
		if err != nil {
			return repository.ItemListParams{}, err
		}
		params.State = &state
	}

	return params, nil
}

func parsePagination(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return page, pageSize, nil
}

func toBatchResponse(overview *service.BatchOverview) batchResponse {
	b := overview.Batch
	return batchResponse{
		ID:             b.ID,
		Kind:           b.Kind.String(),
		CreatedBy:      b.CreatedBy,
		TotalItems:     b.TotalItems,
		Status:         b.Status.String(),
		Label:          overview.Label,
		Progress:       overview.Progress,
		Pending:        overview.Counts.Pending,
		Claimed:        overview.Counts.Claimed,
		Filled:         overview.Counts.Filled,
		NotifiedAt:     b.NotifiedAt,
		LastActivityAt: b.LastActivityAt,
		CreatedAt:      b.CreatedAt,
	}
}

func toItemResponse(item *domain.WorkItem) itemResponse {
	return itemResponse{
		ID:            item.ID,
		Seq:           item.Seq,
		BusinessKey:   item.BusinessKey,
		Payload:       item.Payload,
		Result:        item.Result,
		State:         item.State.String(),
		Supplementary: item.Supplementary,
		ClaimedAt:     item.ClaimedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotification):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}
