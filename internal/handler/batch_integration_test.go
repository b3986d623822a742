package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/robotline/claim-engine/internal/domain"
	"github.com/robotline/claim-engine/internal/repository"
	"github.com/robotline/claim-engine/internal/service"
	"github.com/robotline/claim-engine/internal/transport"
	"go.uber.org/zap"
)

func TestBatchIntegration_CreateBatch(t *testing.T) {
	t.Parallel()

	stub := &stubBatchService{
		createFn: func(ctx context.Context, kind domain.Kind, createdBy string, rows []domain.ItemInput) (*domain.Batch, int, error) {
			if kind != domain.KindLegalRegistry {
				t.Fatalf("kind = %s, want LEGAL_REGISTRY", kind)
			}
			if createdBy != "user-7" {
				t.Fatalf("createdBy = %q, want user-7", createdBy)
			}
			if len(rows) != 2 {
				t.Fatalf("rows = %d, want 2", len(rows))
			}
			return &domain.Batch{ID: "b-1", Kind: kind, CreatedBy: createdBy, TotalItems: 2, Status: domain.BatchStatusRunning}, 0, nil
		},
	}

	app := newBatchTestApp(t, stub, &stubClaimService{}, &stubReconcileService{}, &stubNotifyService{}, nil)

	body := `{"kind":"legal_registry","createdBy":"user-7","items":[{"businessKey":"2023-00123","payload":{"ciudad":"Bogotá"}},{"businessKey":"2023-00456"}]}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/batches", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["batchId"] != "b-1" {
		t.Fatalf("batchId = %v, want b-1", parsed["batchId"])
	}
	if parsed["totalItems"] != float64(2) {
		t.Fatalf("totalItems = %v, want 2", parsed["totalItems"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches", `{"kind":"OCR","createdBy":"u","items":[]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown kind", resp.StatusCode)
	}
}

func TestBatchIntegration_NextClaim(t *testing.T) {
	t.Parallel()

	claims := &stubClaimService{
		claimNextFn: func(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error) {
			if kind == domain.KindWhatsApp {
				return &domain.WorkItem{
					ID:          "wi-1",
					BatchID:     "b-1",
					BusinessKey: "573001112233",
					Payload:     map[string]string{"mensaje": "recordatorio"},
					State:       domain.ItemStateClaimed,
				}, nil
			}
			return nil, domain.ErrNotFound
		},
	}

	app := newBatchTestApp(t, &stubBatchService{}, claims, &stubReconcileService{}, &stubNotifyService{}, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/whatsapp/next-claim", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["itemId"] != "wi-1" {
		t.Fatalf("itemId = %v, want wi-1", parsed["itemId"])
	}
	if parsed["businessKey"] != "573001112233" {
		t.Fatalf("businessKey = %v", parsed["businessKey"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/legal_registry/next-claim", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 when no work", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/ocr/next-claim", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown kind", resp.StatusCode)
	}
}

func TestBatchIntegration_NextClaimRateLimited(t *testing.T) {
	t.Parallel()

	limiter := &stubLimiter{allowed: false}
	claimCalled := false
	claims := &stubClaimService{
		claimNextFn: func(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error) {
			claimCalled = true
			return nil, domain.ErrNotFound
		},
	}

	app := newBatchTestApp(t, &stubBatchService{}, claims, &stubReconcileService{}, &stubNotifyService{}, limiter)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/batches/whatsapp/next-claim", "")
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if claimCalled {
		t.Fatal("over-limit poll must not reach the claim service")
	}
}

func TestBatchIntegration_SubmitResult(t *testing.T) {
	t.Parallel()

	stub := &stubReconcileService{
		submitFn: func(ctx context.Context, sub domain.ResultSubmission) (*domain.WorkItem, service.ReconcileOutcome, error) {
			if sub.Kind != domain.KindWhatsApp {
				t.Fatalf("kind = %s, want WHATSAPP", sub.Kind)
			}
			if sub.ItemID != "wi-1" {
				t.Fatalf("itemId = %q, want wi-1", sub.ItemID)
			}
			return &domain.WorkItem{ID: "wi-1", BatchID: "b-1", State: domain.ItemStateFilled, Result: sub.Fields},
				service.OutcomeFilled, nil
		},
	}

	app := newBatchTestApp(t, &stubBatchService{}, &stubClaimService{}, stub, &stubNotifyService{}, nil)

	body := `{"kind":"whatsapp","itemId":"wi-1","result":{"estado_envio":"ENTREGADO"}}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/batches/results", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["success"] != true {
		t.Fatalf("success = %v, want true", parsed["success"])
	}
	if parsed["outcome"] != "filled" {
		t.Fatalf("outcome = %v, want filled", parsed["outcome"])
	}
}

func TestBatchIntegration_SubmitResultMissingBatch(t *testing.T) {
	t.Parallel()

	stub := &stubReconcileService{
		submitFn: func(ctx context.Context, sub domain.ResultSubmission) (*domain.WorkItem, service.ReconcileOutcome, error) {
			return nil, "", domain.ErrNotFound
		},
	}

	app := newBatchTestApp(t, &stubBatchService{}, &stubClaimService{}, stub, &stubNotifyService{}, nil)

	body := `{"kind":"whatsapp","businessKey":"573001112233","result":{"estado_envio":"ENTREGADO"}}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/batches/results", body)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBatchIntegration_PauseResumeNotify(t *testing.T) {
	t.Parallel()

	stub := &stubBatchService{
		pauseFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			if id != "b-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Batch{ID: id, Status: domain.BatchStatusPaused}, nil
		},
		resumeFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			return &domain.Batch{ID: id, Status: domain.BatchStatusRunning}, nil
		},
	}
	notify := &stubNotifyService{}

	app := newBatchTestApp(t, stub, &stubClaimService{}, &stubReconcileService{}, notify, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/b-1/pause", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("pause status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/ghost/pause", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("pause ghost status = %d, want 404", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/b-1/resume", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("resume status = %d, want 200", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/batches/b-1/notify", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("notify status = %d, want 200", resp.StatusCode)
	}
	if len(notify.calls) != 1 || notify.calls[0] != "b-1" {
		t.Fatalf("notify calls = %v, want [b-1]", notify.calls)
	}
	var sentResp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &sentResp); err != nil {
		t.Fatalf("notify response decode error = %v", err)
	}
	if !sentResp.Success {
		t.Fatal("notify success = false, want true after a delivered notice")
	}
}

func TestBatchIntegration_NotifyNoOpReportsFalse(t *testing.T) {
	t.Parallel()

	// The service skips the send when the batch is incomplete or already
	// notified; the endpoint has to surface that as success:false.
	notify := &stubNotifyService{
		checkFn: func(ctx context.Context, batchID string) (bool, error) {
			return false, nil
		},
	}

	app := newBatchTestApp(t, &stubBatchService{}, &stubClaimService{}, &stubReconcileService{}, notify, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/b-1/notify", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("notify status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var sentResp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &sentResp); err != nil {
		t.Fatalf("notify response decode error = %v", err)
	}
	if sentResp.Success {
		t.Fatal("notify success = true, want false for a no-op check")
	}
}

func TestBatchIntegration_ListBatches(t *testing.T) {
	t.Parallel()

	stub := &stubBatchService{
		listFn: func(ctx context.Context, params repository.BatchListParams) ([]service.BatchOverview, int64, error) {
			if params.Page != 2 || params.PageSize != 10 {
				t.Fatalf("pagination = %d/%d, want 2/10", params.Page, params.PageSize)
			}
			if params.Kind == nil || *params.Kind != domain.KindHealthInsurer {
				t.Fatalf("kind filter = %v, want HEALTH_INSURER", params.Kind)
			}
			batch := domain.Batch{ID: "b-1", Kind: domain.KindHealthInsurer, CreatedBy: "u", TotalItems: 3, Status: domain.BatchStatusRunning}
			return []service.BatchOverview{{
				Batch:    batch,
				Counts:   domain.StateCounts{Pending: 1, Filled: 2},
				Label:    batch.StatusLabel(2),
				Progress: batch.ProgressPercent(2),
			}}, 1, nil
		},
	}

	app := newBatchTestApp(t, stub, &stubClaimService{}, &stubReconcileService{}, &stubNotifyService{}, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches?page=2&pageSize=10&kind=health_insurer", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total int64 `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Meta.Total != 1 || len(parsed.Data) != 1 {
		t.Fatalf("parsed = %+v, want one batch", parsed)
	}
	if parsed.Data[0]["label"] != "En progreso (66%)" {
		t.Fatalf("label = %v, want En progreso (66%%)", parsed.Data[0]["label"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches?pageSize=9999", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized page", resp.StatusCode)
	}
}

func TestBatchIntegration_ListItems(t *testing.T) {
	t.Parallel()

	stub := &stubBatchService{
		listItemsFn: func(ctx context.Context, batchID string, params repository.ItemListParams) ([]domain.WorkItem, int64, error) {
			if batchID != "b-1" {
				return nil, 0, domain.ErrNotFound
			}
			if params.State == nil || *params.State != domain.ItemStateFilled {
				t.Fatalf("state filter = %v, want FILLED", params.State)
			}
			return []domain.WorkItem{
				{ID: "wi-1", Seq: 1, BusinessKey: "k-1", State: domain.ItemStateFilled, Result: map[string]string{"estado_envio": "ENTREGADO"}},
			}, 1, nil
		},
	}

	app := newBatchTestApp(t, stub, &stubClaimService{}, &stubReconcileService{}, &stubNotifyService{}, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/b-1/items?state=filled", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/ghost/items?state=filled", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBatchIntegration_Export(t *testing.T) {
	t.Parallel()

	stub := &stubBatchService{
		exportDataFn: func(ctx context.Context, batchID string) (*domain.Batch, []domain.WorkItem, error) {
			batch := &domain.Batch{ID: batchID, Kind: domain.KindWhatsApp, CreatedBy: "u", TotalItems: 1, Status: domain.BatchStatusRunning}
			if batchID == "empty" {
				return batch, nil, nil
			}
			return batch, []domain.WorkItem{
				{Seq: 1, BusinessKey: "573001112233", State: domain.ItemStateFilled, Result: map[string]string{"estado_envio": "ENTREGADO"}},
			}, nil
		},
	}

	app := newBatchTestApp(t, stub, &stubClaimService{}, &stubReconcileService{}, &stubNotifyService{}, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/b-1/export", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("content type = %q", ct)
	}
	if len(body) == 0 {
		t.Fatal("export body should not be empty")
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/empty/export", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for empty batch", resp.StatusCode)
	}
}

type stubBatchService struct {
	createFn     func(ctx context.Context, kind domain.Kind, createdBy string, rows []domain.ItemInput) (*domain.Batch, int, error)
	pauseFn      func(ctx context.Context, batchID string) (*domain.Batch, error)
	resumeFn     func(ctx context.Context, batchID string) (*domain.Batch, error)
	getFn        func(ctx context.Context, batchID string) (*service.BatchOverview, error)
	listFn       func(ctx context.Context, params repository.BatchListParams) ([]service.BatchOverview, int64, error)
	listItemsFn  func(ctx context.Context, batchID string, params repository.ItemListParams) ([]domain.WorkItem, int64, error)
	exportDataFn func(ctx context.Context, batchID string) (*domain.Batch, []domain.WorkItem, error)
}

func (s *stubBatchService) Create(ctx context.Context, kind domain.Kind, createdBy string, rows []domain.ItemInput) (*domain.Batch, int, error) {
	if s.createFn != nil {
		return s.createFn(ctx, kind, createdBy, rows)
	}
	return nil, 0, domain.ErrValidation
}

func (s *stubBatchService) Pause(ctx context.Context, batchID string) (*domain.Batch, error) {
	if s.pauseFn != nil {
		return s.pauseFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) Resume(ctx context.Context, batchID string) (*domain.Batch, error) {
	if s.resumeFn != nil {
		return s.resumeFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) Get(ctx context.Context, batchID string) (*service.BatchOverview, error) {
	if s.getFn != nil {
		return s.getFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) List(ctx context.Context, params repository.BatchListParams) ([]service.BatchOverview, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubBatchService) ListItems(ctx context.Context, batchID string, params repository.ItemListParams) ([]domain.WorkItem, int64, error) {
	if s.listItemsFn != nil {
		return s.listItemsFn(ctx, batchID, params)
	}
	return nil, 0, domain.ErrNotFound
}

func (s *stubBatchService) ExportData(ctx context.Context, batchID string) (*domain.Batch, []domain.WorkItem, error) {
	if s.exportDataFn != nil {
		return s.exportDataFn(ctx, batchID)
	}
	return nil, nil, domain.ErrNotFound
}

type stubClaimService struct {
	claimNextFn func(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error)
}

func (s *stubClaimService) ClaimNext(ctx context.Context, kind domain.Kind) (*domain.WorkItem, error) {
	if s.claimNextFn != nil {
		return s.claimNextFn(ctx, kind)
	}
	return nil, domain.ErrNotFound
}

type stubReconcileService struct {
	submitFn func(ctx context.Context, sub domain.ResultSubmission) (*domain.WorkItem, service.ReconcileOutcome, error)
}

func (s *stubReconcileService) SubmitResult(ctx context.Context, sub domain.ResultSubmission) (*domain.WorkItem, service.ReconcileOutcome, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, sub)
	}
	return nil, "", domain.ErrNotFound
}

type stubNotifyService struct {
	checkFn func(ctx context.Context, batchID string) (bool, error)
	calls   []string
}

func (s *stubNotifyService) CheckAndNotify(ctx context.Context, batchID string) (bool, error) {
	s.calls = append(s.calls, batchID)
	if s.checkFn != nil {
		return s.checkFn(ctx, batchID)
	}
	return true, nil
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (s *stubLimiter) Allow(ctx context.Context, kind string) (bool, error) {
	return s.allowed, s.err
}

func newBatchTestApp(
	t *testing.T,
	batches BatchService,
	claims ClaimService,
	reconcile ReconcileService,
	notify NotifyService,
	limiter *stubLimiter,
) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	var err error
	if limiter != nil {
		err = RegisterBatchRoutes(app, batches, claims, reconcile, notify, limiter, nil)
	} else {
		err = RegisterBatchRoutes(app, batches, claims, reconcile, notify, nil, nil)
	}
	if err != nil {
		t.Fatalf("RegisterBatchRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
