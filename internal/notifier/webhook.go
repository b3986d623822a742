package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/robotline/claim-engine/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPContactDirectory resolves owner contacts from the directory
// collaborator: GET {base}/contacts/{userId} -> {"email": ..., "name": ...}.
type HTTPContactDirectory struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPContactDirectory(baseURL string) (*HTTPContactDirectory, error) {
	client := resty.New()
	client.SetTimeout(defaultHTTPTimeout)
	client.SetRetryCount(0)
	return NewHTTPContactDirectoryWithClient(baseURL, client)
}

func NewHTTPContactDirectoryWithClient(baseURL string, client *resty.Client) (*HTTPContactDirectory, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("contact directory url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid contact directory url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	return &HTTPContactDirectory{client: client, baseURL: trimmed}, nil
}

type contactResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (d *HTTPContactDirectory) Resolve(ctx context.Context, userID string) (Contact, error) {
	trimmedID := strings.TrimSpace(userID)
	if trimmedID == "" {
		return Contact{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	response, err := d.client.R().
		SetContext(ctx).
		Get(d.baseURL + "/contacts/" + url.PathEscape(trimmedID))
	if err != nil {
		return Contact{}, fmt.Errorf("%w: contact lookup failed: %v", domain.ErrNotification, err)
	}

	switch {
	case response.StatusCode() == http.StatusNotFound:
		return Contact{}, fmt.Errorf("%w: no contact for user %q", domain.ErrNotFound, trimmedID)
	case response.StatusCode() != http.StatusOK:
		return Contact{}, fmt.Errorf("%w: contact directory returned status %d", domain.ErrNotification, response.StatusCode())
	}

	var parsed contactResponse
	if err := json.Unmarshal(response.Body(), &parsed); err != nil {
		return Contact{}, fmt.Errorf("%w: malformed contact response: %v", domain.ErrNotification, err)
	}
	if strings.TrimSpace(parsed.Email) == "" {
		return Contact{}, fmt.Errorf("%w: contact for user %q has no email", domain.ErrNotFound, trimmedID)
	}

	return Contact{Email: parsed.Email, Name: parsed.Name}, nil
}

type completionRequest struct {
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	BatchID    string `json:"batchId"`
	Kind       string `json:"kind"`
	TotalItems int    `json:"totalItems"`
}

// WebhookNotifier posts completion notices to the notification gateway
// collaborator (mail/SMS fan-out happens on the far side).
type WebhookNotifier struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookNotifier(endpoint string) (*WebhookNotifier, error) {
	client := resty.New()
	client.SetTimeout(defaultHTTPTimeout)
	client.SetRetryCount(0)
	return NewWebhookNotifierWithClient(endpoint, client)
}

func NewWebhookNotifierWithClient(endpoint string, client *resty.Client) (*WebhookNotifier, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("notification webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid notification webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	return &WebhookNotifier{client: client, endpoint: trimmed}, nil
}

func (n *WebhookNotifier) NotifyCompletion(ctx context.Context, notice CompletionNotice) error {
	if strings.TrimSpace(notice.Recipient.Email) == "" {
		return fmt.Errorf("%w: recipient email is required", domain.ErrValidation)
	}

	req := completionRequest{
		To:         notice.Recipient.Email,
		Subject:    fmt.Sprintf("Proceso %s finalizado", notice.Kind),
		Body:       fmt.Sprintf("El lote %s finalizó: %d registros procesados.", notice.BatchID, notice.TotalItems),
		BatchID:    notice.BatchID,
		Kind:       notice.Kind.String(),
		TotalItems: notice.TotalItems,
	}

	response, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("%w: webhook request failed: %v", domain.ErrNotification, err)
	}

	status := response.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: webhook returned status %d", domain.ErrNotification, status)
	}

	return nil
}
