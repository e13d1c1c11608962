package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kb-platform-console/internal/models"
	"kb-platform-console/pkg/sse"

	"github.com/rs/zerolog"
)

// Client talks to the knowledge-base HTTP API. It has no overall
// http.Client timeout because query streams may legitimately run long;
// short calls are bounded by requestTimeout instead.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	token          string
	logger         zerolog.Logger
}

func NewClient(baseURL string, requestTimeout time.Duration, logger zerolog.Logger) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// SetToken makes every request carry "Authorization: Bearer <token>".
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// Query posts a question and returns the raw, still-open response. The
// caller owns resp.Body. Content negotiation decides whether the body is
// a single JSON document or an event stream.
func (c *Client) Query(ctx context.Context, req models.QueryRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, &QueryError{Kind: QueryUnknownError, Message: "failed to encode query", Err: err}
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/query", bytes.NewReader(jsonData))
	if err != nil {
		return nil, &QueryError{Kind: QueryUnknownError, Message: "failed to build query request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", sse.ContentType+", application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &QueryError{Kind: QueryNetworkError, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, &QueryError{Kind: QueryAPIError, StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}

	return resp, nil
}

// FetchStatus reads the ingestion status of a background job.
func (c *Client) FetchStatus(ctx context.Context, ingestionID string) (*models.IngestionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/ingestion/status/"+url.PathEscape(ingestionID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed with status %d: %s", resp.StatusCode, errorMessage(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	obj, err := models.ParseRawObject(body)
	if err != nil {
		return nil, fmt.Errorf("malformed status response: %w", err)
	}

	return &models.IngestionStatus{
		Status:       strings.ToLower(obj.String("status")),
		DocumentID:   obj.String("document_id", "documentId"),
		ErrorMessage: obj.String("error_message", "errorMessage", "message"),
	}, nil
}

// SendFeedback posts a rating for an assistant message. Failures are
// logged and returned; callers normally ignore them.
func (c *Client) SendFeedback(ctx context.Context, req models.FeedbackRequest) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	jsonData, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/feedback", bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Str("message_id", req.MessageID).Msg("Failed to send feedback")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("feedback failed with status %d: %s", resp.StatusCode, errorMessage(resp))
		c.logger.Warn().Err(err).Str("message_id", req.MessageID).Msg("Failed to send feedback")
		return err
	}

	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}

	var health models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return err
	}
	if health.Status != "" && health.Status != "healthy" {
		return errors.New("backend reports status " + health.Status)
	}

	return nil
}
