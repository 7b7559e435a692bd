// Package remote is the client for the hosted processing API: named object
// creation, prompt application, retrieval and deletion.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
)

const maxErrorBody = 512

// ObjectClient is the contract the extraction flow needs from the processing API.
type ObjectClient interface {
	CreateObject(ctx context.Context, req CreateObjectRequest) (*Ack, error)
	ApplyPrompt(ctx context.Context, req ApplyPromptRequest) (*Ack, error)
	FetchObject(ctx context.Context, name ObjectRef) (*ObjectValue, error)
	DeleteObject(ctx context.Context, name ObjectRef) (*Ack, error)
}

// ClientConfig configures an HTTP Client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration // 0 means no per-request timeout
	HTTPClient *http.Client
	Logger     *observability.Logger
}

// Client talks to the processing API over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *observability.Logger
}

var _ ObjectClient = (*Client)(nil)

// NewClient creates a Client. The token is required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("remote: API token is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger.WithOperation("remote"),
	}, nil
}

// CreateObject registers a named input object from string data.
func (c *Client) CreateObject(ctx context.Context, req CreateObjectRequest) (*Ack, error) {
	body, err := c.do(ctx, "create", http.MethodPost, RouteInputData, req)
	if err != nil {
		return nil, err
	}
	return parseAck("create", body)
}

// ApplyPrompt asks the service to derive new named objects from existing ones.
func (c *Client) ApplyPrompt(ctx context.Context, req ApplyPromptRequest) (*Ack, error) {
	body, err := c.do(ctx, "transform", http.MethodPost, RouteApplyPrompt, req)
	if err != nil {
		return nil, err
	}
	return parseAck("transform", body)
}

// FetchObject retrieves the text value of a named object.
func (c *Client) FetchObject(ctx context.Context, name ObjectRef) (*ObjectValue, error) {
	body, err := c.do(ctx, "fetch", http.MethodGet, ReturnDataPath(name), nil)
	if err != nil {
		return nil, err
	}
	return parseObjectValue("fetch", body)
}

// DeleteObject removes a named object.
func (c *Client) DeleteObject(ctx context.Context, name ObjectRef) (*Ack, error) {
	body, err := c.do(ctx, "delete", http.MethodDelete, ObjectPath(name), nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &Ack{Raw: json.RawMessage(`{}`)}, nil
	}
	return parseAck("delete", body)
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("remote: marshal %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, NetworkError(op, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("req_id", requestID).
		Str("method", method).
		Str("path", path).
		Msg("remote request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NetworkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NetworkError(op, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug().
		Str("req_id", requestID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("remote response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		snippet = truncate(snippet, maxErrorBody)
		return nil, RejectedError(op, resp.StatusCode, snippet)
	}

	return body, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
