package forumapi

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
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout      = 15 * time.Second
	maxErrorBodyBytes   = 64 << 10
	maxSuccessBodyBytes = 8 << 20
)

var (
	// ErrConflict marks a request the server rejected on its merits (409, 403, 422).
	ErrConflict = errors.New("forumapi: request rejected")
	// ErrUnauthorized marks a missing or expired session (401).
	ErrUnauthorized = errors.New("forumapi: unauthorized")
	// ErrTransient marks transport failures, throttling and 5xx responses.
	ErrTransient = errors.New("forumapi: transient failure")
	// ErrRequestFailed marks every other unsuccessful response.
	ErrRequestFailed = errors.New("forumapi: request failed")

	errMissingBaseURL = errors.New("forumapi: base url is required")
)

// APIError describes a failed call. It unwraps to one of the package sentinels.
type APIError struct {
	Op      string
	Status  int
	Message string
	kind    error
	cause   error
}

func (e *APIError) Error() string {
	parts := []string{e.Op}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.cause != nil {
		parts = append(parts, e.cause.Error())
	}
	return fmt.Sprintf("%v: %s", e.kind, strings.Join(parts, ": "))
}

func (e *APIError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Config describes a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the forum REST API with the session bearer token.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("forumapi: parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		token:      strings.TrimSpace(cfg.Token),
	}, nil
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// endpoint joins an already escaped path onto the base URL.
func (c *Client) endpoint(rawPath string, query url.Values) string {
	target := *c.baseURL
	joined := strings.TrimRight(c.baseURL.EscapedPath(), "/") + rawPath
	if unescaped, err := url.PathUnescape(joined); err == nil {
		target.Path = unescaped
		target.RawPath = joined
	} else {
		target.Path = joined
		target.RawPath = ""
	}
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

// do sends one request and decodes the envelope's data into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &APIError{Op: op, kind: ErrRequestFailed, cause: err}
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return &APIError{Op: op, kind: ErrRequestFailed, cause: err}
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("forum api request failed",
			zap.String("operation", op),
			zap.String("reason", "transport"),
			zap.Error(err))
		return &APIError{Op: op, kind: ErrTransient, cause: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiErr := &APIError{
			Op:      op,
			Status:  response.StatusCode,
			Message: errorMessage(response.Body),
			kind:    classify(response.StatusCode),
		}
		c.logger.Debug("forum api request rejected",
			zap.String("operation", op),
			zap.Int("status", response.StatusCode),
			zap.String("message", apiErr.Message))
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxSuccessBodyBytes))
		return nil
	}
	var wrapped envelope
	if err := json.NewDecoder(io.LimitReader(response.Body, maxSuccessBodyBytes)).Decode(&wrapped); err != nil {
		return &APIError{Op: op, Status: response.StatusCode, kind: ErrRequestFailed, cause: fmt.Errorf("decode response: %w", err)}
	}
	if len(wrapped.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(wrapped.Data, out); err != nil {
		return &APIError{Op: op, Status: response.StatusCode, kind: ErrRequestFailed, cause: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusConflict, status == http.StatusForbidden, status == http.StatusUnprocessableEntity:
		return ErrConflict
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return ErrTransient
	default:
		return ErrRequestFailed
	}
}

// errorMessage extracts a readable message from an error envelope, whose
// "error" field is a string or a list of strings.
func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var wrapped envelope
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return strings.TrimSpace(string(raw))
	}
	var details []string
	if err := json.Unmarshal(wrapped.Error, &details); err == nil && len(details) > 0 {
		return strings.Join(details, "; ")
	}
	var detail string
	if err := json.Unmarshal(wrapped.Error, &detail); err == nil && detail != "" {
		return detail
	}
	return wrapped.Message
}
