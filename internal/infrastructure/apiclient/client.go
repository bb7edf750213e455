// Package apiclient implements the console's outbound HTTP client against the
// ERP backend: the credential-verification endpoints behind the session
// manager and the accessible-project directory behind the scope manager.
// Responses use the backend's standard {success, data, error} envelope.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/console/internal/domain/session"
	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/storage"
)

// keyRefreshToken is the durable key the refresh token survives restarts under
const keyRefreshToken = "session.refresh_token"

// Config holds API client configuration
type Config struct {
	// BaseURL is the backend root, e.g. https://erp.example.com
	BaseURL string
	// Timeout bounds each request (default: 15s)
	Timeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Timeout: 15 * time.Second}
}

// Client is the shared HTTP transport for the backend API
type Client struct {
	baseURL    string
	httpClient *http.Client
	durable    storage.KeyValueStore // optional; persists the refresh token
	logger     *zap.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// Option is a functional option for configuring the client
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithDurableStore enables refresh-token persistence across restarts
func WithDurableStore(store storage.KeyValueStore) Option {
	return func(c *Client) {
		c.durable = store
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an API client for the given backend
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.durable != nil {
		if raw, ok, err := c.durable.Get(context.Background(), keyRefreshToken); err == nil && ok {
			c.refreshToken = string(raw)
		}
	}
	return c
}

// envelope is the backend's standard response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *errorInfo      `json:"error,omitempty"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do issues one JSON request and decodes the envelope data into out.
// Backend error envelopes come back as *shared.DomainError so callers can
// map codes without string matching.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("undecodable response from %s (status %d): %w", path, resp.StatusCode, err)
	}

	if !env.Success || resp.StatusCode >= 400 {
		if env.Error != nil {
			return shared.NewDomainError(env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data from %s: %w", path, err)
		}
	}
	return nil
}

// AccessToken returns the current access token, if any
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// setTokens installs a token pair and persists the refresh token
func (c *Client) setTokens(ctx context.Context, access, refresh string) {
	c.mu.Lock()
	c.accessToken = access
	c.refreshToken = refresh
	c.mu.Unlock()

	if c.durable != nil && refresh != "" {
		if err := c.durable.Set(ctx, keyRefreshToken, []byte(refresh)); err != nil {
			c.logger.Warn("Failed to persist refresh token", zap.Error(err))
		}
	}
}

// clearTokens drops both tokens locally and from durable storage
func (c *Client) clearTokens(ctx context.Context) {
	c.mu.Lock()
	c.accessToken = ""
	c.refreshToken = ""
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.Delete(ctx, keyRefreshToken); err != nil {
			c.logger.Warn("Failed to clear persisted refresh token", zap.Error(err))
		}
	}
}

func (c *Client) currentRefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken
}

// mapAuthError translates backend error codes into the session error taxonomy
func mapAuthError(err error) error {
	var domainErr *shared.DomainError
	if !errors.As(err, &domainErr) {
		return err
	}
	switch domainErr.Code {
	case "INVALID_CREDENTIALS", "ACCOUNT_LOCKED", "ACCOUNT_DEACTIVATED", "ACCOUNT_PENDING", "ACCOUNT_INACTIVE":
		return session.ErrInvalidCredentials
	case "MFA_INVALID", "MFA_CODE_EXPIRED":
		return session.ErrMfaInvalid
	case "TOKEN_EXPIRED", "TOKEN_INVALID", "TOKEN_MAX_REFRESH", "UNAUTHORIZED":
		return session.ErrSessionExpired
	default:
		return domainErr
	}
}
