// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the chat-completions API.
const (
	// DefaultBaseURL is the endpoint used when none is configured.
	DefaultBaseURL = "https://api.cerebras.ai/v1"

	// DefaultHeaderTimeout bounds the wait for response headers.
	// The body of a streamed answer has no deadline; cancellation ends it.
	DefaultHeaderTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed size of a non-streamed body.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	// MaxErrorBodySize caps how much of an error body is read.
	MaxErrorBodySize = 64 * 1024

	userAgent = "llm-arena/0.1"
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// sharedTransport is reused by every client that keeps the default header timeout.
var sharedTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: DefaultHeaderTimeout,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// ErrNotConfigured indicates the API key is not set.
var ErrNotConfigured = errors.New("API key not configured")

// =============================================================================
// CREDENTIALS
// =============================================================================

// Credentials identify the endpoint and the account used for a request.
type Credentials struct {
	BaseURL string
	APIKey  string
}

// Configured reports whether an API key is present.
func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// Endpoint joins the base URL with path.
func (c Credentials) Endpoint(path string) string {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + path
}

// Fingerprint returns a secure fingerprint of the API key for logging.
// SECURITY: Uses SHA-256 hash to create a unique identifier without exposing the key.
func (c Credentials) Fingerprint() string {
	if c.APIKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.APIKey))
	return hex.EncodeToString(h[:4])
}

// CredentialSource supplies the credentials to use at request time.
// Implementations must be safe for concurrent use.
type CredentialSource interface {
	Credentials() Credentials
}

// StaticCredentials is a CredentialSource that never changes.
type StaticCredentials Credentials

// Credentials returns c.
func (c StaticCredentials) Credentials() Credentials {
	return Credentials(c)
}

// Masked returns a display form of the key that never shows key material.
func (c Credentials) Masked() string {
	if c.APIKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.APIKey), c.Fingerprint())
}

// =============================================================================
// ERRORS
// =============================================================================

// APIError represents a failure status returned by the endpoint.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s] (HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// IsAuth reports whether the endpoint rejected the credentials.
func (e *APIError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// =============================================================================
// CLIENT
// =============================================================================

// Client opens requests against an OpenAI-compatible endpoint.
// A Client is safe for concurrent use; credentials travel with each call.
type Client struct {
	httpClient       *http.Client
	extendedSampling bool
	logger           *slog.Logger
}

// NewClient creates a client using the shared pooled transport.
func NewClient() *Client {
	return &Client{
		// No overall timeout: streamed bodies are controlled via context.
		httpClient: &http.Client{Transport: sharedTransport},
		logger:     slog.Default(),
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.httpClient = h
	}
	return c
}

// WithHeaderTimeout sets how long to wait for response headers.
func (c *Client) WithHeaderTimeout(d time.Duration) *Client {
	if d <= 0 || d == DefaultHeaderTimeout {
		return c
	}
	t := sharedTransport.Clone()
	t.ResponseHeaderTimeout = d
	c.httpClient = &http.Client{Transport: t}
	return c
}

// WithExtendedSampling enables sending top_k and the penalty parameters.
// Not every compatible endpoint accepts them.
func (c *Client) WithExtendedSampling(enabled bool) *Client {
	c.extendedSampling = enabled
	return c
}

// WithLogger sets the logger used for request logging.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// ExtendedSampling reports whether optional sampling parameters are sent.
func (c *Client) ExtendedSampling() bool {
	return c.extendedSampling
}

// setHeaders sets the required headers for API requests.
func setHeaders(req *http.Request, creds Credentials) {
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// Open starts a streamed chat completion and returns the raw response.
//
// The response is returned for every HTTP status; the caller owns the body
// and decides how to treat failures. Transport errors are wrapped.
// Returns ErrNotConfigured without touching the network when no key is set.
func (c *Client) Open(ctx context.Context, creds Credentials, chat ChatRequest) (*http.Response, error) {
	if !creds.Configured() {
		return nil, ErrNotConfigured
	}
	chat.Stream = true

	body, err := json.Marshal(chat)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.Endpoint("/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, creds)
	req.Header.Set("Accept", "text/event-stream")

	// CLOUD: Secure logging - method, path and key fingerprint only.
	c.logger.Debug("api request",
		"method", req.Method,
		"path", req.URL.Path,
		"model", chat.Model,
		"messages", len(chat.Messages),
		"key", creds.Fingerprint())

	start := time.Now()
	resp, err := c.httpClient.Do(req)

	// SECURITY: Clear Authorization header immediately after request to prevent logging
	req.Header.Del("Authorization")

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("api response", "status", resp.StatusCode, "model", chat.Model, "elapsed", time.Since(start))
	return resp, nil
}

// ReadError builds an APIError from a failure response.
// The message comes from {"error":{"message"}} when present and falls back
// to the status text. The body is read but not closed.
func ReadError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
	}
	apiErr.Message, apiErr.Code = errorFromBody(body)
	if apiErr.Message == "" {
		apiErr.Message = statusText(resp)
	}
	return apiErr
}

// statusText returns "401 Unauthorized" style text for a response.
func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return fmt.Sprintf("%d %s", resp.StatusCode, text)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
