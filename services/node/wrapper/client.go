// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wrapper is the HTTP client for the tunnel wrapper's admin API.
//
// # Description
//
// The wrapper is an external process manager that owns the tunnel server
// process. This package is the only code in the adapter allowed to talk
// to it. Every operation is fail-soft: transport errors, non-2xx answers
// and undecodable bodies become Result{Success: false, Message: ...}
// instead of Go errors, and text endpoints report ("", false).
//
// The client never retries. Retry policy belongs to the caller.
//
// # Authentication
//
// Requests carry "Authorization: Bearer <secret>". The secret is kept in a
// memguard enclave and only decrypted for the duration of a request.
//
// # Thread Safety
//
// Client is safe for concurrent use after construction.
package wrapper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/TunnelNode/services/node/observability"
	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("ttnode.wrapper")

// apiPrefix is where the wrapper mounts its routes.
const apiPrefix = "/api"

// maxBodyBytes caps how much of a wrapper response is read.
const maxBodyBytes = 8 << 20

// =============================================================================
// Configuration
// =============================================================================

// Config holds wrapper client options.
//
// # Required Fields
//
//   - BaseURL
//
// # Examples
//
//	cfg := wrapper.Config{
//	    BaseURL: "http://127.0.0.1:7070",
//	    Secret:  os.Getenv("TT_WRAPPER_SECRET"),
//	}
type Config struct {
	// BaseURL is the wrapper's root URL without the /api prefix.
	BaseURL string

	// Secret is the static bearer credential. Empty disables the header.
	// The bytes are moved into a memguard enclave by New.
	Secret string

	// Timeout bounds each call end to end. Default: 30s
	Timeout time.Duration

	// RequestsPerSecond paces outbound calls. Zero means unlimited.
	RequestsPerSecond float64

	// Burst is the pacing bucket size. Default: 1 when pacing is enabled.
	Burst int

	// HTTPClient overrides the transport. Timeout is still applied.
	HTTPClient *http.Client

	// Logger receives client diagnostics. Default: slog.Default()
	Logger *slog.Logger

	// Metrics records per-operation counters. May be nil.
	Metrics *observability.NodeMetrics
}

// =============================================================================
// Client
// =============================================================================

// Client talks to the wrapper admin API.
type Client struct {
	baseURL    string
	secret     *memguard.Enclave
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *observability.NodeMetrics
}

// New creates a wrapper client.
//
// # Description
//
// Validates the base URL, seals the secret into an enclave, and prepares
// an http.Client with the configured timeout.
//
// # Inputs
//
//   - cfg: Client configuration. BaseURL is required.
//
// # Outputs
//
//   - *Client: Ready-to-use client.
//   - error: Non-nil if BaseURL is missing or not an absolute http(s) URL.
//
// # Examples
//
//	client, err := wrapper.New(wrapper.Config{BaseURL: "http://127.0.0.1:7070", Secret: s})
//	if err != nil {
//	    return err
//	}
//	res := client.Status(ctx)
//
// # Limitations
//
//   - The secret cannot be rotated without building a new client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid wrapper URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.HTTPClient != nil {
		clone := *cfg.HTTPClient
		clone.Timeout = timeout
		httpClient = &clone
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger.With("component", "wrapper_client"),
		metrics:    cfg.Metrics,
	}

	if cfg.Secret != "" {
		c.secret = memguard.NewEnclave([]byte(cfg.Secret))
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	c.logger.Info("Wrapper client initialized",
		"base_url", base,
		"timeout", timeout.String(),
		"secret_present", c.secret != nil,
		"paced", c.limiter != nil,
	)
	return c, nil
}

// BaseURL returns the wrapper root URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Process Lifecycle
// =============================================================================

// Health reports whether the wrapper answers its health probe with success.
func (c *Client) Health(ctx context.Context) bool {
	return call[Empty](ctx, c, "health", http.MethodGet, "/health", nil).Success
}

// Start asks the wrapper to start the tunnel process.
func (c *Client) Start(ctx context.Context) Result[Empty] {
	return call[Empty](ctx, c, "start", http.MethodPost, "/start", nil)
}

// Stop asks the wrapper to stop the tunnel process.
func (c *Client) Stop(ctx context.Context) Result[Empty] {
	return call[Empty](ctx, c, "stop", http.MethodPost, "/stop", nil)
}

// Restart asks the wrapper to restart the tunnel process.
//
// A successful result only means the wrapper accepted the restart; callers
// must poll Status to confirm the process came back.
func (c *Client) Restart(ctx context.Context) Result[Empty] {
	return call[Empty](ctx, c, "restart", http.MethodPost, "/restart", nil)
}

// Status returns the wrapper's view of the tunnel process.
func (c *Client) Status(ctx context.Context) Result[ProcessStatus] {
	return call[ProcessStatus](ctx, c, "status", http.MethodGet, "/status", nil)
}

// =============================================================================
// Users
// =============================================================================

// ListUsers returns the usernames currently configured in the tunnel server.
func (c *Client) ListUsers(ctx context.Context) Result[[]RemoteUser] {
	return call[[]RemoteUser](ctx, c, "list_users", http.MethodGet, "/users", nil)
}

// AddUser adds a single user.
func (c *Client) AddUser(ctx context.Context, username, password string) Result[Empty] {
	body := UserCredential{Username: username, Password: password}
	return call[Empty](ctx, c, "add_user", http.MethodPost, "/users", body)
}

// RemoveUser removes a single user by name.
func (c *Client) RemoveUser(ctx context.Context, username string) Result[Empty] {
	return call[Empty](ctx, c, "remove_user", http.MethodDelete, "/users/"+url.PathEscape(username), nil)
}

// AddUsersBatch adds all users in one call.
func (c *Client) AddUsersBatch(ctx context.Context, users []UserCredential) Result[Empty] {
	if users == nil {
		users = []UserCredential{}
	}
	return call[Empty](ctx, c, "add_users_batch", http.MethodPost, "/users/batch", batchAddRequest{Users: users})
}

// RemoveUsersBatch removes all named users in one call.
func (c *Client) RemoveUsersBatch(ctx context.Context, usernames []string) Result[Empty] {
	if usernames == nil {
		usernames = []string{}
	}
	return call[Empty](ctx, c, "remove_users_batch", http.MethodDelete, "/users/batch", batchRemoveRequest{Usernames: usernames})
}

// =============================================================================
// Configuration and Text Endpoints
// =============================================================================

// UploadConfig replaces the tunnel server's TOML configuration.
func (c *Client) UploadConfig(ctx context.Context, bundle ConfigBundle) Result[Empty] {
	return call[Empty](ctx, c, "upload_config", http.MethodPost, "/config", bundle)
}

// Metrics returns the tunnel server's exposition text.
//
// # Outputs
//
//   - string: Raw payload.
//   - bool: False on any failure, including a non-text response.
func (c *Client) Metrics(ctx context.Context) (string, bool) {
	return c.fetchText(ctx, "metrics", "/metrics")
}

// ClientConfig returns the rendered client configuration for a user.
//
// # Inputs
//
//   - username: User whose config is rendered.
//   - address: Public endpoint address to embed.
//
// # Outputs
//
//   - string: Rendered config text.
//   - bool: False on any failure.
func (c *Client) ClientConfig(ctx context.Context, username, address string) (string, bool) {
	path := "/client-config/" + url.PathEscape(username)
	if address != "" {
		path += "?" + url.Values{"address": []string{address}}.Encode()
	}
	return c.fetchText(ctx, "client_config", path)
}

// =============================================================================
// Transport
// =============================================================================

// call performs one JSON round trip and folds every failure into a Result.
func call[T any](ctx context.Context, c *Client, op, method, path string, body any) Result[T] {
	ctx, span := tracer.Start(ctx, "WrapperClient."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("wrapper.operation", op),
		attribute.String("http.method", method),
	)

	start := time.Now()
	status, payload, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Wrapper call failed", "operation", op, "error", err)
		c.metrics.RecordWrapperRequest(op, false, time.Since(start).Seconds())
		return failure[T](err.Error())
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if status < 200 || status > 299 {
		msg := remoteMessage(status, payload)
		span.SetStatus(codes.Error, msg)
		c.logger.Warn("Wrapper returned an error", "operation", op, "status_code", status, "message", msg)
		c.metrics.RecordWrapperRequest(op, false, time.Since(start).Seconds())
		return failure[T](msg)
	}

	var res Result[T]
	if err := json.Unmarshal(payload, &res); err != nil {
		err = fmt.Errorf("decode %s response: %w", op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Wrapper response not decodable", "operation", op, "error", err)
		c.metrics.RecordWrapperRequest(op, false, time.Since(start).Seconds())
		return failure[T](err.Error())
	}

	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}
	c.metrics.RecordWrapperRequest(op, res.Success, time.Since(start).Seconds())
	return res
}

// fetchText GETs a text endpoint. Anything other than a 2xx text body is a miss.
func (c *Client) fetchText(ctx context.Context, op, path string) (string, bool) {
	ctx, span := tracer.Start(ctx, "WrapperClient."+op)
	defer span.End()

	start := time.Now()
	status, payload, contentType, err := c.doRaw(ctx, http.MethodGet, path, nil, "text/plain")
	ok := err == nil && status >= 200 && status <= 299 && isText(contentType)
	c.metrics.RecordWrapperRequest(op, ok, time.Since(start).Seconds())

	if !ok {
		if err == nil {
			err = fmt.Errorf("unexpected response: status %d, content type %q", status, contentType)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("Wrapper text endpoint unavailable", "operation", op, "error", err)
		return "", false
	}
	return string(payload), true
}

func (c *Client) do(ctx context.Context, method, path string, body any, accept string) (int, []byte, error) {
	status, payload, _, err := c.doRaw(ctx, method, path, body, accept)
	return status, payload, err
}

// doRaw sends the request and returns status, body and content type.
// Only transport-level problems are reported as errors.
func (c *Client) doRaw(ctx context.Context, method, path string, body any, accept string) (int, []byte, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, "", fmt.Errorf("pacing wait: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, "", fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return 0, nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		return 0, nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, "", transportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, payload, resp.Header.Get("Content-Type"), nil
}

// authorize opens the secret enclave just long enough to set the header.
func (c *Client) authorize(req *http.Request) error {
	if c.secret == nil {
		return nil
	}
	buf, err := c.secret.Open()
	if err != nil {
		return fmt.Errorf("open wrapper secret: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("Authorization", "Bearer "+buf.String())
	return nil
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("wrapper request timed out: %w", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("wrapper request timed out: %w", err)
	}
	return fmt.Errorf("wrapper request failed: %w", err)
}

// remoteMessage prefers the wrapper's own message over the status text.
func remoteMessage(status int, payload []byte) string {
	var eb errorBody
	if err := json.Unmarshal(payload, &eb); err == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	return fmt.Sprintf("wrapper returned status %d %s", status, http.StatusText(status))
}

func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/")
}
