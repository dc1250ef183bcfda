// Package client implements the authenticated HTTP client for the Bheem
// Workspace backend. It wraps outbound requests with base-URL resolution,
// JSON codecs, bearer-token injection, transparent single-flight token
// refresh, retry with exponential backoff, and pluggable interceptors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Bheem-Platform/bheem-workspace-sub001/store"
)

const tracerName = "github.com/Bheem-Platform/bheem-workspace-sub001/client"

// Config holds workspace client configuration.
type Config struct {
	// BaseURL is the workspace backend origin.
	BaseURL string

	// IdentityURL is the token-issuing service origin. Empty means BaseURL.
	IdentityURL string

	// APIPrefix is joined onto relative paths. Defaults to /api/v1.
	APIPrefix string

	// Timeout applies per request unless overridden. Defaults to 30s.
	Timeout time.Duration

	// MaxRetries is the default retry count for 5xx/429 responses.
	MaxRetries int

	// BackoffBase scales the exponential backoff between retries:
	// the n-th retry waits BackoffBase * 2^(n-1). Defaults to 1s.
	BackoffBase time.Duration

	// RefreshLead refreshes the access token this long before its decoded
	// expiry. Defaults to 5m.
	RefreshLead time.Duration

	// RefreshInterval is the background proactive-refresh period.
	// Defaults to 2m.
	RefreshInterval time.Duration

	// Store persists the token pair. Defaults to an in-memory store.
	Store store.TokenStore

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// MaxConnsPerHost bounds the connection pool. Defaults to 100.
	MaxConnsPerHost int

	// OnAuthFailure is invoked once whenever the session becomes
	// irrecoverable (refresh failed or no refresh token). loginPath is
	// the login entry point with the return path attached, or "" when no
	// redirect applies. The stored tokens are already cleared.
	OnAuthFailure func(loginPath string)
}

// DefaultConfig returns sensible defaults for the given backend origin.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		APIPrefix:       "/api/v1",
		Timeout:         30 * time.Second,
		MaxRetries:      0,
		BackoffBase:     time.Second,
		RefreshLead:     5 * time.Minute,
		RefreshInterval: 2 * time.Minute,
		MaxConnsPerHost: 100,
	}
}

// Client is the authenticated workspace HTTP client. All shared mutable
// state (the refresh flight, the pending queue, the background refresher)
// lives on the Client, so independent clients never interfere.
type Client struct {
	cfg    Config
	http   *http.Client
	log    *slog.Logger
	store  store.TokenStore
	tracer trace.Tracer
	icpt   interceptors
	fl     flight
	bg     autoRefresher
}

// New creates a workspace client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: BaseURL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = cfg.BaseURL
	} else {
		cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.RefreshLead <= 0 {
		cfg.RefreshLead = 5 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Minute
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 100
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
			MaxConnsPerHost:       cfg.MaxConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		httpClient = &http.Client{Transport: transport}
	}

	c := &Client{
		cfg:    cfg,
		http:   httpClient,
		log:    cfg.Logger,
		store:  cfg.Store,
		tracer: otel.Tracer(tracerName),
	}
	c.bg.c = c
	return c, nil
}

// Response is a fully-read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Get issues a GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPost, path, body, out, opts...)
}

// Put issues a PUT with a JSON body and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPut, path, body, out, opts...)
}

// Patch issues a PATCH with a JSON body and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPatch, path, body, out, opts...)
}

// Delete issues a DELETE and decodes the response into out.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodDelete, path, nil, out, opts...)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	req := c.newRequest(method, path, body, opts...)
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := decodeBody(resp, out); err != nil {
		return c.notifyError(err)
	}
	return nil
}

func (c *Client) newRequest(method, path string, body any, opts ...RequestOption) *Request {
	req := &Request{
		Method:  method,
		Path:    path,
		Body:    body,
		Retries: c.cfg.MaxRetries,
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// Do runs interceptors and sends the request, returning the fully-read
// response. Every failure is a normalized *APIError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if err := c.runRequestInterceptors(req); err != nil {
		return nil, err
	}
	return c.send(ctx, req)
}

// send issues the request with proactive refresh, retry/backoff, and
// reactive 401 recovery. Re-entered once per request by the refresh path
// (with req.retried set).
func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	// Proactive refresh, skipped on post-refresh retries: those carry the
	// token the refresh just minted.
	if !req.noAuth && !req.retried {
		if err := c.ensureFresh(ctx); err != nil {
			return nil, c.notifyError(err)
		}
	}

	u := c.resolveURL(req)
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, c.notifyError(err)
	}

	retries := req.Retries
	if _, streaming := req.Body.(io.Reader); streaming {
		// A raw reader body cannot be replayed.
		retries = 0
	}

	var resp *Response
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait := c.cfg.BackoffBase << uint(attempt-1)
			c.log.DebugContext(ctx, "retrying request",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, c.notifyError(normalizeTransportError(ctx.Err()))
			}
		}

		resp, err = c.attempt(ctx, req, u, body, contentType)
		if err != nil {
			return nil, c.notifyError(err)
		}
		if retryableStatus(resp.Status) && attempt < retries {
			continue
		}
		break
	}

	if resp.Status == http.StatusUnauthorized && !req.noAuth {
		if req.retried {
			// Second 401 after a refresh cycle: the session is gone.
			c.failSession(ctx, req.Path)
			return nil, c.notifyError(newStatusError(resp.Status, resp.Body))
		}
		return c.recover401(ctx, req, resp)
	}

	if resp.Status < 200 || resp.Status >= 300 {
		return nil, c.notifyError(newStatusError(resp.Status, resp.Body))
	}

	if err := c.runResponseInterceptors(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt performs a single HTTP round trip and reads the body.
func (c *Client) attempt(ctx context.Context, req *Request, u string, body []byte, contentType string) (*Response, error) {
	var r io.Reader
	if reader, ok := req.Body.(io.Reader); ok {
		r = reader
	} else if body != nil {
		r = bytes.NewReader(body)
	}

	httpResp, err := c.roundTrip(ctx, req, u, r, contentType)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, normalizeTransportError(err)
	}
	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

// roundTrip builds and executes the HTTP request, leaving the body open
// for the caller. Used by attempt and by the streaming download path.
func (c *Client) roundTrip(ctx context.Context, req *Request, u string, body io.Reader, contentType string) (*http.Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	// The timeout context must stay alive until the caller has consumed
	// the body; cancel is invoked by cancelBody.Close, or directly on the
	// error paths below.
	ctx, cancel := context.WithTimeout(ctx, timeout)

	ctx, span := c.tracer.Start(ctx, req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", u),
		),
	)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		cancel()
		span.RecordError(err)
		return nil, &APIError{Status: 0, Code: CodeNetworkError, Message: "build request: " + err.Error(), Err: err}
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	if !req.noAuth {
		if pair, err := c.store.Load(ctx); err == nil && pair.AccessToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		}
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		cancel()
		apiErr := normalizeTransportError(err)
		span.RecordError(apiErr)
		observeRequest(req.Method, apiErr.Code, elapsed)
		return nil, apiErr
	}

	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))
	observeRequest(req.Method, fmt.Sprint(httpResp.StatusCode), elapsed)

	httpResp.Body = &cancelBody{ReadCloser: httpResp.Body, cancel: cancel}
	return httpResp, nil
}

// cancelBody releases the per-request timeout context when the body is
// closed. Canceling earlier would abort streams still being read.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// retryableStatus reports whether a response status may be retried.
// Client errors other than 429 are never retried.
func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// encodeBody marshals the request body. Byte slices and readers pass
// through untouched; everything else is JSON.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case io.Reader:
		return nil, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", &APIError{Status: 0, Code: CodeNetworkError, Message: "encode request body: " + err.Error(), Err: err}
		}
		return data, "application/json", nil
	}
}

// decodeBody interprets the response by content type: JSON is
// unmarshaled into out, text/* is copied into a *string, anything else
// is discarded.
func decodeBody(resp *Response, out any) error {
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return &APIError{Status: resp.Status, Message: "decode response body: " + err.Error(), Err: err}
		}
	case strings.HasPrefix(ct, "text/"):
		if s, ok := out.(*string); ok {
			*s = string(resp.Body)
		}
	}
	return nil
}

// normalizeTransportError maps transport failures onto the uniform error
// shape. Cancellations and deadline hits surface as TIMEOUT; everything
// else is NETWORK_ERROR.
func normalizeTransportError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &APIError{Status: 0, Code: CodeTimeout, Message: "request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Status: 0, Code: CodeTimeout, Message: "request timed out", Err: err}
	}
	return &APIError{Status: 0, Code: CodeNetworkError, Message: "network error: " + err.Error(), Err: err}
}

// SetTokens persists a new token pair, stamping the refresh time. A new
// pair starts a new session, re-arming the auth-failure handler.
func (c *Client) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	c.fl.mu.Lock()
	c.fl.down = false
	c.fl.mu.Unlock()
	return c.store.Save(ctx, store.Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		RefreshedAt:  time.Now().UTC(),
	})
}

// Tokens returns the stored token pair.
func (c *Client) Tokens(ctx context.Context) (store.Pair, error) {
	return c.store.Load(ctx)
}

// ClearTokens removes the stored token pair.
func (c *Client) ClearTokens(ctx context.Context) error {
	return c.store.Clear(ctx)
}
