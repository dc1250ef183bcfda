package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// flight is the single-flight refresh state shared by every call on one
// client. The invariant: at most one refresh network call is in flight
// at a time. inFlight is checked and set under mu, with no blocking work
// in between, so no two callers can both start a refresh.
type flight struct {
	mu       sync.Mutex
	inFlight bool
	done     chan struct{} // closed when the current refresh settles
	err      error         // outcome of the last settled refresh
	queue    []*queuedCall // 401-failed requests awaiting the refresh
	down     bool          // session already failed; cleared by SetTokens
}

// queuedCall is a request that hit a 401 while a refresh was already in
// flight. done is buffered so draining never blocks on a caller that
// gave up waiting.
type queuedCall struct {
	ctx  context.Context
	req  *Request
	done chan callResult
}

type callResult struct {
	resp *Response
	err  error
}

// refreshedPair is the identity service's response to a refresh call.
type refreshedPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ensureFresh refreshes proactively when the stored access token decodes
// to an expiry within the configured lead time. An undecodable token
// counts as expiring. Returns an error only when a refresh was attempted
// and failed, which ends the session.
func (c *Client) ensureFresh(ctx context.Context) error {
	pair, err := c.store.Load(ctx)
	if err != nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil
	}
	if !expiringSoon(pair.AccessToken, c.cfg.RefreshLead, time.Now()) {
		return nil
	}
	if err := c.refreshNow(ctx); err != nil {
		return err
	}
	return nil
}

// refreshNow performs a single-flight refresh. When one is already in
// flight the caller waits for it to settle and shares its outcome.
// Session failure handling happens inside the owning flight.
func (c *Client) refreshNow(ctx context.Context) error {
	c.fl.mu.Lock()
	if c.fl.inFlight {
		done := c.fl.done
		c.fl.mu.Unlock()
		select {
		case <-done:
			c.fl.mu.Lock()
			err := c.fl.err
			c.fl.mu.Unlock()
			return err
		case <-ctx.Done():
			return normalizeTransportError(ctx.Err())
		}
	}
	c.fl.inFlight = true
	c.fl.done = make(chan struct{})
	refreshToken := ""
	c.fl.mu.Unlock()

	if pair, err := c.store.Load(ctx); err == nil {
		refreshToken = pair.RefreshToken
	}

	rerr := c.callRefreshEndpoint(ctx, refreshToken)
	c.settleFlight(ctx, rerr, "")
	return rerr
}

// recover401 handles a 401 on a request that has not yet been retried.
// It either joins the in-flight refresh by enqueueing, or owns a new
// refresh cycle: refresh, drain the queue in FIFO order, then retry the
// triggering request with the fresh token.
func (c *Client) recover401(ctx context.Context, req *Request, failed *Response) (*Response, error) {
	pair, err := c.store.Load(ctx)
	if err != nil || pair.RefreshToken == "" {
		c.failSession(ctx, req.Path)
		return nil, c.notifyError(newStatusError(failed.Status, failed.Body))
	}

	c.fl.mu.Lock()
	if c.fl.inFlight {
		q := &queuedCall{ctx: ctx, req: req, done: make(chan callResult, 1)}
		c.fl.queue = append(c.fl.queue, q)
		pendingRequests.Inc()
		c.fl.mu.Unlock()

		select {
		case r := <-q.done:
			return r.resp, r.err
		case <-ctx.Done():
			// The drain will still complete q.done; the buffered channel
			// keeps it from blocking the rest of the queue.
			return nil, c.notifyError(normalizeTransportError(ctx.Err()))
		}
	}
	c.fl.inFlight = true
	c.fl.done = make(chan struct{})
	c.fl.mu.Unlock()

	rerr := c.callRefreshEndpoint(ctx, pair.RefreshToken)
	c.settleFlight(ctx, rerr, req.Path)

	if rerr != nil {
		return nil, c.notifyError(rerr)
	}
	req.retried = true
	return c.send(ctx, req)
}

// settleFlight publishes the refresh outcome, wakes waiting callers, and
// drains the pending queue in FIFO order. On failure every queued
// request is rejected and the session ends.
func (c *Client) settleFlight(ctx context.Context, rerr error, triggerPath string) {
	c.fl.mu.Lock()
	c.fl.inFlight = false
	c.fl.err = rerr
	queue := c.fl.queue
	c.fl.queue = nil
	close(c.fl.done)
	c.fl.mu.Unlock()

	if rerr != nil {
		for _, q := range queue {
			pendingRequests.Dec()
			q.done <- callResult{err: c.notifyError(rerr)}
		}
		path := triggerPath
		if path == "" && len(queue) > 0 {
			path = queue[0].req.Path
		}
		c.failSession(ctx, path)
		return
	}

	for _, q := range queue {
		pendingRequests.Dec()
		q.req.retried = true
		resp, err := c.send(q.ctx, q.req)
		q.done <- callResult{resp: resp, err: err}
	}
}

// callRefreshEndpoint exchanges the refresh token for a new pair and
// persists it. The call bypasses the normal request pipeline: it carries
// no bearer token and never recurses into refresh handling.
func (c *Client) callRefreshEndpoint(ctx context.Context, refreshToken string) error {
	tokenRefreshTotal.WithLabelValues("attempt").Inc()
	if refreshToken == "" {
		tokenRefreshTotal.WithLabelValues("failure").Inc()
		return &APIError{
			Status:  http.StatusUnauthorized,
			Code:    CodeRefreshFailed,
			Message: "no refresh token available",
			Err:     ErrSessionExpired,
		}
	}

	u := c.cfg.IdentityURL + c.cfg.APIPrefix + "/auth/refresh?refresh_token=" + url.QueryEscape(refreshToken)
	req := &Request{Method: http.MethodPost, Path: u, noAuth: true}

	resp, err := c.attempt(ctx, req, u, nil, "")
	if err != nil {
		tokenRefreshTotal.WithLabelValues("failure").Inc()
		return &APIError{
			Status:  http.StatusUnauthorized,
			Code:    CodeRefreshFailed,
			Message: "token refresh failed: " + err.Error(),
			Err:     ErrSessionExpired,
		}
	}
	if resp.Status < 200 || resp.Status >= 300 {
		tokenRefreshTotal.WithLabelValues("failure").Inc()
		cause := newStatusError(resp.Status, resp.Body)
		return &APIError{
			Status:  http.StatusUnauthorized,
			Code:    CodeRefreshFailed,
			Message: "token refresh failed: " + cause.Message,
			Err:     ErrSessionExpired,
		}
	}

	var minted refreshedPair
	if err := json.Unmarshal(resp.Body, &minted); err != nil || minted.AccessToken == "" {
		tokenRefreshTotal.WithLabelValues("failure").Inc()
		return &APIError{
			Status:  http.StatusUnauthorized,
			Code:    CodeRefreshFailed,
			Message: "token refresh returned an unusable response",
			Err:     ErrSessionExpired,
		}
	}

	newRefresh := minted.RefreshToken
	if newRefresh == "" {
		// Identity may rotate only the access token.
		newRefresh = refreshToken
	}
	if err := c.SetTokens(ctx, minted.AccessToken, newRefresh); err != nil {
		tokenRefreshTotal.WithLabelValues("failure").Inc()
		return &APIError{
			Status:  http.StatusUnauthorized,
			Code:    CodeRefreshFailed,
			Message: "persist refreshed tokens: " + err.Error(),
			Err:     ErrSessionExpired,
		}
	}

	tokenRefreshTotal.WithLabelValues("success").Inc()
	c.log.DebugContext(ctx, "access token refreshed")
	return nil
}

// failSession clears the stored tokens and notifies the auth-failure
// handler. This is the only fatal outcome; every other failure returns
// to the caller. One session failure fires the handler once, no matter
// how many queued requests land here after a rejected refresh.
func (c *Client) failSession(ctx context.Context, returnPath string) {
	c.fl.mu.Lock()
	if c.fl.down {
		c.fl.mu.Unlock()
		return
	}
	c.fl.down = true
	c.fl.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		c.log.WarnContext(ctx, "clear tokens after auth failure", slog.String("error", err.Error()))
	}
	c.log.WarnContext(ctx, "session ended, re-authentication required",
		slog.String("return_path", returnPath))
	if c.cfg.OnAuthFailure != nil {
		c.cfg.OnAuthFailure(LoginRedirectPath(returnPath))
	}
}
