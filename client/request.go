package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one outbound call. Fields are per-call values; the
// client never shares mutable request state between calls.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Query  map[string]any

	// Body is marshaled to JSON. A []byte body is sent verbatim.
	Body any

	// Timeout overrides the client default when positive.
	Timeout time.Duration

	// Retries overrides the client default when non-negative. Only 5xx
	// and 429 responses are retried.
	Retries int

	// progress receives cumulative byte counts during uploads.
	progress func(sent, total int64)

	// noAuth skips bearer-token handling (used by the refresh call and
	// unauthenticated endpoints such as login).
	noAuth bool

	// retried marks a request already re-issued once after a refresh.
	// A second 401 on such a request ends the session.
	retried bool
}

// RequestOption customizes a single call.
type RequestOption func(*Request)

// WithQuery merges query parameters into the request. Nil values are
// omitted; everything else is stringified.
func WithQuery(params map[string]any) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = make(map[string]any, len(params))
		}
		for k, v := range params {
			r.Query[k] = v
		}
	}
}

// WithParam sets one query parameter.
func WithParam(key string, value any) RequestOption {
	return WithQuery(map[string]any{key: value})
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Set(key, value)
	}
}

// WithTimeout overrides the client's default timeout for this call.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *Request) { r.Timeout = d }
}

// WithRetries overrides the client's default retry count for this call.
func WithRetries(n int) RequestOption {
	return func(r *Request) { r.Retries = n }
}

// WithoutAuth sends the request with no Authorization header and no
// refresh handling.
func WithoutAuth() RequestOption {
	return func(r *Request) { r.noAuth = true }
}

// WithProgress registers a callback receiving cumulative bytes sent
// during an upload. total is -1 when the size is unknown.
func WithProgress(fn func(sent, total int64)) RequestOption {
	return func(r *Request) { r.progress = fn }
}

// resolveURL joins the API prefix onto path unless path is already an
// absolute URL, then appends the encoded query.
func (c *Client) resolveURL(req *Request) string {
	var raw string
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		raw = req.Path
	} else {
		raw = c.cfg.BaseURL + c.cfg.APIPrefix + req.Path
	}

	q := encodeQuery(req.Query)
	if q == "" {
		return raw
	}
	if strings.Contains(raw, "?") {
		return raw + "&" + q
	}
	return raw + "?" + q
}

// encodeQuery stringifies parameters, dropping nil values.
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	values := make(url.Values, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		values.Set(k, fmt.Sprint(v))
	}
	return values.Encode()
}
