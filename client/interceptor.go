package client

import "sync"

// RequestInterceptor may inspect or transform a request before it is
// sent. Returning an error aborts the call; the error propagates to the
// caller unmodified.
type RequestInterceptor func(*Request) error

// ResponseInterceptor runs on every successful (2xx) response, in
// registration order, before the body is decoded for the caller.
type ResponseInterceptor func(*Response) error

// ErrorInterceptor observes every normalized failure exactly once, after
// normalization and before the error is returned to the caller.
type ErrorInterceptor func(error)

type interceptors struct {
	mu      sync.Mutex
	nextID  uint64
	request []entry[RequestInterceptor]
	respond []entry[ResponseInterceptor]
	failure []entry[ErrorInterceptor]
}

type entry[T any] struct {
	id uint64
	fn T
}

// OnRequest registers a request interceptor and returns a closure that
// removes it.
func (c *Client) OnRequest(fn RequestInterceptor) (remove func()) {
	c.icpt.mu.Lock()
	defer c.icpt.mu.Unlock()
	c.icpt.nextID++
	id := c.icpt.nextID
	c.icpt.request = append(c.icpt.request, entry[RequestInterceptor]{id, fn})
	return func() {
		c.icpt.mu.Lock()
		defer c.icpt.mu.Unlock()
		c.icpt.request = removeEntry(c.icpt.request, id)
	}
}

// OnResponse registers a response interceptor and returns a closure that
// removes it.
func (c *Client) OnResponse(fn ResponseInterceptor) (remove func()) {
	c.icpt.mu.Lock()
	defer c.icpt.mu.Unlock()
	c.icpt.nextID++
	id := c.icpt.nextID
	c.icpt.respond = append(c.icpt.respond, entry[ResponseInterceptor]{id, fn})
	return func() {
		c.icpt.mu.Lock()
		defer c.icpt.mu.Unlock()
		c.icpt.respond = removeEntry(c.icpt.respond, id)
	}
}

// OnError registers an error interceptor and returns a closure that
// removes it.
func (c *Client) OnError(fn ErrorInterceptor) (remove func()) {
	c.icpt.mu.Lock()
	defer c.icpt.mu.Unlock()
	c.icpt.nextID++
	id := c.icpt.nextID
	c.icpt.failure = append(c.icpt.failure, entry[ErrorInterceptor]{id, fn})
	return func() {
		c.icpt.mu.Lock()
		defer c.icpt.mu.Unlock()
		c.icpt.failure = removeEntry(c.icpt.failure, id)
	}
}

func removeEntry[T any](list []entry[T], id uint64) []entry[T] {
	out := list[:0]
	for _, e := range list {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

func (c *Client) runRequestInterceptors(req *Request) error {
	c.icpt.mu.Lock()
	list := append([]entry[RequestInterceptor](nil), c.icpt.request...)
	c.icpt.mu.Unlock()

	for _, e := range list {
		if err := e.fn(req); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) runResponseInterceptors(resp *Response) error {
	c.icpt.mu.Lock()
	list := append([]entry[ResponseInterceptor](nil), c.icpt.respond...)
	c.icpt.mu.Unlock()

	for _, e := range list {
		if err := e.fn(resp); err != nil {
			return err
		}
	}
	return nil
}

// notifyError runs error interceptors and returns err for convenient
// `return nil, c.notifyError(err)` call sites. Each surfaced failure
// passes through here exactly once.
func (c *Client) notifyError(err error) error {
	c.icpt.mu.Lock()
	list := append([]entry[ErrorInterceptor](nil), c.icpt.failure...)
	c.icpt.mu.Unlock()

	for _, e := range list {
		e.fn(err)
	}
	return err
}
