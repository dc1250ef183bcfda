package client

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
)

// UploadFile sends a file as multipart form data, streaming it through a
// pipe so the whole file is never buffered in memory. Extra form fields
// go out before the file part. A progress callback registered with
// WithProgress receives cumulative file bytes as the transport reads the
// body; total is the file size when the source is seekable, -1 otherwise.
func (c *Client) UploadFile(ctx context.Context, path, filename string, file io.Reader, fields map[string]string, out any, opts ...RequestOption) error {
	req := c.newRequest(http.MethodPost, path, nil, opts...)

	src := file
	if req.progress != nil {
		src = &progressReader{r: file, total: sourceSize(file), report: req.progress}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req.Body = pr
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.Do(ctx, req)
	if err != nil {
		// Unblock the writer goroutine when the body was never consumed.
		pr.Close()
		return err
	}
	if err := decodeBody(resp, out); err != nil {
		return c.notifyError(err)
	}
	return nil
}

// DownloadFile streams the response body into w without buffering it in
// memory, returning the number of bytes written. A 401 is recovered with
// one refresh cycle, mirroring the regular request path. Response
// interceptors run with a header-only Response: the body goes to w, not
// to them.
func (c *Client) DownloadFile(ctx context.Context, path string, w io.Writer, opts ...RequestOption) (int64, error) {
	req := c.newRequest(http.MethodGet, path, nil, opts...)
	if err := c.runRequestInterceptors(req); err != nil {
		return 0, err
	}
	if err := c.ensureFresh(ctx); err != nil {
		return 0, c.notifyError(err)
	}

	u := c.resolveURL(req)

	httpResp, err := c.roundTrip(ctx, req, u, nil, "")
	if err != nil {
		return 0, c.notifyError(err)
	}

	if httpResp.StatusCode == http.StatusUnauthorized && !req.retried {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<20))
		httpResp.Body.Close()

		if rerr := c.refreshNow(ctx); rerr != nil {
			return 0, c.notifyError(rerr)
		}
		req.retried = true
		httpResp, err = c.roundTrip(ctx, req, u, nil, "")
		if err != nil {
			return 0, c.notifyError(err)
		}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		return 0, c.notifyError(newStatusError(httpResp.StatusCode, body))
	}

	if err := c.runResponseInterceptors(&Response{Status: httpResp.StatusCode, Header: httpResp.Header}); err != nil {
		return 0, err
	}

	n, err := io.Copy(w, httpResp.Body)
	if err != nil {
		return n, c.notifyError(normalizeTransportError(err))
	}
	return n, nil
}

// sourceSize reports the remaining byte count of a seekable reader, or
// -1 when the size cannot be known without consuming the stream.
func sourceSize(r io.Reader) int64 {
	s, ok := r.(io.Seeker)
	if !ok {
		return -1
	}
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return -1
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return -1
	}
	return end - cur
}

// progressReader reports cumulative bytes consumed from the wrapped
// reader, which tracks upload progress since the transport pulls the
// body as it writes to the wire.
type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent, p.total)
	}
	return n, err
}
