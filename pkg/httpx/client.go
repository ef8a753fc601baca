package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do performs an HTTP request with retry for transient failures.
// Retries apply to transport errors and 5xx responses only.
func Do(ctx context.Context, client *http.Client, in Request, retries int, retryDelay time.Duration) (*Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	method := in.Method
	if method == "" {
		method = http.MethodGet
	}
	var lastErr error
	attempts := retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		var reader io.Reader
		if len(in.Body) > 0 {
			reader = bytes.NewReader(in.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, in.URL, reader)
		if err != nil {
			return nil, err
		}
		if len(in.Body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, vals := range in.Header {
			for i, v := range vals {
				if i == 0 {
					req.Header.Set(k, v)
					continue
				}
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < retries && sleepCtx(ctx, retryDelay) {
				continue
			}
			return nil, err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt < retries && sleepCtx(ctx, retryDelay) {
				continue
			}
			return nil, readErr
		}
		if resp.StatusCode >= 500 && attempt < retries && sleepCtx(ctx, retryDelay) {
			continue
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
