package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDoRetriesOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"try again"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), Request{Method: http.MethodGet, URL: srv.URL}, 1, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"success":true}` {
		t.Fatalf("unexpected body: %s", string(resp.Body))
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts got %d", attempts)
	}
}

func TestDoNoRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad"}`))
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)}, 3, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.StatusCode)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt got %d", attempts)
	}
}

func TestDoSetsHeadersAndContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("expected bearer header got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		w.Header().Set("X-Echo", "1")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), nil, Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   []byte(`{"x":1}`),
		Header: http.Header{"Authorization": {"Bearer abc"}},
	}, 0, 0)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated || resp.Header.Get("X-Echo") != "1" {
		t.Fatalf("unexpected response: %d %v", resp.StatusCode, resp.Header)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type failingReadCloser struct{}

func (failingReadCloser) Read(p []byte) (int, error) { return 0, errors.New("read failed") }
func (failingReadCloser) Close() error               { return nil }

func TestDoAdditionalBranches(t *testing.T) {
	t.Run("invalid method request build error", func(t *testing.T) {
		_, err := Do(context.Background(), http.DefaultClient, Request{Method: "bad method", URL: "http://example.com"}, 0, 0)
		if err == nil {
			t.Fatal("expected invalid method error")
		}
	})

	t.Run("transport error with retries exhausted", func(t *testing.T) {
		client := &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("dial failed")
			}),
		}
		_, err := Do(context.Background(), client, Request{URL: "http://example.com"}, -3, 0)
		if err == nil || !strings.Contains(err.Error(), "dial failed") {
			t.Fatalf("expected transport failure, got %v", err)
		}
	})

	t.Run("transport error retried then success", func(t *testing.T) {
		attempts := 0
		client := &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				attempts++
				if attempts == 1 {
					return nil, errors.New("temporary network")
				}
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(strings.NewReader(`{"success":true}`)),
					Header:     http.Header{},
				}, nil
			}),
		}
		resp, err := Do(context.Background(), client, Request{URL: "http://example.com"}, 1, 0)
		if err != nil {
			t.Fatalf("expected retry success, got %v", err)
		}
		if attempts != 2 || resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected retry result attempts=%d status=%d", attempts, resp.StatusCode)
		}
	})

	t.Run("read error retried then success", func(t *testing.T) {
		attempts := 0
		client := &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				attempts++
				if attempts == 1 {
					return &http.Response{StatusCode: http.StatusOK, Body: failingReadCloser{}, Header: http.Header{}}, nil
				}
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(strings.NewReader(`{}`)),
					Header:     http.Header{},
				}, nil
			}),
		}
		resp, err := Do(context.Background(), client, Request{URL: "http://example.com"}, 1, 0)
		if err != nil {
			t.Fatalf("expected retry after read error, got %v", err)
		}
		if attempts != 2 || string(resp.Body) != `{}` {
			t.Fatalf("unexpected retry result attempts=%d body=%s", attempts, string(resp.Body))
		}
	})

	t.Run("cancelled context stops retry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		client := &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				attempts++
				cancel()
				return nil, errors.New("gone")
			}),
		}
		if _, err := Do(ctx, client, Request{URL: "http://example.com"}, 3, time.Second); err == nil {
			t.Fatal("expected error")
		}
		if attempts != 1 {
			t.Fatalf("expected single attempt after cancel, got %d", attempts)
		}
	})
}
