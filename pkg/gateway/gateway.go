// Package gateway wraps every outbound UNITE API call: base-URL resolution,
// bearer attachment, token-expiry pre-check and error unwrapping.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/httpx"
)

const (
	DefaultBaseURL       = "http://localhost:3000"
	DefaultSignInPath    = "/auth/signin"
	DefaultRedirectDelay = 1500 * time.Millisecond
)

// Observer receives one observation per completed HTTP exchange.
type Observer interface {
	Observe(path string, status int, d time.Duration)
}

type Config struct {
	BaseURL    string
	Origin     string
	SignInPath string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

type Client struct {
	baseURL       string
	signInPath    string
	httpClient    *http.Client
	tokens        TokenStore
	nav           Navigator
	observer      Observer
	logger        *slog.Logger
	now           func() time.Time
	redirectDelay time.Duration
	retries       int
	retryDelay    time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.tokens = s }
}

func WithNavigator(n Navigator) Option {
	return func(c *Client) { c.nav = n }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithRedirectDelay(d time.Duration) Option {
	return func(c *Client) { c.redirectDelay = d }
}

// WithRetries overrides Config.Retries and Config.RetryDelay. Only GETs are
// retried.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.retryDelay = delay
	}
}

func New(cfg Config, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL:       ResolveBaseURL(cfg.BaseURL, cfg.Origin),
		signInPath:    strings.TrimSpace(cfg.SignInPath),
		httpClient:    &http.Client{Timeout: cfg.Timeout, Jar: jar},
		tokens:        NewMemoryTokenStore("", ""),
		logger:        slog.Default(),
		now:           time.Now,
		redirectDelay: DefaultRedirectDelay,
		retries:       cfg.Retries,
		retryDelay:    cfg.RetryDelay,
	}
	if c.signInPath == "" {
		c.signInPath = DefaultSignInPath
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.nav == nil {
		c.nav = NewLogNavigator("", c.logger)
	}
	return c
}

// ResolveBaseURL picks the explicit origin, then the page origin, then the
// local development fallback. It has no side effects.
func ResolveBaseURL(explicit, origin string) string {
	for _, candidate := range []string{explicit, origin} {
		candidate = strings.TrimRight(strings.TrimSpace(candidate), "/")
		if candidate != "" {
			return candidate
		}
	}
	return DefaultBaseURL
}

func (c *Client) BaseURL() string { return c.baseURL }

// ResolveURL joins a relative path onto the base URL. Absolute URLs pass
// through unchanged.
func (c *Client) ResolveURL(pathOrURL string) string {
	p := strings.TrimSpace(pathOrURL)
	lower := strings.ToLower(p)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return p
	}
	return c.baseURL + "/" + strings.TrimLeft(p, "/")
}

// Options describe one call. Body may be []byte, json.RawMessage or any
// JSON-encodable value.
type Options struct {
	Method string
	Body   any
	Query  url.Values
	Header http.Header
}

// Request sends the call and returns the raw response whatever its status.
func (c *Client) Request(ctx context.Context, pathOrURL string, opts Options) (*httpx.Response, error) {
	op := methodOf(opts) + " " + pathOrURL
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if token != "" && TokenExpired(token, c.now()) {
		c.endSession(0)
		return nil, apierrors.SessionExpired(op)
	}

	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, apierrors.Validation(op, "invalid request body: %v", err)
	}
	target := c.ResolveURL(pathOrURL)
	if len(opts.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + opts.Query.Encode()
	}
	header := http.Header{}
	for k, v := range opts.Header {
		header[k] = append([]string(nil), v...)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if header.Get("X-Request-ID") == "" {
		header.Set("X-Request-ID", uuid.NewString())
	}
	retries := 0
	if methodOf(opts) == http.MethodGet {
		retries = c.retries
	}

	started := time.Now()
	resp, err := httpx.Do(ctx, c.httpClient, httpx.Request{
		Method: methodOf(opts),
		URL:    target,
		Body:   body,
		Header: header,
	}, retries, c.retryDelay)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer.Observe(pathOnly(pathOrURL), status, time.Since(started))
	}
	if err != nil {
		c.logger.Warn("api request failed", "op", op, "error", err)
		return nil, apierrors.Transport(op, err)
	}
	return resp, nil
}

// RequestJSON sends the call and returns the parsed body. Empty or invalid
// bodies read as {}. Non-2xx statuses become *apierrors.Error; a 401 that is
// not permission-flavored also ends the session.
func (c *Client) RequestJSON(ctx context.Context, pathOrURL string, opts Options) (json.RawMessage, error) {
	resp, err := c.Request(ctx, pathOrURL, opts)
	if err != nil {
		return nil, err
	}
	raw, parsed := parseBody(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	op := methodOf(opts) + " " + pathOrURL
	msg, _ := parsed["message"].(string)
	if msg == "" {
		msg, _ = parsed["error"].(string)
	}
	flavored := permissionFlavored(msg)
	apiErr := apierrors.FromStatus(op, resp.StatusCode, parsed, flavored)
	if resp.StatusCode == http.StatusUnauthorized && !flavored {
		c.endSession(c.redirectDelay)
	}
	return nil, apiErr
}

// endSession clears credentials and sends the user to sign-in unless they
// are already there.
func (c *Client) endSession(delay time.Duration) {
	if c.tokens != nil {
		c.tokens.Clear()
	}
	if c.nav == nil || strings.HasPrefix(c.nav.CurrentPath(), c.signInPath) {
		return
	}
	if delay <= 0 {
		c.nav.Redirect(c.signInPath)
		return
	}
	time.AfterFunc(delay, func() { c.nav.Redirect(c.signInPath) })
}

func parseBody(body []byte) (json.RawMessage, map[string]any) {
	parsed := map[string]any{}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return json.RawMessage(`{}`), parsed
	}
	_ = json.Unmarshal(trimmed, &parsed)
	return json.RawMessage(trimmed), parsed
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

func methodOf(opts Options) string {
	if opts.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(opts.Method)
}

func pathOnly(pathOrURL string) string {
	if u, err := url.Parse(pathOrURL); err == nil && u.Path != "" {
		return u.Path
	}
	return pathOrURL
}
