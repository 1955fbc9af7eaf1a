// Package feishu is a minimal client for the Feishu/Lark Bitable Open API:
// tenant token exchange, field and record listing, record updates and media
// upload, plus the extraction of cover texts from raw records.
//
// A Client memoizes its tenant token for its own lifetime and is meant to be
// created per request from freshly loaded credentials. When the API rejects
// the cached token, the client drops it, fetches a new one and retries the
// failed call once.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/coverbridge/horosafe"
)

// DefaultBaseURL is the Feishu Open Platform host.
const DefaultBaseURL = "https://open.feishu.cn"

const (
	opToken        = "tenant_access_token"
	opListFields   = "list_fields"
	opListRecords  = "list_records"
	opUpdateRecord = "update_record"
	opUploadMedia  = "upload_media"
)

// Credentials identify the app and the table it operates on.
type Credentials struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
	AppToken  string `json:"app_token"`
	TableID   string `json:"table_id"`
}

// Validate checks that every field is present and that the identifiers used
// in URL paths are safe.
func (c Credentials) Validate() error {
	if c.AppID == "" || c.AppSecret == "" || c.AppToken == "" || c.TableID == "" {
		return ErrCredentials
	}
	if err := horosafe.ValidateIdentifier(c.AppToken); err != nil {
		return fmt.Errorf("%w: app token: %v", ErrCredentials, err)
	}
	if err := horosafe.ValidateIdentifier(c.TableID); err != nil {
		return fmt.Errorf("%w: table id: %v", ErrCredentials, err)
	}
	return nil
}

// Client talks to one Bitable table. Safe for concurrent use, though the
// pipelines use it sequentially.
type Client struct {
	creds         Credentials
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	uploadTimeout time.Duration
	maxBody       int64
	maxPages      int
	logger        *slog.Logger

	mu    sync.Mutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API host (tests, Lark international).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds every call except media upload. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUploadTimeout bounds media upload calls. Default: 60s.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Client) { c.uploadTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. Credentials are validated so that a misconfigured
// table fails before any network call.
func New(creds Credentials, opts ...Option) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		creds:         creds,
		baseURL:       DefaultBaseURL,
		http:          &http.Client{},
		timeout:       30 * time.Second,
		uploadTimeout: 60 * time.Second,
		maxBody:       10 * horosafe.MaxResponseBody,
		maxPages:      defaultMaxPages,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// envelope is the common Open API response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// TenantAccessToken exchanges the app credentials for a tenant token and
// caches it on the client.
func (c *Client) TenantAccessToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.creds.AppID,
		"app_secret": c.creds.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("feishu: %s: new request: %w", opToken, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu: %s: %w: %w", opToken, ErrAuth, err)
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return "", fmt.Errorf("feishu: %s: read body: %w", opToken, err)
	}
	var out struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &APIError{Op: opToken, Status: resp.StatusCode, Code: -1, Msg: snippet(raw)}
	}
	if out.Code != 0 || out.TenantAccessToken == "" {
		return "", &APIError{Op: opToken, Status: resp.StatusCode, Code: out.Code, Msg: out.Msg}
	}

	c.mu.Lock()
	c.token = out.TenantAccessToken
	c.mu.Unlock()
	c.logger.Debug("feishu: tenant token acquired", "app_id", c.creds.AppID, "expire_s", out.Expire)
	return out.TenantAccessToken, nil
}

// Authenticated reports whether a token is cached.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

func (c *Client) cachedToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	return c.TenantAccessToken(ctx)
}

func (c *Client) dropToken(stale string) {
	c.mu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.mu.Unlock()
}

// requestFunc builds a fresh request for the given token. It is called again
// on retry, so request bodies must be rebuilt each time.
type requestFunc func(ctx context.Context, token string) (*http.Request, error)

// call runs an authenticated request and decodes the envelope's data into
// out (when non-nil). A token rejection triggers one refresh and retry.
func (c *Client) call(ctx context.Context, op string, timeout time.Duration, build requestFunc, out any) error {
	err := c.callOnce(ctx, op, timeout, build, out)
	if err == nil || !isTokenRejection(err) {
		return err
	}
	c.logger.Info("feishu: token rejected, refreshing", "op", op)
	return c.callOnce(ctx, op, timeout, build, out)
}

func (c *Client) callOnce(ctx context.Context, op string, timeout time.Duration, build requestFunc, out any) error {
	token, err := c.cachedToken(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := build(ctx, token)
	if err != nil {
		return fmt.Errorf("feishu: %s: new request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("feishu: %s: http: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, c.maxBody)
	if err != nil {
		return fmt.Errorf("feishu: %s: read body: %w", op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		apiErr := &APIError{Op: op, Status: resp.StatusCode, Code: -1, Msg: snippet(raw)}
		if apiErr.tokenRejected() {
			c.dropToken(token)
		}
		return apiErr
	}
	if env.Code != 0 || resp.StatusCode >= 400 {
		apiErr := &APIError{Op: op, Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
		if apiErr.tokenRejected() {
			c.dropToken(token)
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("feishu: %s: decode data: %w", op, err)
		}
	}
	return nil
}

func isTokenRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Op != opToken && apiErr.tokenRejected()
}

func (c *Client) tableURL(suffix string) string {
	return c.baseURL + "/open-apis/bitable/v1/apps/" + url.PathEscape(c.creds.AppToken) +
		"/tables/" + url.PathEscape(c.creds.TableID) + suffix
}

func jsonRequest(method, u string, payload any) requestFunc {
	return func(ctx context.Context, _ string) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}
		return req, nil
	}
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
