// Package client sends signed requests to other services and to the Connector.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
	"github.com/MrSnakeDoc/realmlink/internal/utils"
)

// DefaultTimeout bounds every outbound request unless overridden.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// ThisResolver resolves the identity of the local service.
type ThisResolver interface {
	This(ctx context.Context) (*domain.Record, error)
}

// Client issues signed HTTP requests on behalf of "this" service.
type Client struct {
	this   ThisResolver
	http   *http.Client
	logger logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the timeout of the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger used for request traces.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client. this may be nil when only Do and FetchJSON are used.
func New(this ThisResolver, opts ...Option) *Client {
	c := &Client{
		this:   this,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get sends a signed GET request to target.
func (c *Client) Get(ctx context.Context, target *domain.Record, path string, params secure.Params) (*Response, error) {
	return c.Send(ctx, http.MethodGet, target, path, params)
}

// Post sends a signed POST request to target.
func (c *Client) Post(ctx context.Context, target *domain.Record, path string, params secure.Params) (*Response, error) {
	return c.Send(ctx, http.MethodPost, target, path, params)
}

// Put sends a signed PUT request to target.
func (c *Client) Put(ctx context.Context, target *domain.Record, path string, params secure.Params) (*Response, error) {
	return c.Send(ctx, http.MethodPut, target, path, params)
}

// Delete sends a signed DELETE request to target.
func (c *Client) Delete(ctx context.Context, target *domain.Record, path string, params secure.Params) (*Response, error) {
	return c.Send(ctx, http.MethodDelete, target, path, params)
}

// Send signs and sends a request with verb to path on target.
//
// The parameters realm (target realm) and service (this UUID) are added
// unless params already sets them. A Connector without secret is contacted
// with the secret of this service; any other target with its own secret.
func (c *Client) Send(ctx context.Context, verb string, target *domain.Record, path string, params secure.Params) (*Response, error) {
	if target == nil {
		return nil, &domain.ServiceError{Msg: "Service required"}
	}
	if target.URL == "" {
		return nil, &domain.ServiceError{Msg: "URL of service required"}
	}
	if c.this == nil {
		return nil, &domain.ConfigurationError{Msg: "This service has not been configured yet. Use your Connector to set it up."}
	}
	this, err := c.this.This(ctx)
	if err != nil {
		return nil, err
	}

	merged := secure.Params{
		"realm":   target.RealmUUID,
		"service": this.UUID,
	}
	for k, v := range params {
		merged[k] = v
	}

	key := target.Secret
	if target.IsConnector() && target.Secret == "" {
		key = this.Secret
	}
	if key == "" {
		return nil, &domain.ServiceError{Msg: "Secret of service required"}
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.Do(ctx, verb, target.URL+path, merged, key)
}

// Do signs params with key and sends them to the absolute rawURL.
func (c *Client) Do(ctx context.Context, verb, rawURL string, params secure.Params, key string) (*Response, error) {
	signed, err := secure.SignRequest(verb, rawURL, params, key)
	if err != nil {
		return nil, &RequestError{Op: strings.ToUpper(verb), URL: rawURL, Err: err}
	}

	var body io.Reader
	if signed.Body != nil {
		body = bytes.NewReader(signed.Body)
	}
	req, err := http.NewRequestWithContext(ctx, signed.Method, signed.URL, body)
	if err != nil {
		return nil, &RequestError{Op: signed.Method, URL: rawURL, Err: err}
	}
	if signed.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.roundTrip(req, rawURL)
}

// FetchJSON issues an unauthenticated GET to rawURL.
func (c *Client) FetchJSON(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &RequestError{Op: http.MethodGet, URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	return c.roundTrip(req, rawURL)
}

func (c *Client) roundTrip(req *http.Request, displayURL string) (*Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			logger.String("method", req.Method),
			logger.String("url", displayURL),
			logger.Duration("duration", time.Since(start)),
			logger.Error(err))
		return nil, &RequestError{Op: req.Method, URL: displayURL, Err: err}
	}
	defer utils.Close(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &RequestError{Op: req.Method, URL: displayURL, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("request sent",
		logger.String("method", req.Method),
		logger.String("url", displayURL),
		logger.Int("status", resp.StatusCode),
		logger.Duration("duration", time.Since(start)))

	return newResponse(resp, raw), nil
}

// Response is a received HTTP response with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Data is the decoded JSON body, or nil when the body is not JSON.
	Data any
}

func newResponse(resp *http.Response, raw []byte) *Response {
	r := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
	}
	var data any
	if err := json.Unmarshal(raw, &data); err == nil {
		r.Data = data
	}
	return r
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON returns the body as a JSON object, or nil.
func (r *Response) JSON() map[string]any {
	m, _ := r.Data.(map[string]any)
	return m
}

// Field returns the string value of key in a JSON object body.
func (r *Response) Field(key string) string {
	s, _ := r.JSON()[key].(string)
	return s
}

func (r *Response) String() string {
	return string(r.Body)
}
