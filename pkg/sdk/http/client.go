package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/pkg/ratelimit"
)

var log = logrus.WithField("component", "http_client")

// Envelope 后端统一响应信封
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// TokenSource 返回当前 bearer token（为空则不带 Authorization 头）
type TokenSource func() string

// Client REST 客户端：信封解码 + bearer 认证 + 读请求重试 + 客户端限流
type Client struct {
	// reads 带重试；writes 不重试（下单/撤单不是幂等操作）
	reads  *resty.Client
	writes *resty.Client

	limiter ratelimit.Limiter

	tokenMu sync.RWMutex
	token   TokenSource
}

// Option 客户端配置项
type Option func(*options)

type options struct {
	timeout       time.Duration
	retryCount    int
	retryWait     time.Duration
	retryMaxWait  time.Duration
	limiter       ratelimit.Limiter
	token         TokenSource
	httpTransport http.RoundTripper
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithRetry(count int, wait, maxWait time.Duration) Option {
	return func(o *options) {
		o.retryCount = count
		o.retryWait = wait
		o.retryMaxWait = maxWait
	}
}

func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

func WithTokenSource(ts TokenSource) Option {
	return func(o *options) { o.token = ts }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.httpTransport = rt }
}

func NewClient(host string, opts ...Option) *Client {
	host = strings.TrimRight(host, "/")

	o := &options{
		timeout:      30 * time.Second,
		retryCount:   3,
		retryWait:    500 * time.Millisecond,
		retryMaxWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Client{
		reads:   newResty(host, o, o.retryCount),
		writes:  newResty(host, o, 0),
		limiter: o.limiter,
		token:   o.token,
	}
}

// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
func newResty(host string, o *options, retries int) *resty.Client {
	c := resty.New().
		SetBaseURL(host).
		SetTimeout(o.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tradesync/1.0")
	if o.httpTransport != nil {
		c.SetTransport(o.httpTransport)
	}
	if retries > 0 {
		c.SetRetryCount(retries).
			SetRetryWaitTime(o.retryWait).
			SetRetryMaxWaitTime(o.retryMaxWait).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				if err != nil || resp == nil {
					return true
				}
				code := resp.StatusCode()
				return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
			})
	}
	return c
}

// SetTokenSource 设置 token 来源（组合根在 SessionStore 创建后注入）
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokenMu.Lock()
	c.token = ts
	c.tokenMu.Unlock()
}

func (c *Client) bearer() string {
	c.tokenMu.RLock()
	ts := c.token
	c.tokenMu.RUnlock()
	if ts == nil {
		return ""
	}
	return ts()
}

// Get 发送 GET 请求并把信封 data 解码到 out
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post 发送 POST 请求并把信封 data 解码到 out
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Method: method, Path: path, Err: errors.Wrap(err, "rate limit wait")}
		}
	}

	rc := c.reads
	if method != http.MethodGet {
		rc = c.writes
	}

	requestID := uuid.NewString()
	var env, errEnv Envelope
	r := rc.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetResult(&env).
		SetError(&errEnv)
	if token := c.bearer(); token != "" {
		r.SetAuthToken(token)
	}
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = r.Get(path)
	case http.MethodPost:
		resp, err = r.Post(path)
	default:
		return fmt.Errorf("unsupported method: %s", method)
	}

	entry := log.WithFields(logrus.Fields{"method": method, "path": path, "request_id": requestID})
	if err != nil {
		entry.Debugf("request failed: %v", err)
		return &TransportError{Method: method, Path: path, Err: err}
	}
	if resp.IsError() {
		msg := errEnv.Message
		if msg == "" {
			msg = strings.TrimSpace(string(resp.Body()))
		}
		if msg == "" {
			msg = resp.Status()
		}
		entry.Debugf("http non-2xx: %d %s", resp.StatusCode(), msg)
		return &TransportError{Method: method, Path: path, StatusCode: resp.StatusCode(), Message: msg}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request was not successful"
		}
		entry.Debugf("envelope success=false: %s", msg)
		return &TransportError{Method: method, Path: path, StatusCode: resp.StatusCode(), Message: msg}
	}

	if out == nil || len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransportError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Err:        errors.Wrap(err, "decode response data"),
		}
	}
	return nil
}

