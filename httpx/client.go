package httpx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// StatusError is returned for non-2xx responses so callers can branch on the
// code without parsing messages.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// RestClient is the part of resty.Client that WithRestyConfig hooks may touch.
type RestClient interface {
	SetHeader(key, value string) RestClient
	SetTimeout(d time.Duration) RestClient
}

type restyHook struct{ c *resty.Client }

func (r restyHook) SetHeader(key, value string) RestClient {
	r.c.SetHeader(key, value)
	return r
}

func (r restyHook) SetTimeout(d time.Duration) RestClient {
	r.c.SetTimeout(d)
	return r
}

// Client is a JSON HTTP client on resty.
type Client struct {
	resty *resty.Client
}

func NewClient(opts ...ClientOption) *Client {
	cfg := defaultClientOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeaders(cfg.Headers)
	if cfg.BaseURL != "" {
		rc.SetBaseURL(cfg.BaseURL)
	}
	if cfg.Retries > 0 {
		// Only transport failures and 5xx answers are retried; a 4xx is a
		// verdict, not an outage.
		rc.SetRetryCount(cfg.Retries).
			SetRetryWaitTime(cfg.RetryWait).
			SetRetryMaxWaitTime(4 * cfg.RetryWait).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				return err != nil || (resp != nil && resp.StatusCode() >= 500)
			})
	}
	if cfg.RestyConfig != nil {
		cfg.RestyConfig(restyHook{rc})
	}
	return &Client{resty: rc}
}

type RequestOption func(*resty.Request)

func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(headers) > 0 {
			r.SetHeaders(headers)
		}
	}
}

func WithQuery(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(params) > 0 {
			r.SetQueryParams(params)
		}
	}
}

// WithBearer sets Authorization: Bearer <token>. Blank tokens are ignored.
func WithBearer(token string) RequestOption {
	return func(r *resty.Request) {
		if token = strings.TrimSpace(token); token != "" {
			r.SetAuthScheme("Bearer").SetAuthToken(token)
		}
	}
}

// WithRequestID forwards a request id to the upstream service.
func WithRequestID(id string) RequestOption {
	return func(r *resty.Request) {
		if id != "" {
			r.SetHeader("X-Request-Id", id)
		}
	}
}

func (c *Client) Get(ctx context.Context, path string, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodGet, path, nil, result, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodPost, path, body, result, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodPut, path, body, result, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodDelete, path, nil, result, opts...)
}

// do returns *StatusError for non-2xx responses; the response is returned
// either way.
func (c *Client) do(ctx context.Context, method, path string, body, result any, opts ...RequestOption) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return resp, err
	}
	if resp.IsError() {
		return resp, &StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return resp, nil
}
