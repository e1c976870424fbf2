package httpx

import (
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4/middleware"
)

// HTTPErrorHandler renders a handler error onto the response.
type HTTPErrorHandler func(error, Context)

// ServerOptions configures NewServer. Zero durations disable the matching
// http.Server timeout.
type ServerOptions struct {
	Address           string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// BodyLimit caps request bodies, e.g. "64K". Empty means no limit.
	BodyLimit    string
	Middlewares  []MiddlewareFunc
	ErrorHandler HTTPErrorHandler
	Validators   []Validator
	CORS         *middleware.CORSConfig
	Logger       *slog.Logger
}

type ServerOption func(*ServerOptions)

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Address:           ":8080",
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       time.Minute,
		BodyLimit:         "64K",
		Middlewares:       []MiddlewareFunc{RecoverMiddleware(), RequestIDMiddleware()},
		ErrorHandler:      defaultHTTPErrorHandler,
	}
}

func WithAddress(addr string) ServerOption {
	return func(o *ServerOptions) {
		if addr != "" {
			o.Address = addr
		}
	}
}

// WithTimeouts sets the read and write timeouts; zero keeps the default.
// Hijacked connections such as WebSockets clear their own deadlines.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

func WithIdleTimeout(d time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if d > 0 {
			o.IdleTimeout = d
		}
	}
}

// WithBodyLimit caps request bodies using echo's size syntax ("64K", "1M").
func WithBodyLimit(limit string) ServerOption {
	return func(o *ServerOptions) {
		o.BodyLimit = strings.TrimSpace(limit)
	}
}

// WithMiddlewares replaces the default recover and request-id stack.
func WithMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) > 0 {
			o.Middlewares = append([]MiddlewareFunc(nil), mw...)
		}
	}
}

// AppendMiddlewares keeps the defaults and adds mw after them.
func AppendMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		o.Middlewares = append(o.Middlewares, mw...)
	}
}

func WithErrorHandler(handler HTTPErrorHandler) ServerOption {
	return func(o *ServerOptions) {
		if handler != nil {
			o.ErrorHandler = handler
		}
	}
}

// WithLogger enables one structured log line per request.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithValidators runs v in order before every route handler.
func WithValidators(v ...Validator) ServerOption {
	return func(o *ServerOptions) {
		o.Validators = append(o.Validators, v...)
	}
}

// WithCORS enables CORS. A nil cfg uses DefaultCORSConfig.
func WithCORS(cfg *middleware.CORSConfig) ServerOption {
	return func(o *ServerOptions) {
		if cfg == nil {
			def := DefaultCORSConfig
			cfg = &def
		}
		o.CORS = cfg
	}
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	BaseURL     string
	Timeout     time.Duration
	Headers     map[string]string
	Retries     int
	RetryWait   time.Duration
	RestyConfig func(RestClient)
}

type ClientOption func(*ClientOptions)

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:   10 * time.Second,
		Headers:   map[string]string{"Content-Type": "application/json", "Accept": "application/json"},
		RetryWait: 100 * time.Millisecond,
	}
}

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		if url != "" {
			o.BaseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHeaders adds default headers to every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

// WithRetries retries transport errors and 5xx responses n times, backing off
// from wait.
func WithRetries(n int, wait time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if n >= 0 {
			o.Retries = n
		}
		if wait > 0 {
			o.RetryWait = wait
		}
	}
}

// WithRestyConfig runs fn against the underlying client after the options
// above are applied.
func WithRestyConfig(fn func(RestClient)) ClientOption {
	return func(o *ClientOptions) {
		o.RestyConfig = fn
	}
}
