package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Validator runs before route handlers; return an error to stop the pipeline.
type Validator func(Context) error

// RouteRegistrar mounts a set of routes on an App.
type RouteRegistrar func(*App)

// Server owns an App plus the http.Server settings used to serve it.
type Server struct {
	app      *App
	cfg      ServerOptions
	shutdown time.Duration

	mu    sync.Mutex
	bound string
}

type StartOption func(*Server)

func WithShutdownTimeout(d time.Duration) StartOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdown = d
		}
	}
}

func NewServer(opts ...ServerOption) *Server {
	cfg := defaultServerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	app := New()
	app.e.HTTPErrorHandler = func(err error, c echo.Context) { cfg.ErrorHandler(err, c) }

	// Order matters: recovery and request ids first, so the logger sees both.
	app.Use(cfg.Middlewares...)
	if cfg.Logger != nil {
		app.Use(LoggerMiddleware(cfg.Logger))
	}
	if cfg.CORS != nil {
		app.Use(CORSMiddleware(cfg.CORS))
	}
	if cfg.BodyLimit != "" {
		app.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if len(cfg.Validators) > 0 {
		app.Use(validatorMiddleware(cfg.Validators...))
	}

	return &Server{app: app, cfg: cfg, shutdown: 5 * time.Second}
}

func (s *Server) RegisterRoutes(reg RouteRegistrar) {
	if reg != nil {
		reg(s.app)
	}
}

func (s *Server) Handler() http.Handler { return s.app }

// Address reports the bound listen address once Start is running, and the
// configured one before that.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.cfg.Address
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, opts ...StartOption) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("httpx: listen %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln, opts...)
}

// Serve serves on ln until ctx is cancelled, then drains in-flight requests
// for at most the shutdown timeout. It returns ctx.Err() after a clean
// shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener, opts ...StartOption) error {
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.app,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("httpx: shutdown: %w", err)
	}
	return ctx.Err()
}

func defaultHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := StatusInternalError, http.StatusText(StatusInternalError)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		switch m := he.Message.(type) {
		case nil:
			msg = http.StatusText(code)
		case string:
			msg = m
		case error:
			msg = m.Error()
		default:
			msg = fmt.Sprint(m)
		}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]any{"error": msg})
}

func validatorMiddleware(v ...Validator) MiddlewareFunc {
	checks := make([]Validator, 0, len(v))
	for _, fn := range v {
		if fn != nil {
			checks = append(checks, fn)
		}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			for _, check := range checks {
				if err := check(c); err != nil {
					return err
				}
			}
			return next(c)
		}
	}
}
